package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/repository"
)

// AuditExporter is a small façade over the annotation repository that
// produces bulk exports of annotation history for audit.
type AuditExporter struct {
	annotations repository.AnnotationRepository
	logger      *slog.Logger
}

func NewAuditExporter(annotations repository.AnnotationRepository, logger *slog.Logger) *AuditExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditExporter{annotations: annotations, logger: logger}
}

var auditHeaders = []string{
	"Annotation ID",
	"Image ID",
	"Class",
	"Severity",
	"Confidence",
	"X1", "Y1", "X2", "Y2",
	"Provenance",
	"Active",
	"Comment",
	"Created By",
	"Updated By",
	"Updated At",
}

func auditRow(rec *repository.AnnotationRecord) []string {
	return []string{
		rec.ID.String(),
		rec.ImageID.String(),
		rec.ClassName,
		string(constants.SeverityForClassID(rec.ClassID)),
		strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
		strconv.FormatFloat(rec.X1, 'f', 2, 64),
		strconv.FormatFloat(rec.Y1, 'f', 2, 64),
		strconv.FormatFloat(rec.X2, 'f', 2, 64),
		strconv.FormatFloat(rec.Y2, 'f', 2, 64),
		rec.Provenance,
		strconv.FormatBool(rec.IsActive),
		rec.Comment,
		rec.CreatedBy,
		rec.UpdatedBy,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// AnnotationsXLSX returns a workbook (as bytes) of the inspection's active
// annotation records.
func (s *AuditExporter) AnnotationsXLSX(ctx context.Context, inspectionID string) ([]byte, error) {
	start := time.Now()
	recs, err := s.annotations.FindActiveByInspection(ctx, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Annotations"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range auditHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for rowIdx, rec := range recs {
		for colIdx, v := range auditRow(rec) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	// Widen the identifier and comment columns
	_ = f.SetColWidth(sheet, "A", "B", 38)
	_ = f.SetColWidth(sheet, "C", "C", 24)
	_ = f.SetColWidth(sheet, "L", "L", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.audit_xlsx.ok",
		"inspection_id", inspectionID,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// AnnotationsCSV returns the full annotation history for an image,
// soft-deleted rows included.
func (s *AuditExporter) AnnotationsCSV(ctx context.Context, recs []*repository.AnnotationRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(auditHeaders); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := w.Write(auditRow(rec)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AnnotationsJSON serializes records in the §3 JSON shape.
func (s *AuditExporter) AnnotationsJSON(ctx context.Context, recs []*repository.AnnotationRecord) ([]byte, error) {
	return json.MarshalIndent(recs, "", "  ")
}
