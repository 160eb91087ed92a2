// Package annotation owns the annotation entity: its provenance state
// machine and every mutation that touches a persisted record.
package annotation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/detection"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/repository"
)

// manualDefaultConfidence is stored on reviewer-drawn boxes when the
// operator does not assign one. It is not model-calibrated.
const manualDefaultConfidence = 1.0

// Service governs annotation records. All writes pass through here so the
// provenance transitions and box invariants cannot be bypassed.
type Service struct {
	repo     repository.AnnotationRepository
	minBoxPx float64
	locks    recordLocks
	logger   *slog.Logger
}

func NewService(repo repository.AnnotationRepository, minManualBoxPx float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, minBoxPx: minManualBoxPx, logger: logger}
}

// CreateFromDetections materializes a detection run into AUTO_DETECTED
// records. The batch is transactional: a partial failure writes nothing.
func (s *Service) CreateFromDetections(ctx context.Context, imageID uuid.UUID, dets []detection.Detection) ([]*repository.AnnotationRecord, error) {
	recs := make([]*repository.AnnotationRecord, 0, len(dets))
	for _, d := range dets {
		if err := d.Box.Validate(); err != nil {
			return nil, err
		}
		name, ok := constants.ClassNameForID(d.ClassID)
		if !ok {
			return nil, common.NewValidationError("classId", "unknown class id %d", d.ClassID)
		}
		recs = append(recs, &repository.AnnotationRecord{
			ID:         uuid.New(),
			ImageID:    imageID,
			ClassID:    d.ClassID,
			ClassName:  name,
			Confidence: d.Confidence,
			X1:         d.Box.X1,
			Y1:         d.Box.Y1,
			X2:         d.Box.X2,
			Y2:         d.Box.Y2,
			Provenance: string(constants.ProvenanceAutoDetected),
			IsActive:   true,
			CreatedBy:  "pipeline",
			UpdatedBy:  "pipeline",
		})
	}
	if err := s.repo.InsertBatch(ctx, recs); err != nil {
		return nil, err
	}
	s.logger.Info("annotation.create_from_detections.ok", "image_id", imageID, "count", len(recs))
	return recs, nil
}

// CreateManual persists a reviewer-drawn box as USER_ADDED. Boxes under the
// minimum pixel size are rejected as noise.
func (s *Service) CreateManual(ctx context.Context, imageID uuid.UUID, box geometry.Box, classID int, confidence *float64, comment, userID string) (*repository.AnnotationRecord, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if box.Width() < s.minBoxPx || box.Height() < s.minBoxPx {
		return nil, common.NewValidationError("box", "box %.0fx%.0f is below the minimum size %.0fx%.0f",
			box.Width(), box.Height(), s.minBoxPx, s.minBoxPx)
	}
	name, ok := constants.ClassNameForID(classID)
	if !ok {
		return nil, common.NewValidationError("classId", "unknown class id %d", classID)
	}

	conf := manualDefaultConfidence
	if confidence != nil {
		if *confidence < 0 || *confidence > 1 {
			return nil, common.NewValidationError("confidence", "must be in [0,1], got %g", *confidence)
		}
		conf = *confidence
	}

	rec := &repository.AnnotationRecord{
		ID:         uuid.New(),
		ImageID:    imageID,
		ClassID:    classID,
		ClassName:  name,
		Confidence: conf,
		X1:         box.X1,
		Y1:         box.Y1,
		X2:         box.X2,
		Y2:         box.Y2,
		Provenance: string(constants.ProvenanceUserAdded),
		Comment:    comment,
		IsActive:   true,
		CreatedBy:  userID,
		UpdatedBy:  userID,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("annotation.create_manual.ok", "image_id", imageID, "annotation_id", rec.ID, "user_id", userID)
	return rec, nil
}

// Edit applies a geometry and/or class change. Any edit moves the record to
// USER_EDITED; an AUTO_DETECTED record never regresses back.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, newBox *geometry.Box, newClassID *int, comment *string, userID string) (*repository.AnnotationRecord, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, common.NewValidationError("id", "annotation %s is deleted", id)
	}
	if newBox == nil && newClassID == nil && comment == nil {
		return nil, common.NewValidationError("request", "no changes supplied")
	}

	if newBox != nil {
		if err := newBox.Validate(); err != nil {
			return nil, err
		}
		rec.X1, rec.Y1, rec.X2, rec.Y2 = newBox.X1, newBox.Y1, newBox.X2, newBox.Y2
	}
	if newClassID != nil {
		// The class name is always re-resolved from the taxonomy; a
		// caller-supplied name is never trusted.
		name, ok := constants.ClassNameForID(*newClassID)
		if !ok {
			return nil, common.NewValidationError("classId", "unknown class id %d", *newClassID)
		}
		rec.ClassID = *newClassID
		rec.ClassName = name
	}
	if comment != nil {
		rec.Comment = *comment
	}

	rec.Provenance = string(constants.ProvenanceUserEdited)
	rec.UpdatedBy = userID
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("annotation.edit.ok", "annotation_id", id, "user_id", userID)
	return rec, nil
}

// Confirm accepts a machine detection unchanged, moving AUTO_DETECTED to
// USER_CONFIRMED. Confirming an already human-tier record is a no-op.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, userID string) (*repository.AnnotationRecord, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, common.NewValidationError("id", "annotation %s is deleted", id)
	}
	if constants.Provenance(rec.Provenance).IsHuman() {
		return rec, nil
	}

	rec.Provenance = string(constants.ProvenanceUserConfirmed)
	rec.UpdatedBy = userID
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("annotation.confirm.ok", "annotation_id", id, "user_id", userID)
	return rec, nil
}

// SoftDelete deactivates a record. Provenance is preserved and the row is
// retained for audit.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, userID string) (*repository.AnnotationRecord, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return rec, nil
	}

	rec.IsActive = false
	rec.UpdatedBy = userID
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("annotation.soft_delete.ok", "annotation_id", id, "user_id", userID)
	return rec, nil
}

// GetByID returns a record regardless of active flag, for audit reads.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*repository.AnnotationRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// ActiveByImage lists non-deleted records for an image.
func (s *Service) ActiveByImage(ctx context.Context, imageID uuid.UUID) ([]*repository.AnnotationRecord, error) {
	return s.repo.FindActiveByImage(ctx, imageID)
}

// AllByImage lists every record for an image including soft-deleted ones.
func (s *Service) AllByImage(ctx context.Context, imageID uuid.UUID) ([]*repository.AnnotationRecord, error) {
	return s.repo.FindByImage(ctx, imageID)
}

// SeverityTally counts active annotations on an image per triage severity.
func (s *Service) SeverityTally(ctx context.Context, imageID uuid.UUID) (map[constants.Severity]int, error) {
	recs, err := s.repo.FindActiveByImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	tally := make(map[constants.Severity]int)
	for _, rec := range recs {
		tally[constants.SeverityForClassID(rec.ClassID)]++
	}
	return tally, nil
}

// ComputeSetHash derives a stable digest of an annotation set. The dataset
// exporter uses (imageID, hash) as its idempotence key: any geometry, class,
// or active-flag change produces a new hash.
func ComputeSetHash(recs []*repository.AnnotationRecord) string {
	ids := make([]string, 0, len(recs))
	byID := make(map[string]*repository.AnnotationRecord, len(recs))
	for _, rec := range recs {
		key := rec.ID.String()
		ids = append(ids, key)
		byID[key] = rec
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		rec := byID[id]
		fmt.Fprintf(h, "%s|%d|%.6f|%.6f|%.6f|%.6f|%s|%t\n",
			id, rec.ClassID, rec.X1, rec.Y1, rec.X2, rec.Y2, rec.Provenance, rec.IsActive)
	}
	return hex.EncodeToString(h.Sum(nil))
}
