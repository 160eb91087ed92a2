// Package export produces the retraining dataset from reviewed annotations
// and the audit exports of annotation history.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/annotation"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/imagestore"
	"github.com/gridsight/thermotrace/internal/imgproc"
	"github.com/gridsight/thermotrace/internal/repository"
)

// ExportStageError is a per-image failure during a dataset export run. It is
// recorded in the summary and does not abort the batch.
type ExportStageError struct {
	ImageID uuid.UUID
	Stage   constants.ExportStage
	Cause   error
}

func (e *ExportStageError) Error() string {
	return fmt.Sprintf("export of image %s failed at %s: %v", e.ImageID, e.Stage, e.Cause)
}

func (e *ExportStageError) Unwrap() error { return e.Cause }

// ItemError is one per-image failure entry in the run summary.
type ItemError struct {
	ImageID uuid.UUID             `json:"imageId"`
	Stage   constants.ExportStage `json:"stage"`
	Message string                `json:"message"`
}

// Summary is the machine-readable result of one export run.
type Summary struct {
	RunID       uuid.UUID   `json:"runId"`
	TotalImages int         `json:"totalImages"`
	Skipped     int         `json:"skipped"`
	Exported    int         `json:"exported"`
	Errors      []ItemError `json:"errors"`
}

// DatasetExporter assembles crop/label pairs for detector retraining.
// Labels are re-normalized to the segmented crop: the geometry the model
// trains against, never the raw stored original-image box.
type DatasetExporter struct {
	images      repository.ImageRepository
	annotations repository.AnnotationRepository
	exports     repository.ExportRepository
	segmenter   capability.Segmenter
	store       imagestore.Store
	outputDir   string
	policy      constants.ExportPolicy
	logger      *slog.Logger
}

func NewDatasetExporter(
	images repository.ImageRepository,
	annotations repository.AnnotationRepository,
	exports repository.ExportRepository,
	segmenter capability.Segmenter,
	store imagestore.Store,
	outputDir string,
	policy constants.ExportPolicy,
	logger *slog.Logger,
) *DatasetExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetExporter{
		images:      images,
		annotations: annotations,
		exports:     exports,
		segmenter:   segmenter,
		store:       store,
		outputDir:   outputDir,
		policy:      policy,
		logger:      logger,
	}
}

// Run exports every eligible maintenance image. Per-image failures are
// recorded and skipped; the batch only stops on cancellation or a broken
// export registry. Re-running after a crash or cancellation is safe: pairs
// already exported with an unchanged annotation set are skipped.
func (e *DatasetExporter) Run(ctx context.Context) (*Summary, error) {
	run, err := e.exports.CreateRun(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{RunID: run.ID, Errors: []ItemError{}}

	images, err := e.images.ListByRole(ctx, string(constants.RoleMaintenance))
	if err != nil {
		return nil, err
	}
	summary.TotalImages = len(images)

	start := time.Now()
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-run: already-written pairs are complete, the
			// registry reflects them, and the next run picks up the rest.
			e.finish(context.WithoutCancel(ctx), run, summary)
			return summary, err
		}
		e.exportOne(ctx, run.ID, img, summary)
	}

	e.finish(ctx, run, summary)
	e.logger.Info("export.run.ok",
		"run_id", run.ID,
		"total", summary.TotalImages,
		"skipped", summary.Skipped,
		"exported", summary.Exported,
		"failed", len(summary.Errors),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (e *DatasetExporter) finish(ctx context.Context, run *repository.ExportRun, summary *Summary) {
	run.Total = summary.TotalImages
	run.Skipped = summary.Skipped
	run.Exported = summary.Exported
	run.Failed = len(summary.Errors)
	if err := e.exports.FinishRun(ctx, run); err != nil {
		e.logger.Error("export.run.finish_failed", "run_id", run.ID, "error", err)
	}
}

func (e *DatasetExporter) exportOne(ctx context.Context, runID uuid.UUID, img *repository.ImageRecord, summary *Summary) {
	active, err := e.annotations.FindActiveByImage(ctx, img.ID)
	if err != nil {
		e.recordFailure(ctx, runID, img.ID, "", summary, &ExportStageError{
			ImageID: img.ID, Stage: constants.StageRegistry, Cause: err,
		})
		return
	}
	if len(active) == 0 {
		e.recordSkip(ctx, runID, img.ID, "", summary, "no active annotations")
		return
	}

	setHash := annotation.ComputeSetHash(active)
	if e.policy == constants.ExportSkipExisting {
		done, err := e.exports.WasExported(ctx, img.ID, setHash)
		if err != nil {
			e.recordFailure(ctx, runID, img.ID, setHash, summary, &ExportStageError{
				ImageID: img.ID, Stage: constants.StageRegistry, Cause: err,
			})
			return
		}
		if done {
			e.recordSkip(ctx, runID, img.ID, setHash, summary, "already exported")
			return
		}
	}

	if stageErr := e.writePair(ctx, img, active); stageErr != nil {
		e.recordFailure(ctx, runID, img.ID, setHash, summary, stageErr)
		return
	}

	summary.Exported++
	e.recordItem(ctx, &repository.ExportItem{
		RunID: runID, ImageID: img.ID, SetHash: setHash, Status: repository.ExportItemExported,
	})
}

// writePair re-segments the image, converts every active annotation into a
// crop-normalized label, and writes the crop/label pair atomically.
func (e *DatasetExporter) writePair(ctx context.Context, img *repository.ImageRecord, active []*repository.AnnotationRecord) *ExportStageError {
	imageBytes, err := e.store.Get(ctx, img.StoragePath)
	if err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageSegmentation, Cause: err}
	}
	decoded, err := imgproc.Decode(imageBytes)
	if err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageSegmentation, Cause: err}
	}

	// The export must use the same geometry the model trains against: the
	// current segmented crop, not the full frame.
	seg, err := e.segmenter.Segment(ctx, imageBytes)
	if err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageSegmentation, Cause: err}
	}
	if !seg.Found {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageSegmentation, Cause: errors.New("no subject detected")}
	}
	cropped, offset, cropSize, err := imgproc.CropROI(decoded, seg.Region)
	if err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageSegmentation, Cause: err}
	}

	var labels strings.Builder
	for _, rec := range active {
		orig := geometry.Box{X1: rec.X1, Y1: rec.Y1, X2: rec.X2, Y2: rec.Y2}
		inCrop, err := geometry.ToCropSpace(orig, cropSize, offset)
		if err != nil {
			return &ExportStageError{ImageID: img.ID, Stage: constants.StageLabelConversion, Cause: err}
		}
		label, err := geometry.NormalizeToCrop(inCrop, cropSize)
		if err != nil {
			return &ExportStageError{ImageID: img.ID, Stage: constants.StageLabelConversion, Cause: err}
		}
		fmt.Fprintf(&labels, "%d %.6f %.6f %.6f %.6f\n",
			rec.ClassID, label.CenterX, label.CenterY, label.Width, label.Height)
	}

	cropBytes, err := imgproc.EncodeJPEG(cropped, 95)
	if err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageWrite, Cause: err}
	}

	imagePath := filepath.Join(e.outputDir, "images", img.ID.String()+".jpg")
	labelPath := filepath.Join(e.outputDir, "labels", img.ID.String()+".txt")
	if err := writeAtomicPair(imagePath, cropBytes, labelPath, []byte(labels.String())); err != nil {
		return &ExportStageError{ImageID: img.ID, Stage: constants.StageWrite, Cause: err}
	}
	return nil
}

func (e *DatasetExporter) recordSkip(ctx context.Context, runID, imageID uuid.UUID, setHash string, summary *Summary, reason string) {
	summary.Skipped++
	e.recordItem(ctx, &repository.ExportItem{
		RunID: runID, ImageID: imageID, SetHash: setHash,
		Status: repository.ExportItemSkipped, Message: reason,
	})
}

func (e *DatasetExporter) recordFailure(ctx context.Context, runID, imageID uuid.UUID, setHash string, summary *Summary, stageErr *ExportStageError) {
	e.logger.Warn("export.image.failed", "image_id", imageID, "stage", stageErr.Stage, "error", stageErr.Cause)
	summary.Errors = append(summary.Errors, ItemError{
		ImageID: imageID, Stage: stageErr.Stage, Message: stageErr.Cause.Error(),
	})
	e.recordItem(ctx, &repository.ExportItem{
		RunID: runID, ImageID: imageID, SetHash: setHash,
		Status: repository.ExportItemFailed, Stage: string(stageErr.Stage), Message: stageErr.Cause.Error(),
	})
}

func (e *DatasetExporter) recordItem(ctx context.Context, item *repository.ExportItem) {
	if err := e.exports.RecordItem(ctx, item); err != nil {
		e.logger.Error("export.item.record_failed", "image_id", item.ImageID, "error", err)
	}
}

// writeAtomicPair writes both files via temp+rename; if either fails the
// partial sibling is removed so a pair is never half-present.
func writeAtomicPair(imagePath string, imageData []byte, labelPath string, labelData []byte) error {
	if err := writeAtomic(imagePath, imageData); err != nil {
		return err
	}
	if err := writeAtomic(labelPath, labelData); err != nil {
		_ = os.Remove(imagePath)
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
