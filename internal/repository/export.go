package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ExportRepository interface {
	CreateRun(ctx context.Context) (*ExportRun, error)
	FinishRun(ctx context.Context, run *ExportRun) error
	RecordItem(ctx context.Context, item *ExportItem) error
	// WasExported reports whether an image with this exact annotation-set
	// hash already succeeded in a previous run.
	WasExported(ctx context.Context, imageID uuid.UUID, setHash string) (bool, error)
}

type exportRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewExportRepository(db *gorm.DB, logger *slog.Logger) ExportRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &exportRepository{db: db, logger: logger}
}

func (r *exportRepository) CreateRun(ctx context.Context) (*ExportRun, error) {
	run := &ExportRun{ID: uuid.New()}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		r.logger.Error("failed to create export run", "error", err)
		return nil, err
	}
	return run, nil
}

func (r *exportRepository) FinishRun(ctx context.Context, run *ExportRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		r.logger.Error("failed to finish export run", "run_id", run.ID, "error", err)
		return err
	}
	return nil
}

func (r *exportRepository) RecordItem(ctx context.Context, item *ExportItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		r.logger.Error("failed to record export item", "run_id", item.RunID, "image_id", item.ImageID, "error", err)
		return err
	}
	return nil
}

func (r *exportRepository) WasExported(ctx context.Context, imageID uuid.UUID, setHash string) (bool, error) {
	var item ExportItem
	err := r.db.WithContext(ctx).
		Where("image_id = ? AND set_hash = ? AND status = ?", imageID, setHash, ExportItemExported).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
