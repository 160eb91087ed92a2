package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gridsight/thermotrace/internal/common"
)

type AnnotationRepository interface {
	Insert(ctx context.Context, rec *AnnotationRecord) error
	InsertBatch(ctx context.Context, recs []*AnnotationRecord) error
	Update(ctx context.Context, rec *AnnotationRecord) error
	// GetByID returns the record regardless of active flag (audit reads).
	GetByID(ctx context.Context, id uuid.UUID) (*AnnotationRecord, error)
	// FindActiveByImage excludes soft-deleted records.
	FindActiveByImage(ctx context.Context, imageID uuid.UUID) ([]*AnnotationRecord, error)
	// FindByImage returns every record including soft-deleted ones.
	FindByImage(ctx context.Context, imageID uuid.UUID) ([]*AnnotationRecord, error)
	FindActiveByInspection(ctx context.Context, inspectionID string) ([]*AnnotationRecord, error)
}

type annotationRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewAnnotationRepository(db *gorm.DB, logger *slog.Logger) AnnotationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &annotationRepository{db: db, logger: logger}
}

func (r *annotationRepository) Insert(ctx context.Context, rec *AnnotationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		r.logger.Error("failed to insert annotation", "image_id", rec.ImageID, "error", err)
		return err
	}
	return nil
}

// InsertBatch writes a detection run's records in one transaction so a
// partial failure leaves nothing behind.
func (r *annotationRepository) InsertBatch(ctx context.Context, recs []*AnnotationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			if err := tx.Create(rec).Error; err != nil {
				r.logger.Error("failed to insert annotation batch", "image_id", rec.ImageID, "error", err)
				return err
			}
		}
		return nil
	})
}

func (r *annotationRepository) Update(ctx context.Context, rec *AnnotationRecord) error {
	// Save writes all fields; IsActive=false must persist, so zero values
	// cannot be skipped here.
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		r.logger.Error("failed to update annotation", "id", rec.ID, "error", err)
		return err
	}
	return nil
}

func (r *annotationRepository) GetByID(ctx context.Context, id uuid.UUID) (*AnnotationRecord, error) {
	var rec AnnotationRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *annotationRepository) FindActiveByImage(ctx context.Context, imageID uuid.UUID) ([]*AnnotationRecord, error) {
	var recs []*AnnotationRecord
	err := r.db.WithContext(ctx).
		Where("image_id = ? AND is_active = ?", imageID, true).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		r.logger.Error("failed to find active annotations", "image_id", imageID, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *annotationRepository) FindByImage(ctx context.Context, imageID uuid.UUID) ([]*AnnotationRecord, error) {
	var recs []*AnnotationRecord
	err := r.db.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		r.logger.Error("failed to find annotations", "image_id", imageID, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *annotationRepository) FindActiveByInspection(ctx context.Context, inspectionID string) ([]*AnnotationRecord, error) {
	var recs []*AnnotationRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN image_records ON image_records.id = annotation_records.image_id").
		Where("image_records.inspection_id = ? AND annotation_records.is_active = ?", inspectionID, true).
		Order("annotation_records.created_at").
		Find(&recs).Error
	if err != nil {
		r.logger.Error("failed to find annotations by inspection", "inspection_id", inspectionID, "error", err)
		return nil, err
	}
	return recs, nil
}
