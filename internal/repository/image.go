package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gridsight/thermotrace/internal/common"
)

type ImageRepository interface {
	Create(ctx context.Context, rec *ImageRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ImageRecord, error)
	ListByInspection(ctx context.Context, inspectionID string) ([]*ImageRecord, error)
	ListByRole(ctx context.Context, role string) ([]*ImageRecord, error)
	// CreateDerivative inserts an ANNOTATED image row sharing provenance
	// (transformer, inspection, condition) with its source.
	CreateDerivative(ctx context.Context, source *ImageRecord, storagePath string) (*ImageRecord, error)
}

type imageRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewImageRepository(db *gorm.DB, logger *slog.Logger) ImageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &imageRepository{db: db, logger: logger}
}

func (r *imageRepository) Create(ctx context.Context, rec *ImageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		r.logger.Error("failed to create image record", "transformer_id", rec.TransformerID, "error", err)
		return err
	}
	return nil
}

func (r *imageRepository) GetByID(ctx context.Context, id uuid.UUID) (*ImageRecord, error) {
	var rec ImageRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *imageRepository) ListByInspection(ctx context.Context, inspectionID string) ([]*ImageRecord, error) {
	var recs []*ImageRecord
	err := r.db.WithContext(ctx).
		Where("inspection_id = ?", inspectionID).
		Order("uploaded_at").
		Find(&recs).Error
	if err != nil {
		r.logger.Error("failed to list images", "inspection_id", inspectionID, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *imageRepository) ListByRole(ctx context.Context, role string) ([]*ImageRecord, error) {
	var recs []*ImageRecord
	err := r.db.WithContext(ctx).
		Where("role = ?", role).
		Order("uploaded_at").
		Find(&recs).Error
	if err != nil {
		r.logger.Error("failed to list images by role", "role", role, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *imageRepository) CreateDerivative(ctx context.Context, source *ImageRecord, storagePath string) (*ImageRecord, error) {
	derived := &ImageRecord{
		ID:            uuid.New(),
		TransformerID: source.TransformerID,
		InspectionID:  source.InspectionID,
		StoragePath:   storagePath,
		Role:          "ANNOTATED",
		EnvCondition:  source.EnvCondition,
		SourceImageID: &source.ID,
		WidthPx:       source.WidthPx,
		HeightPx:      source.HeightPx,
	}
	if err := r.db.WithContext(ctx).Create(derived).Error; err != nil {
		r.logger.Error("failed to create derivative image record", "source_id", source.ID, "error", err)
		return nil, err
	}
	return derived, nil
}
