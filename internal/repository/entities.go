package repository

import (
	"time"

	"github.com/google/uuid"
)

// ImageRecord identifies one stored thermal image. Rows are immutable once
// uploaded; an annotated derivative is a new row pointing back at its source.
type ImageRecord struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TransformerID string     `gorm:"index;not null" json:"transformerId"`
	InspectionID  string     `gorm:"index" json:"inspectionId"`
	StoragePath   string     `gorm:"not null" json:"storagePath"`
	Role          string     `gorm:"index;not null" json:"role"`
	EnvCondition  string     `json:"envCondition"`
	SourceImageID *uuid.UUID `gorm:"type:uuid" json:"sourceImageId,omitempty"`
	WidthPx       int        `json:"widthPx"`
	HeightPx      int        `json:"heightPx"`
	UploadedAt    time.Time  `gorm:"autoCreateTime" json:"uploadedAt"`
}

// AnnotationRecord is the durable unit of defect knowledge for one image.
// Box corners are in original-image pixel space; center and extent are
// derived on read, never stored.
type AnnotationRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ImageID    uuid.UUID `gorm:"type:uuid;index;not null" json:"imageId"`
	ClassID    int       `gorm:"not null" json:"classId"`
	ClassName  string    `gorm:"not null" json:"className"`
	Confidence float64   `json:"confidence"`
	X1         float64   `json:"x1"`
	Y1         float64   `json:"y1"`
	X2         float64   `json:"x2"`
	Y2         float64   `json:"y2"`
	Provenance string    `gorm:"index;not null" json:"provenance"`
	Comment    string    `json:"comment"`
	IsActive   bool      `gorm:"index;not null;default:true" json:"isActive"`
	CreatedBy  string    `json:"createdBy"`
	UpdatedBy  string    `json:"updatedBy"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// ExportRun is one dataset-export batch.
type ExportRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	StartedAt  time.Time  `gorm:"autoCreateTime" json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Total      int        `json:"total"`
	Skipped    int        `json:"skipped"`
	Exported   int        `json:"exported"`
	Failed     int        `json:"failed"`
}

// ExportItem records the outcome for one image within a run. The pair
// (ImageID, SetHash) with status EXPORTED is the idempotence key: an
// unchanged annotation set is never exported twice.
type ExportItem struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     uuid.UUID `gorm:"type:uuid;index;not null" json:"runId"`
	ImageID   uuid.UUID `gorm:"type:uuid;index:idx_export_image_hash;not null" json:"imageId"`
	SetHash   string    `gorm:"index:idx_export_image_hash;not null" json:"setHash"`
	Status    string    `gorm:"not null" json:"status"` // EXPORTED | SKIPPED | FAILED
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

const (
	ExportItemExported = "EXPORTED"
	ExportItemSkipped  = "SKIPPED"
	ExportItemFailed   = "FAILED"
)
