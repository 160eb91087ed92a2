// Package capability models the segmentation and detection models as opaque
// remote functions. Orchestration depends only on these interfaces; the
// concrete model servers are substitutable.
package capability

import (
	"context"
	"fmt"

	"github.com/gridsight/thermotrace/internal/geometry"
)

// Frame declares which reference frame a detector reports boxes in.
// Model servers differ here and guessing corrupts geometry, so each adapter
// states its frame explicitly.
type Frame string

const (
	// FrameCrop means boxes are in crop-pixel coordinates.
	FrameCrop Frame = "crop"
	// FrameModel means boxes are in resized model-input coordinates.
	FrameModel Frame = "model"
)

func ParseFrame(s string) (Frame, error) {
	switch Frame(s) {
	case FrameCrop, FrameModel:
		return Frame(s), nil
	}
	return "", fmt.Errorf("unknown detection frame %q", s)
}

// SegmentResult is the segmentation model's answer for one full image.
type SegmentResult struct {
	// Found is false when no subject is visible; a valid outcome, not an error.
	Found bool
	// Region is the subject's bounding rectangle in original-image pixels.
	Region geometry.Box
	// Polygon is the subject outline in original-image pixels, when the
	// model provides one. Consumers needing only the ROI use Region.
	Polygon [][2]float64
}

// Segmenter locates the primary subject within a full thermal image.
type Segmenter interface {
	Segment(ctx context.Context, imageBytes []byte) (SegmentResult, error)
}

// RawDetection is one box straight from the detection model, in the frame
// the detector declares via ReportsIn.
type RawDetection struct {
	ClassID    int
	Confidence float64
	Box        geometry.Box
}

// Detector finds defect candidates within a cropped subject image.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]RawDetection, error)
	// ReportsIn declares the reference frame of returned boxes.
	ReportsIn() Frame
}

// CapabilityError reports a failed or timed-out model invocation. It is
// recoverable: the image stays uploadable and detection can be re-run.
type CapabilityError struct {
	Capability string // "segmentation" | "detection"
	Cause      error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability unavailable: %v", e.Capability, e.Cause)
}

func (e *CapabilityError) Unwrap() error { return e.Cause }
