// Package detection runs the two-stage pipeline for one image: locate the
// transformer, crop to it, detect defects on the crop, and map every box
// back into original-image coordinates.
package detection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/imgproc"
)

// Detection is one defect candidate in original-image pixel space.
// Transient: the annotation lifecycle materializes these into records.
type Detection struct {
	ClassID    int          `json:"classId"`
	ClassName  string       `json:"className"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"box"`
}

// CropMeta records the exact region detection ran against, so consumers
// (overlay rendering, export) can reproduce it.
type CropMeta struct {
	Offset geometry.Offset `json:"offset"`
	Size   geometry.Size   `json:"size"`
}

// Result is the outcome of one orchestrated run.
type Result struct {
	Status     constants.DetectionStatus `json:"status"`
	Detections []Detection               `json:"detections"`
	Crop       *CropMeta                 `json:"crop,omitempty"`
	// Reason carries the capability failure message when Status is
	// DETECTION_UNAVAILABLE.
	Reason string `json:"reason,omitempty"`
}

// Orchestrator wires the segmentation and detection capabilities together
// through the geometry transforms. Stateless between runs.
type Orchestrator struct {
	segmenter capability.Segmenter
	detector  capability.Detector
	inputSize int
	threshold float64
	logger    *slog.Logger
}

func NewOrchestrator(seg capability.Segmenter, det capability.Detector, detectorInputSize int, confidenceThreshold float64, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		segmenter: seg,
		detector:  det,
		inputSize: detectorInputSize,
		threshold: confidenceThreshold,
		logger:    logger,
	}
}

// Run produces defect candidates for one image. Capability outages come back
// as Status DETECTION_UNAVAILABLE with a nil error: the image must remain
// uploadable and detection re-runnable later. Only malformed input is an error.
func (o *Orchestrator) Run(ctx context.Context, imageBytes []byte) (Result, error) {
	return o.RunWithThreshold(ctx, imageBytes, o.threshold)
}

// RunWithThreshold is Run with a caller-supplied confidence floor.
func (o *Orchestrator) RunWithThreshold(ctx context.Context, imageBytes []byte, threshold float64) (Result, error) {
	img, err := imgproc.Decode(imageBytes)
	if err != nil {
		return Result{}, err
	}

	seg, err := o.segmenter.Segment(ctx, imageBytes)
	if err != nil {
		var capErr *capability.CapabilityError
		if errors.As(err, &capErr) {
			o.logger.Warn("detection.segmentation.unavailable", "error", err)
			return Result{Status: constants.DetectionUnavailable, Reason: capErr.Error()}, nil
		}
		return Result{}, err
	}
	if !seg.Found {
		o.logger.Info("detection.segmentation.no_subject")
		return Result{Status: constants.NoSubjectDetected, Detections: []Detection{}}, nil
	}

	cropped, offset, cropSize, err := imgproc.CropROI(img, seg.Region)
	if err != nil {
		// Segmentation returned a region outside the frame; treat like a
		// failed capability rather than poisoning the upload.
		o.logger.Warn("detection.crop.invalid_region", "error", err)
		return Result{Status: constants.DetectionUnavailable, Reason: err.Error()}, nil
	}
	crop := CropMeta{Offset: offset, Size: cropSize}

	// The detector sees only the isolated subject, never the full frame.
	// A crop-frame server reports in the space of the bytes it receives, so
	// it must get the crop at native resolution; a model-frame server is
	// handed its declared input resolution and we invert the resize.
	detectorInput := cropped
	if o.detector.ReportsIn() == capability.FrameModel {
		detectorInput = imgproc.ResizeTo(cropped, o.inputSize, o.inputSize)
	}
	inputBytes, err := imgproc.EncodeJPEG(detectorInput, 95)
	if err != nil {
		return Result{}, err
	}

	raw, err := o.detector.Detect(ctx, inputBytes)
	if err != nil {
		var capErr *capability.CapabilityError
		if errors.As(err, &capErr) {
			o.logger.Warn("detection.detector.unavailable", "error", err)
			return Result{Status: constants.DetectionUnavailable, Reason: capErr.Error(), Crop: &crop}, nil
		}
		return Result{}, err
	}

	detectorSize := geometry.Size{W: float64(o.inputSize), H: float64(o.inputSize)}
	detections := make([]Detection, 0, len(raw))
	for _, det := range raw {
		if det.Confidence < threshold {
			continue
		}
		mapped, err := o.mapToOriginal(det.Box, cropSize, detectorSize, offset)
		if err != nil {
			o.logger.Warn("detection.box.dropped", "class_id", det.ClassID, "error", err)
			continue
		}
		name, ok := constants.ClassNameForID(det.ClassID)
		if !ok {
			o.logger.Warn("detection.box.unknown_class", "class_id", det.ClassID)
			continue
		}
		detections = append(detections, Detection{
			ClassID:    det.ClassID,
			ClassName:  name,
			Confidence: det.Confidence,
			Box:        mapped,
		})
	}

	o.logger.Info("detection.run.ok",
		"raw", len(raw),
		"kept", len(detections),
		"threshold", threshold,
		"crop_w", cropSize.W,
		"crop_h", cropSize.H,
	)
	return Result{Status: constants.DetectionOK, Detections: detections, Crop: &crop}, nil
}

// mapToOriginal converts a raw detection box to original-image space
// according to the frame the detector declares. Crop-frame boxes only need
// the offset; model-frame boxes need the inverse resize first.
func (o *Orchestrator) mapToOriginal(box geometry.Box, cropSize, detectorSize geometry.Size, offset geometry.Offset) (geometry.Box, error) {
	switch o.detector.ReportsIn() {
	case capability.FrameCrop:
		return geometry.CropToOriginal(box, offset)
	case capability.FrameModel:
		return geometry.ToOriginalSpace(box, cropSize, detectorSize, offset)
	default:
		return geometry.Box{}, &geometry.GeometryError{Box: box, Reason: "detector declares no reference frame"}
	}
}
