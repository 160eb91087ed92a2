package constants

// DetectionStatus is the outcome of one orchestrated detection run.
type DetectionStatus string

// Stable values (returned to API clients, do not rename).
const (
	DetectionOK          DetectionStatus = "OK"                    // subject found, detections returned
	NoSubjectDetected    DetectionStatus = "NO_SUBJECT_DETECTED"   // segmentation found nothing; valid outcome
	DetectionUnavailable DetectionStatus = "DETECTION_UNAVAILABLE" // a capability failed; re-run later
)

// ExportStage identifies where a per-image dataset export failed.
type ExportStage string

const (
	// StageRegistry covers reads of the annotation set and export history;
	// failures here are database trouble, not label math.
	StageRegistry        ExportStage = "registry"
	StageSegmentation    ExportStage = "segmentation"
	StageLabelConversion ExportStage = "labelConversion"
	StageWrite           ExportStage = "write"
)

// ExportPolicy controls what happens when an image was already exported
// with the same annotation-set hash.
type ExportPolicy string

const (
	ExportSkipExisting ExportPolicy = "SKIP"      // idempotent re-runs, the default
	ExportOverwrite    ExportPolicy = "OVERWRITE" // rewrite pairs even if unchanged
)

func (p ExportPolicy) Valid() bool {
	return p == ExportSkipExisting || p == ExportOverwrite
}

// AllowedImageExtensions is the set of upload formats the pipeline accepts.
var AllowedImageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}
