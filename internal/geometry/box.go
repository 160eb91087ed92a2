// Package geometry is the single place bounding-box coordinate math happens.
// Three reference frames are in play: the original image in pixel
// coordinates, the segmented crop (an offset into the original plus its own
// width and height), and the detector's fixed input resolution reached from
// the crop by an anisotropic resize. Every other package converts through
// these functions rather than re-deriving the arithmetic.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned bounding box with X1 < X2 and Y1 < Y2.
// Corners are authoritative; center and extent are always derived from them.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Size is the pixel extent of a frame.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Offset is the position of the crop's top-left corner inside the original image.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeometryError reports a degenerate or out-of-order box. Boxes carrying this
// error must never be persisted; callers drop or re-derive them.
type GeometryError struct {
	Box    Box
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid box (%.2f,%.2f,%.2f,%.2f): %s", e.Box.X1, e.Box.Y1, e.Box.X2, e.Box.Y2, e.Reason)
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Center returns the box midpoint, derived from the corners.
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rect converts to an image.Rectangle, rounding outward so the pixel region
// always covers the real-valued box.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// Validate checks the corner-ordering invariant.
func (b Box) Validate() error {
	if math.IsNaN(b.X1) || math.IsNaN(b.Y1) || math.IsNaN(b.X2) || math.IsNaN(b.Y2) {
		return &GeometryError{Box: b, Reason: "coordinate is NaN"}
	}
	if b.X2 <= b.X1 {
		return &GeometryError{Box: b, Reason: "x2 must be greater than x1"}
	}
	if b.Y2 <= b.Y1 {
		return &GeometryError{Box: b, Reason: "y2 must be greater than y1"}
	}
	return nil
}

func validSize(s Size, name string) error {
	if s.W <= 0 || s.H <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("%s must have positive extent, got %gx%g", name, s.W, s.H)}
	}
	return nil
}

// ToDetectorSpace maps a crop-space box into detector-input space.
// X and Y scale independently; aspect ratio is not preserved unless the
// caller padded beforehand, matching the detector's own preprocessing.
func ToDetectorSpace(box Box, cropSize, detectorSize Size) (Box, error) {
	if err := validSize(cropSize, "cropSize"); err != nil {
		return Box{}, err
	}
	if err := validSize(detectorSize, "detectorSize"); err != nil {
		return Box{}, err
	}
	sx := detectorSize.W / cropSize.W
	sy := detectorSize.H / cropSize.H
	out := Box{
		X1: box.X1 * sx,
		Y1: box.Y1 * sy,
		X2: box.X2 * sx,
		Y2: box.Y2 * sy,
	}
	if err := out.Validate(); err != nil {
		return Box{}, err
	}
	return out, nil
}

// ToOriginalSpace maps a detector-space box back to original-image space:
// the inverse scale into the crop, then the crop offset into the original.
func ToOriginalSpace(box Box, cropSize, detectorSize Size, offset Offset) (Box, error) {
	if err := validSize(cropSize, "cropSize"); err != nil {
		return Box{}, err
	}
	if err := validSize(detectorSize, "detectorSize"); err != nil {
		return Box{}, err
	}
	sx := cropSize.W / detectorSize.W
	sy := cropSize.H / detectorSize.H
	out := Box{
		X1: box.X1*sx + offset.X,
		Y1: box.Y1*sy + offset.Y,
		X2: box.X2*sx + offset.X,
		Y2: box.Y2*sy + offset.Y,
	}
	if err := out.Validate(); err != nil {
		return Box{}, err
	}
	return out, nil
}

// CropToOriginal maps a crop-space box to original-image space by
// translating through the crop offset.
func CropToOriginal(box Box, offset Offset) (Box, error) {
	out := Box{
		X1: box.X1 + offset.X,
		Y1: box.Y1 + offset.Y,
		X2: box.X2 + offset.X,
		Y2: box.Y2 + offset.Y,
	}
	if err := out.Validate(); err != nil {
		return Box{}, err
	}
	return out, nil
}

// ToCropSpace maps an original-image box into crop space, clipping to the
// crop bounds. A box entirely outside the crop degenerates
// and is rejected.
func ToCropSpace(box Box, cropSize Size, offset Offset) (Box, error) {
	if err := validSize(cropSize, "cropSize"); err != nil {
		return Box{}, err
	}
	out := Box{
		X1: math.Max(box.X1-offset.X, 0),
		Y1: math.Max(box.Y1-offset.Y, 0),
		X2: math.Min(box.X2-offset.X, cropSize.W),
		Y2: math.Min(box.Y2-offset.Y, cropSize.H),
	}
	if err := out.Validate(); err != nil {
		return Box{}, err
	}
	return out, nil
}

// NormalizedLabel is a crop-relative box in the center/width/height form the
// detection model trains on, each component in [0,1].
type NormalizedLabel struct {
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// NormalizeToCrop converts a crop-space box into a [0,1]-normalized
// training label by dividing by the crop extent.
func NormalizeToCrop(box Box, cropSize Size) (NormalizedLabel, error) {
	if err := validSize(cropSize, "cropSize"); err != nil {
		return NormalizedLabel{}, err
	}
	if err := box.Validate(); err != nil {
		return NormalizedLabel{}, err
	}
	cx, cy := box.Center()
	label := NormalizedLabel{
		CenterX: cx / cropSize.W,
		CenterY: cy / cropSize.H,
		Width:   box.Width() / cropSize.W,
		Height:  box.Height() / cropSize.H,
	}
	if label.CenterX < 0 || label.CenterX > 1 || label.CenterY < 0 || label.CenterY > 1 {
		return NormalizedLabel{}, &GeometryError{Box: box, Reason: "center outside crop bounds"}
	}
	if label.Width > 1 || label.Height > 1 {
		return NormalizedLabel{}, &GeometryError{Box: box, Reason: "extent exceeds crop bounds"}
	}
	return label, nil
}
