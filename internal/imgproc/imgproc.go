// Package imgproc wraps the imaging library for the few pixel operations the
// pipeline needs: decode, ROI crop, and detector-input resize.
package imgproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/gridsight/thermotrace/internal/geometry"
)

// Decode parses image bytes (JPEG/PNG) into an image.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Dimensions returns the pixel extent of an image as a geometry.Size.
func Dimensions(img image.Image) geometry.Size {
	b := img.Bounds()
	return geometry.Size{W: float64(b.Dx()), H: float64(b.Dy())}
}

// CropBox extracts the sub-image covered by a box. The rectangle is clipped
// to the image bounds; an empty intersection is an error.
func CropBox(img image.Image, box geometry.Box) (image.Image, error) {
	rect := box.Rect().Intersect(img.Bounds().Sub(img.Bounds().Min))
	if rect.Empty() {
		return nil, fmt.Errorf("crop region %v is outside image bounds %v", box.Rect(), img.Bounds())
	}
	return imaging.Crop(img, rect), nil
}

// CropROI crops the segmented region and returns the exact integer rect
// geometry used, so downstream transforms see the same offset and size the
// pixels were cut with.
func CropROI(img image.Image, region geometry.Box) (image.Image, geometry.Offset, geometry.Size, error) {
	rect := region.Rect().Intersect(img.Bounds().Sub(img.Bounds().Min))
	if rect.Empty() {
		return nil, geometry.Offset{}, geometry.Size{}, fmt.Errorf("ROI %v is outside image bounds %v", region.Rect(), img.Bounds())
	}
	cropped := imaging.Crop(img, rect)
	offset := geometry.Offset{X: float64(rect.Min.X), Y: float64(rect.Min.Y)}
	size := geometry.Size{W: float64(rect.Dx()), H: float64(rect.Dy())}
	return cropped, offset, size, nil
}

// ResizeTo scales an image to exactly w x h. Aspect ratio is not preserved;
// the detector input contract is an exact resolution.
func ResizeTo(img image.Image, w, h int) image.Image {
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// EncodeJPEG serializes an image as JPEG at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
