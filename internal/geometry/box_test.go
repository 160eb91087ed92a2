package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoxDerivedFields(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 18, Y2: 26}
	x, y := b.Center()
	require.InDelta(t, 14, x, 1e-9)
	require.InDelta(t, 23, y, 1e-9)
	require.InDelta(t, 8, b.Width(), 1e-9)
	require.InDelta(t, 6, b.Height(), 1e-9)
}

func TestValidateRejectsDegenerateBoxes(t *testing.T) {
	cases := []struct {
		name string
		box  Box
	}{
		{"zero width", Box{X1: 5, Y1: 0, X2: 5, Y2: 10}},
		{"negative width", Box{X1: 10, Y1: 0, X2: 5, Y2: 10}},
		{"zero height", Box{X1: 0, Y1: 7, X2: 10, Y2: 7}},
		{"negative height", Box{X1: 0, Y1: 10, X2: 10, Y2: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.box.Validate()
			require.Error(t, err)
			var gerr *GeometryError
			require.ErrorAs(t, err, &gerr)
		})
	}
}

func TestToDetectorSpaceScalesAnisotropically(t *testing.T) {
	crop := Size{W: 400, H: 300}
	det := Size{W: 640, H: 640}

	out, err := ToDetectorSpace(Box{X1: 100, Y1: 100, X2: 200, Y2: 180}, crop, det)
	require.NoError(t, err)
	require.InDelta(t, 160, out.X1, 1e-9)
	require.InDelta(t, 320, out.X2, 1e-9)
	// y scale is 640/300, independent of x
	require.InDelta(t, 100*640.0/300.0, out.Y1, 1e-9)
	require.InDelta(t, 180*640.0/300.0, out.Y2, 1e-9)
}

func TestToOriginalSpaceAppliesInverseScaleAndOffset(t *testing.T) {
	crop := Size{W: 400, H: 300}
	det := Size{W: 640, H: 640}
	off := Offset{X: 50, Y: 60}

	out, err := ToOriginalSpace(Box{X1: 160, Y1: 320, X2: 320, Y2: 480}, crop, det, off)
	require.NoError(t, err)
	require.InDelta(t, 150, out.X1, 1e-9)
	require.InDelta(t, 250, out.X2, 1e-9)
	require.InDelta(t, 320*300.0/640.0+60, out.Y1, 1e-9)
}

func TestRoundTripDetectorOriginal(t *testing.T) {
	cases := []struct {
		name string
		box  Box
		crop Size
		det  Size
		off  Offset
	}{
		{"square detector", Box{X1: 12.5, Y1: 30, X2: 210, Y2: 160.25}, Size{W: 400, H: 300}, Size{W: 640, H: 640}, Offset{X: 50, Y: 60}},
		{"non-square detector", Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, Size{W: 123, H: 457}, Size{W: 416, H: 256}, Offset{X: 7, Y: 13}},
		{"identity scale", Box{X1: 10, Y1: 10, X2: 20, Y2: 20}, Size{W: 100, H: 100}, Size{W: 100, H: 100}, Offset{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orig, err := CropToOriginal(tc.box, tc.off)
			require.NoError(t, err)
			inCrop, err := ToCropSpace(orig, Size{W: tc.crop.W, H: tc.crop.H}, tc.off)
			require.NoError(t, err)
			inDet, err := ToDetectorSpace(inCrop, tc.crop, tc.det)
			require.NoError(t, err)
			back, err := ToOriginalSpace(inDet, tc.crop, tc.det, tc.off)
			require.NoError(t, err)
			require.InDelta(t, orig.X1, back.X1, 1e-9)
			require.InDelta(t, orig.Y1, back.Y1, 1e-9)
			require.InDelta(t, orig.X2, back.X2, 1e-9)
			require.InDelta(t, orig.Y2, back.Y2, 1e-9)
		})
	}
}

func TestToCropSpaceClipsToBounds(t *testing.T) {
	crop := Size{W: 400, H: 300}
	off := Offset{X: 50, Y: 60}

	// Box hangs past the right/bottom crop edge; clipped, not rejected.
	out, err := ToCropSpace(Box{X1: 40, Y1: 50, X2: 500, Y2: 400}, crop, off)
	require.NoError(t, err)
	require.InDelta(t, 0, out.X1, 1e-9)
	require.InDelta(t, 0, out.Y1, 1e-9)
	require.InDelta(t, 400, out.X2, 1e-9)
	require.InDelta(t, 300, out.Y2, 1e-9)

	// Entirely outside the crop degenerates.
	_, err = ToCropSpace(Box{X1: 1000, Y1: 1000, X2: 1100, Y2: 1100}, crop, off)
	var gerr *GeometryError
	require.ErrorAs(t, err, &gerr)
}

func TestNormalizeToCrop(t *testing.T) {
	label, err := NormalizeToCrop(Box{X1: 100, Y1: 75, X2: 300, Y2: 225}, Size{W: 400, H: 300})
	require.NoError(t, err)
	require.InDelta(t, 0.5, label.CenterX, 1e-9)
	require.InDelta(t, 0.5, label.CenterY, 1e-9)
	require.InDelta(t, 0.5, label.Width, 1e-9)
	require.InDelta(t, 0.5, label.Height, 1e-9)
}

func TestNormalizeToCropRejectsOutOfBounds(t *testing.T) {
	_, err := NormalizeToCrop(Box{X1: -500, Y1: 0, X2: 10, Y2: 10}, Size{W: 400, H: 300})
	var gerr *GeometryError
	require.ErrorAs(t, err, &gerr)
}

func TestTransformRejectsInvalidSizes(t *testing.T) {
	_, err := ToDetectorSpace(Box{X1: 0, Y1: 0, X2: 1, Y2: 1}, Size{W: 0, H: 300}, Size{W: 640, H: 640})
	require.Error(t, err)
	_, err = ToOriginalSpace(Box{X1: 0, Y1: 0, X2: 1, Y2: 1}, Size{W: 400, H: 300}, Size{W: -1, H: 640}, Offset{})
	require.Error(t, err)
}
