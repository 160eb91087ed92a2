package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/imgproc"
)

type stubSegmenter struct {
	res capability.SegmentResult
	err error
}

func (s *stubSegmenter) Segment(_ context.Context, _ []byte) (capability.SegmentResult, error) {
	return s.res, s.err
}

type stubDetector struct {
	dets  []capability.RawDetection
	err   error
	frame capability.Frame
	seen  []byte
}

func (d *stubDetector) Detect(_ context.Context, img []byte) ([]capability.RawDetection, error) {
	d.seen = img
	return d.dets, d.err
}

func (d *stubDetector) ReportsIn() capability.Frame { return d.frame }

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x + y) % 256), A: 255})
		}
	}
	data, err := imgproc.EncodeJPEG(img, 95)
	require.NoError(t, err)
	return data
}

func TestRunCleanDetectionCropFrame(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 50, Y1: 60, X2: 450, Y2: 360},
	}}
	det := &stubDetector{
		frame: capability.FrameCrop,
		dets: []capability.RawDetection{
			{ClassID: 1, Confidence: 0.81, Box: geometry.Box{X1: 100, Y1: 100, X2: 200, Y2: 180}},
		},
	}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 500, 400))
	require.NoError(t, err)
	require.Equal(t, constants.DetectionOK, res.Status)
	require.NotNil(t, res.Crop)
	require.Equal(t, geometry.Offset{X: 50, Y: 60}, res.Crop.Offset)
	require.Equal(t, geometry.Size{W: 400, H: 300}, res.Crop.Size)

	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	require.Equal(t, 1, d.ClassID)
	require.Equal(t, "Loose Joint PF", d.ClassName)
	require.InDelta(t, 0.81, d.Confidence, 1e-9)
	require.InDelta(t, 150, d.Box.X1, 1e-9)
	require.InDelta(t, 160, d.Box.Y1, 1e-9)
	require.InDelta(t, 250, d.Box.X2, 1e-9)
	require.InDelta(t, 240, d.Box.Y2, 1e-9)

	// A crop-frame detector must receive the crop at native resolution,
	// never a resized rendition it cannot report coordinates against.
	sent, err := imgproc.Decode(det.seen)
	require.NoError(t, err)
	require.Equal(t, 400, sent.Bounds().Dx())
	require.Equal(t, 300, sent.Bounds().Dy())
}

// receivedFrameDetector answers with one box spanning exactly the image it
// was handed, the way a real server reports in the space of its input.
type receivedFrameDetector struct {
	frame capability.Frame
}

func (d *receivedFrameDetector) Detect(_ context.Context, img []byte) ([]capability.RawDetection, error) {
	decoded, err := imgproc.Decode(img)
	if err != nil {
		return nil, err
	}
	b := decoded.Bounds()
	return []capability.RawDetection{{
		ClassID:    1,
		Confidence: 0.9,
		Box:        geometry.Box{X1: 0, Y1: 0, X2: float64(b.Dx()), Y2: float64(b.Dy())},
	}}, nil
}

func (d *receivedFrameDetector) ReportsIn() capability.Frame { return d.frame }

func TestRunCropFrameBoxesMatchReceivedImage(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 50, Y1: 60, X2: 450, Y2: 360},
	}}
	o := NewOrchestrator(seg, &receivedFrameDetector{frame: capability.FrameCrop}, 640, 0.25, nil)

	// A whole-input box from a crop-frame server is the whole crop, so it
	// must map to exactly the segmented region in original-image space.
	res, err := o.Run(context.Background(), testJPEG(t, 500, 400))
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	require.InDelta(t, 50, d.Box.X1, 1e-9)
	require.InDelta(t, 60, d.Box.Y1, 1e-9)
	require.InDelta(t, 450, d.Box.X2, 1e-9)
	require.InDelta(t, 360, d.Box.Y2, 1e-9)
}

func TestRunModelFrameMapsThroughInverseResize(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 50, Y1: 60, X2: 450, Y2: 360},
	}}
	// Box reported in 640x640 model-input space; same physical region as the
	// crop-frame box (100,100,200,180) over a 400x300 crop.
	det := &stubDetector{
		frame: capability.FrameModel,
		dets: []capability.RawDetection{
			{ClassID: 1, Confidence: 0.81, Box: geometry.Box{
				X1: 100 * 640.0 / 400.0,
				Y1: 100 * 640.0 / 300.0,
				X2: 200 * 640.0 / 400.0,
				Y2: 180 * 640.0 / 300.0,
			}},
		},
	}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 500, 400))
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	require.InDelta(t, 150, d.Box.X1, 1e-6)
	require.InDelta(t, 160, d.Box.Y1, 1e-6)
	require.InDelta(t, 250, d.Box.X2, 1e-6)
	require.InDelta(t, 240, d.Box.Y2, 1e-6)

	// Only the model-frame path gets the resized input.
	sent, err := imgproc.Decode(det.seen)
	require.NoError(t, err)
	require.Equal(t, 640, sent.Bounds().Dx())
	require.Equal(t, 640, sent.Bounds().Dy())
}

func TestRunNoSubjectDetected(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{Found: false}}
	det := &stubDetector{frame: capability.FrameCrop}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, constants.NoSubjectDetected, res.Status)
	require.Empty(t, res.Detections)
	require.Nil(t, det.seen, "detector must not run without a subject")
}

func TestRunSegmentationUnavailable(t *testing.T) {
	seg := &stubSegmenter{err: &capability.CapabilityError{Capability: "segmentation", Cause: errors.New("timeout")}}
	o := NewOrchestrator(seg, &stubDetector{frame: capability.FrameCrop}, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 100, 100))
	require.NoError(t, err, "capability outage is an outcome, not an error")
	require.Equal(t, constants.DetectionUnavailable, res.Status)
	require.Contains(t, res.Reason, "segmentation")
}

func TestRunDetectorUnavailable(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 0, Y1: 0, X2: 80, Y2: 80},
	}}
	det := &stubDetector{
		frame: capability.FrameCrop,
		err:   &capability.CapabilityError{Capability: "detection", Cause: errors.New("connection refused")},
	}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, constants.DetectionUnavailable, res.Status)
	require.NotNil(t, res.Crop, "crop metadata survives for a later re-run")
}

func TestRunFiltersBelowThreshold(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
	}}
	det := &stubDetector{
		frame: capability.FrameCrop,
		dets: []capability.RawDetection{
			{ClassID: 0, Confidence: 0.9, Box: geometry.Box{X1: 10, Y1: 10, X2: 40, Y2: 40}},
			{ClassID: 1, Confidence: 0.2, Box: geometry.Box{X1: 50, Y1: 50, X2: 90, Y2: 90}},
		},
	}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 120, 120))
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	require.Equal(t, 0, res.Detections[0].ClassID)

	// Caller-supplied threshold overrides the default.
	res, err = o.RunWithThreshold(context.Background(), testJPEG(t, 120, 120), 0.1)
	require.NoError(t, err)
	require.Len(t, res.Detections, 2)
}

func TestRunDropsUnknownClasses(t *testing.T) {
	seg := &stubSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
	}}
	det := &stubDetector{
		frame: capability.FrameCrop,
		dets: []capability.RawDetection{
			{ClassID: 99, Confidence: 0.9, Box: geometry.Box{X1: 10, Y1: 10, X2: 40, Y2: 40}},
		},
	}
	o := NewOrchestrator(seg, det, 640, 0.25, nil)

	res, err := o.Run(context.Background(), testJPEG(t, 120, 120))
	require.NoError(t, err)
	require.Empty(t, res.Detections)
}
