package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridsight/thermotrace/internal/geometry"
)

// postImage sends raw image bytes to a model server and returns the response
// body. Timeouts are bounded by the client; a stuck model must not stall
// upload acknowledgement.
func postImage(ctx context.Context, client *http.Client, url string, imageBytes []byte, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("capability.http.send_error", "url", url, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			logger.Warn("capability.http.response_body_close_error", "url", url, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("capability.http.read_body_error", "url", url, "error", err)
		return nil, fmt.Errorf("read response body: %w", err)
	}
	logger.Debug("capability.http.response",
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return raw, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, nil
}

// HTTPSegmenter talks to a segmentation model server.
type HTTPSegmenter struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

type segmentationPayload struct {
	Found   bool         `json:"found"`
	BBox    []float64    `json:"bbox,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
}

func (s *HTTPSegmenter) Segment(ctx context.Context, imageBytes []byte) (SegmentResult, error) {
	raw, err := postImage(ctx, s.Client, s.URL, imageBytes, s.Logger)
	if err != nil {
		return SegmentResult{}, &CapabilityError{Capability: "segmentation", Cause: err}
	}
	if err := validateAgainstSchema(segmentationSchema(), raw); err != nil {
		return SegmentResult{}, &CapabilityError{Capability: "segmentation", Cause: err}
	}

	var payload segmentationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SegmentResult{}, &CapabilityError{Capability: "segmentation", Cause: err}
	}
	if !payload.Found {
		return SegmentResult{Found: false}, nil
	}
	if len(payload.BBox) != 4 {
		return SegmentResult{}, &CapabilityError{
			Capability: "segmentation",
			Cause:      fmt.Errorf("found=true but bbox has %d elements", len(payload.BBox)),
		}
	}
	region := geometry.Box{X1: payload.BBox[0], Y1: payload.BBox[1], X2: payload.BBox[2], Y2: payload.BBox[3]}
	if err := region.Validate(); err != nil {
		return SegmentResult{}, &CapabilityError{Capability: "segmentation", Cause: err}
	}
	return SegmentResult{Found: true, Region: region, Polygon: payload.Polygon}, nil
}

// HTTPDetector talks to a defect-detection model server.
type HTTPDetector struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
	// Frame is the reference frame this server reports in, from deployment
	// configuration. Must match the server; there is no way to detect a
	// mismatch at runtime.
	Frame Frame
}

type detectionPayload struct {
	Detections []struct {
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"`
	} `json:"detections"`
}

func (d *HTTPDetector) ReportsIn() Frame { return d.Frame }

func (d *HTTPDetector) Detect(ctx context.Context, imageBytes []byte) ([]RawDetection, error) {
	raw, err := postImage(ctx, d.Client, d.URL, imageBytes, d.Logger)
	if err != nil {
		return nil, &CapabilityError{Capability: "detection", Cause: err}
	}
	if err := validateAgainstSchema(detectionSchema(), raw); err != nil {
		return nil, &CapabilityError{Capability: "detection", Cause: err}
	}

	var payload detectionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &CapabilityError{Capability: "detection", Cause: err}
	}

	out := make([]RawDetection, 0, len(payload.Detections))
	for _, det := range payload.Detections {
		box := geometry.Box{X1: det.BBox[0], Y1: det.BBox[1], X2: det.BBox[2], Y2: det.BBox[3]}
		if err := box.Validate(); err != nil {
			// Malformed single boxes are dropped, not fatal to the batch.
			if d.Logger != nil {
				d.Logger.Warn("capability.detection.dropped_box", "error", err)
			}
			continue
		}
		out = append(out, RawDetection{ClassID: det.ClassID, Confidence: det.Confidence, Box: box})
	}
	return out, nil
}
