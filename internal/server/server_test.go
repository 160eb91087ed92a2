package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/annotation"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/detection"
	"github.com/gridsight/thermotrace/internal/export"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/imagestore"
	"github.com/gridsight/thermotrace/internal/imgproc"
	"github.com/gridsight/thermotrace/internal/repository"
)

type fakeSegmenter struct {
	res capability.SegmentResult
	err error
}

func (s *fakeSegmenter) Segment(_ context.Context, _ []byte) (capability.SegmentResult, error) {
	return s.res, s.err
}

type fakeDetector struct {
	dets []capability.RawDetection
	err  error
}

func (d *fakeDetector) Detect(_ context.Context, _ []byte) ([]capability.RawDetection, error) {
	return d.dets, d.err
}

func (d *fakeDetector) ReportsIn() capability.Frame { return capability.FrameCrop }

func newTestServer(t *testing.T, seg capability.Segmenter, det capability.Detector) *httptest.Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&repository.ImageRecord{}, &repository.AnnotationRecord{},
		&repository.ExportRun{}, &repository.ExportItem{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	log := slog.Default()
	images := repository.NewImageRepository(db, log)
	annRepo := repository.NewAnnotationRepository(db, log)
	annSvc := annotation.NewService(annRepo, 20, log)
	orch := detection.NewOrchestrator(seg, det, 640, 0.25, log)
	store := imagestore.NewFSStore(t.TempDir(), log)
	audit := export.NewAuditExporter(annRepo, log)

	srv := httptest.NewServer(New(images, annSvc, orch, store, audit, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func thermalJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 500, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 500; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), B: uint8(y % 256), A: 255})
		}
	}
	data, err := imgproc.EncodeJPEG(img, 95)
	require.NoError(t, err)
	return data
}

func uploadRequest(t *testing.T, url string, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User-ID", "reviewer-7")
	return req
}

func doJSON(t *testing.T, method, url string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "reviewer-7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func workingCapabilities() (*fakeSegmenter, *fakeDetector) {
	seg := &fakeSegmenter{res: capability.SegmentResult{
		Found:  true,
		Region: geometry.Box{X1: 50, Y1: 60, X2: 450, Y2: 360},
	}}
	det := &fakeDetector{dets: []capability.RawDetection{
		{ClassID: 1, Confidence: 0.81, Box: geometry.Box{X1: 100, Y1: 100, X2: 200, Y2: 180}},
	}}
	return seg, det
}

func uploadMaintenanceImage(t *testing.T, srv *httptest.Server) uploadResponse {
	t.Helper()
	req := uploadRequest(t, srv.URL+"/api/images", map[string]string{
		"transformerId": "TX-001",
		"inspectionId":  "INS-001",
		"role":          "MAINTENANCE",
		"envCondition":  "sunny",
	}, "thermal.jpg", thermalJPEG(t))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[uploadResponse](t, resp)
}

func TestUploadRunsDetectionAndStoresAnnotations(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)

	out := uploadMaintenanceImage(t, srv)
	require.Equal(t, string(constants.RoleMaintenance), out.Image.Role)
	require.Equal(t, 500, out.Image.WidthPx)
	require.NotNil(t, out.Detection)
	require.Equal(t, constants.DetectionOK, out.Detection.Status)

	require.Len(t, out.Annotations, 1)
	ann := out.Annotations[0]
	require.Equal(t, string(constants.ProvenanceAutoDetected), ann.Provenance)
	require.Equal(t, "Loose Joint PF", ann.ClassName)
	require.InDelta(t, 150, ann.X1, 1e-6)
	require.InDelta(t, 160, ann.Y1, 1e-6)
	require.InDelta(t, 250, ann.X2, 1e-6)
	require.InDelta(t, 240, ann.Y2, 1e-6)
}

func TestUploadSurvivesCapabilityOutage(t *testing.T) {
	seg := &fakeSegmenter{err: &capability.CapabilityError{Capability: "segmentation", Cause: errors.New("down")}}
	srv := newTestServer(t, seg, &fakeDetector{})

	out := uploadMaintenanceImage(t, srv)
	require.Equal(t, constants.DetectionUnavailable, out.Detection.Status)
	require.Empty(t, out.Annotations)

	// The image is stored and detection can be re-run later.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/images/"+out.Image.ID.String()+"/detect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadNoSubjectStoresImageWithoutAnnotations(t *testing.T) {
	srv := newTestServer(t, &fakeSegmenter{res: capability.SegmentResult{Found: false}}, &fakeDetector{})

	out := uploadMaintenanceImage(t, srv)
	require.Equal(t, constants.NoSubjectDetected, out.Detection.Status)
	require.Empty(t, out.Annotations)
}

func TestUploadValidation(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)

	// Missing transformer.
	req := uploadRequest(t, srv.URL+"/api/images", map[string]string{"role": "MAINTENANCE"}, "a.jpg", thermalJPEG(t))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Unsupported extension.
	req = uploadRequest(t, srv.URL+"/api/images", map[string]string{
		"transformerId": "TX-001", "role": "MAINTENANCE",
	}, "a.tiff", thermalJPEG(t))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestRerunDetectionConflictsWithExistingMachineAnnotations(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)
	out := uploadMaintenanceImage(t, srv)
	require.Len(t, out.Annotations, 1)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/images/"+out.Image.ID.String()+"/detect", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestManualAnnotationLifecycleOverHTTP(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)
	out := uploadMaintenanceImage(t, srv)
	imageURL := srv.URL + "/api/images/" + out.Image.ID.String()

	// Too small: rejected, nothing created.
	resp := doJSON(t, http.MethodPost, imageURL+"/annotations", createAnnotationRequest{
		Box: boxPayload{X1: 0, Y1: 0, X2: 10, Y2: 10}, ClassID: 1,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Valid manual box.
	resp = doJSON(t, http.MethodPost, imageURL+"/annotations", createAnnotationRequest{
		Box: boxPayload{X1: 300, Y1: 300, X2: 360, Y2: 350}, ClassID: 4, Comment: "warm cable run",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	manual := decodeBody[repository.AnnotationRecord](t, resp)
	require.Equal(t, string(constants.ProvenanceUserAdded), manual.Provenance)
	require.Equal(t, "reviewer-7", manual.CreatedBy)

	// Edit the machine annotation: provenance moves to USER_EDITED.
	machineID := out.Annotations[0].ID.String()
	classID := 2
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/annotations/"+machineID, editAnnotationRequest{ClassID: &classID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decodeBody[repository.AnnotationRecord](t, resp)
	require.Equal(t, string(constants.ProvenanceUserEdited), edited.Provenance)
	require.Equal(t, "Point Overload F", edited.ClassName)

	// Soft delete the manual one; active list shrinks, audit list does not.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/annotations/"+manual.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, imageURL+"/annotations", nil)
	active := decodeBody[[]repository.AnnotationRecord](t, resp)
	require.Len(t, active, 1)

	resp = doJSON(t, http.MethodGet, imageURL+"/annotations?includeDeleted=true", nil)
	all := decodeBody[[]repository.AnnotationRecord](t, resp)
	require.Len(t, all, 2)

	// Severity tally reflects only the active record (Point Overload F).
	resp = doJSON(t, http.MethodGet, imageURL+"/severity", nil)
	tally := decodeBody[map[string]int](t, resp)
	require.Equal(t, map[string]int{"CRITICAL": 1}, tally)
}

func TestConfirmOverHTTP(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)
	out := uploadMaintenanceImage(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/annotations/"+out.Annotations[0].ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confirmed := decodeBody[repository.AnnotationRecord](t, resp)
	require.Equal(t, string(constants.ProvenanceUserConfirmed), confirmed.Provenance)
}

func TestExportEndpoints(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)
	out := uploadMaintenanceImage(t, srv)
	imageURL := srv.URL + "/api/images/" + out.Image.ID.String()

	resp := doJSON(t, http.MethodGet, imageURL+"/annotations/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/inspections/INS-001/annotations/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	resp.Body.Close()
}

func TestPromoteAnnotatedDerivative(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)
	out := uploadMaintenanceImage(t, srv)

	req := uploadRequest(t, fmt.Sprintf("%s/api/images/%s/annotated", srv.URL, out.Image.ID), nil, "overlay.jpg", thermalJPEG(t))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	derived := decodeBody[repository.ImageRecord](t, resp)
	require.Equal(t, string(constants.RoleAnnotated), derived.Role)
	require.NotNil(t, derived.SourceImageID)
	require.Equal(t, out.Image.ID, *derived.SourceImageID)
	require.Equal(t, out.Image.TransformerID, derived.TransformerID)

	// The inspection listing carries both the capture and its derivative.
	listResp := doJSON(t, http.MethodGet, srv.URL+"/api/inspections/INS-001/images", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	listed := decodeBody[[]repository.ImageRecord](t, listResp)
	require.Len(t, listed, 2)
	ids := []uuid.UUID{listed[0].ID, listed[1].ID}
	require.Contains(t, ids, out.Image.ID)
	require.Contains(t, ids, derived.ID)
}

func TestListInspectionImagesEmptyInspection(t *testing.T) {
	seg, det := workingCapabilities()
	srv := newTestServer(t, seg, det)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/inspections/INS-404/images", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[[]repository.ImageRecord](t, resp)
	require.Empty(t, listed)
}
