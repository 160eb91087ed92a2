package server

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/detection"
	"github.com/gridsight/thermotrace/internal/imgproc"
	"github.com/gridsight/thermotrace/internal/repository"
)

type uploadResponse struct {
	Image       *repository.ImageRecord        `json:"image"`
	Detection   *detection.Result              `json:"detection,omitempty"`
	Annotations []*repository.AnnotationRecord `json:"annotations"`
}

// uploadImage stores a thermal image and, for maintenance captures, runs the
// detection pipeline over it. A capability outage never fails the upload: the
// image is stored without machine annotations and detection can be re-run.
func (s *Server) uploadImage(c echo.Context) error {
	ctx := c.Request().Context()

	transformerID := c.FormValue("transformerId")
	if transformerID == "" {
		return httpError(common.NewValidationError("transformerId", "is required"))
	}
	inspectionID := c.FormValue("inspectionId")
	role := constants.ImageRole(c.FormValue("role"))
	if !role.Valid() {
		return httpError(common.NewValidationError("role", "must be BASELINE, MAINTENANCE or ANNOTATED"))
	}
	cond := constants.EnvCondition(strings.ToUpper(c.FormValue("envCondition")))
	if c.FormValue("envCondition") != "" && !cond.Valid() {
		return httpError(common.NewValidationError("envCondition", "must be SUNNY, CLOUDY or RAINY"))
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httpError(common.NewValidationError("file", "is required"))
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, ok := constants.AllowedImageExtensions[ext]; !ok {
		return httpError(common.NewValidationError("file", "unsupported extension %s", ext))
	}
	src, err := fh.Open()
	if err != nil {
		return httpError(err)
	}
	defer src.Close()
	imageBytes, err := io.ReadAll(src)
	if err != nil {
		return httpError(err)
	}

	decoded, err := imgproc.Decode(imageBytes)
	if err != nil {
		return httpError(common.NewValidationError("file", "not a decodable image: %v", err))
	}
	dims := imgproc.Dimensions(decoded)

	rec := &repository.ImageRecord{
		ID:            uuid.New(),
		TransformerID: transformerID,
		InspectionID:  inspectionID,
		Role:          string(role),
		EnvCondition:  string(cond),
		WidthPx:       int(dims.W),
		HeightPx:      int(dims.H),
	}
	rec.StoragePath = fmt.Sprintf("transformers/%s/%s%s", transformerID, rec.ID, ext)
	if err := s.store.Put(ctx, rec.StoragePath, imageBytes); err != nil {
		return httpError(err)
	}
	if err := s.images.Create(ctx, rec); err != nil {
		return httpError(err)
	}

	resp := uploadResponse{Image: rec, Annotations: []*repository.AnnotationRecord{}}
	if role == constants.RoleMaintenance {
		result, err := s.orchestrator.Run(ctx, imageBytes)
		if err != nil {
			return httpError(err)
		}
		resp.Detection = &result
		if result.Status == constants.DetectionOK {
			recs, err := s.annotations.CreateFromDetections(ctx, rec.ID, result.Detections)
			if err != nil {
				return httpError(err)
			}
			resp.Annotations = recs
		}
	}

	s.logger.Info("server.upload.ok", "image_id", rec.ID, "role", rec.Role, "annotations", len(resp.Annotations))
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) getImage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpError(common.NewValidationError("id", "must be a UUID"))
	}
	rec, err := s.images.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// listInspectionImages lists every image captured for an inspection,
// annotated derivatives included, in upload order.
func (s *Server) listInspectionImages(c echo.Context) error {
	inspectionID := c.Param("id")
	if inspectionID == "" {
		return httpError(common.NewValidationError("id", "is required"))
	}
	recs, err := s.images.ListByInspection(c.Request().Context(), inspectionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

// rerunDetection re-runs the pipeline for an image that was uploaded while a
// capability was down. Refused while machine annotations already exist, so a
// re-run cannot silently duplicate them.
func (s *Server) rerunDetection(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpError(common.NewValidationError("id", "must be a UUID"))
	}
	rec, err := s.images.GetByID(ctx, id)
	if err != nil {
		return httpError(err)
	}

	existing, err := s.annotations.ActiveByImage(ctx, id)
	if err != nil {
		return httpError(err)
	}
	for _, a := range existing {
		if a.Provenance == string(constants.ProvenanceAutoDetected) {
			return httpError(common.WrapError(common.ErrConflict, "image already has machine annotations"))
		}
	}

	imageBytes, err := s.store.Get(ctx, rec.StoragePath)
	if err != nil {
		return httpError(err)
	}
	result, err := s.orchestrator.Run(ctx, imageBytes)
	if err != nil {
		return httpError(err)
	}

	resp := uploadResponse{Image: rec, Detection: &result, Annotations: []*repository.AnnotationRecord{}}
	if result.Status == constants.DetectionOK {
		recs, err := s.annotations.CreateFromDetections(ctx, rec.ID, result.Detections)
		if err != nil {
			return httpError(err)
		}
		resp.Annotations = recs
	}
	return c.JSON(http.StatusOK, resp)
}

// promoteAnnotated stores a rendered overlay as a new ANNOTATED image record
// sharing provenance with its source. The source row is never mutated.
func (s *Server) promoteAnnotated(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpError(common.NewValidationError("id", "must be a UUID"))
	}
	source, err := s.images.GetByID(ctx, id)
	if err != nil {
		return httpError(err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httpError(common.NewValidationError("file", "is required"))
	}
	src, err := fh.Open()
	if err != nil {
		return httpError(err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return httpError(err)
	}

	path := fmt.Sprintf("transformers/%s/annotated/%s.jpg", source.TransformerID, source.ID)
	if err := s.store.Put(ctx, path, data); err != nil {
		return httpError(err)
	}
	derived, err := s.images.CreateDerivative(ctx, source, path)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, derived)
}
