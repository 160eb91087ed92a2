package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/geometry"
)

type boxPayload struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b *boxPayload) toBox() geometry.Box {
	return geometry.Box{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

type createAnnotationRequest struct {
	Box        boxPayload `json:"box"`
	ClassID    int        `json:"classId"`
	Confidence *float64   `json:"confidence,omitempty"`
	Comment    string     `json:"comment"`
}

type editAnnotationRequest struct {
	Box     *boxPayload `json:"box,omitempty"`
	ClassID *int        `json:"classId,omitempty"`
	Comment *string     `json:"comment,omitempty"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, common.NewValidationError("id", "must be a UUID")
	}
	return id, nil
}

func (s *Server) listAnnotations(c echo.Context) error {
	imageID, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	includeDeleted := c.QueryParam("includeDeleted") == "true"

	if includeDeleted {
		recs, err := s.annotations.AllByImage(c.Request().Context(), imageID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, recs)
	}
	recs, err := s.annotations.ActiveByImage(c.Request().Context(), imageID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) createAnnotation(c echo.Context) error {
	imageID, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	var req createAnnotationRequest
	if err := c.Bind(&req); err != nil {
		return httpError(common.NewValidationError("body", "malformed JSON"))
	}

	rec, err := s.annotations.CreateManual(c.Request().Context(), imageID,
		req.Box.toBox(), req.ClassID, req.Confidence, req.Comment, userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) editAnnotation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	var req editAnnotationRequest
	if err := c.Bind(&req); err != nil {
		return httpError(common.NewValidationError("body", "malformed JSON"))
	}

	var box *geometry.Box
	if req.Box != nil {
		b := req.Box.toBox()
		box = &b
	}
	rec, err := s.annotations.Edit(c.Request().Context(), id, box, req.ClassID, req.Comment, userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) confirmAnnotation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	rec, err := s.annotations.Confirm(c.Request().Context(), id, userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteAnnotation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	rec, err := s.annotations.SoftDelete(c.Request().Context(), id, userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) severityTally(c echo.Context) error {
	imageID, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	tally, err := s.annotations.SeverityTally(c.Request().Context(), imageID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tally)
}

// exportImageAnnotations serves the full annotation history of one image as
// CSV or JSON, soft-deleted rows included.
func (s *Server) exportImageAnnotations(c echo.Context) error {
	imageID, err := parseID(c)
	if err != nil {
		return httpError(err)
	}
	recs, err := s.annotations.AllByImage(c.Request().Context(), imageID)
	if err != nil {
		return httpError(err)
	}

	switch c.QueryParam("format") {
	case "", "json":
		data, err := s.audit.AnnotationsJSON(c.Request().Context(), recs)
		if err != nil {
			return httpError(err)
		}
		return c.Blob(http.StatusOK, "application/json", data)
	case "csv":
		data, err := s.audit.AnnotationsCSV(c.Request().Context(), recs)
		if err != nil {
			return httpError(err)
		}
		return c.Blob(http.StatusOK, "text/csv", data)
	default:
		return httpError(common.NewValidationError("format", "must be json or csv"))
	}
}

// exportInspectionAnnotations serves the inspection-level audit workbook.
func (s *Server) exportInspectionAnnotations(c echo.Context) error {
	inspectionID := c.Param("id")
	if inspectionID == "" {
		return httpError(common.NewValidationError("id", "is required"))
	}
	data, err := s.audit.AnnotationsXLSX(c.Request().Context(), inspectionID)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="annotations.xlsx"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
