// Package server exposes the review and upload surface as a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gridsight/thermotrace/internal/annotation"
	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/detection"
	"github.com/gridsight/thermotrace/internal/export"
	"github.com/gridsight/thermotrace/internal/geometry"
	"github.com/gridsight/thermotrace/internal/imagestore"
	"github.com/gridsight/thermotrace/internal/repository"
)

// Server wires the pipeline services behind HTTP handlers.
type Server struct {
	echo         *echo.Echo
	images       repository.ImageRepository
	annotations  *annotation.Service
	orchestrator *detection.Orchestrator
	store        imagestore.Store
	audit        *export.AuditExporter
	logger       *slog.Logger
}

func New(
	images repository.ImageRepository,
	annotations *annotation.Service,
	orchestrator *detection.Orchestrator,
	store imagestore.Store,
	audit *export.AuditExporter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		images:       images,
		annotations:  annotations,
		orchestrator: orchestrator,
		store:        store,
		audit:        audit,
		logger:       logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.POST("/images", s.uploadImage)
	api.GET("/images/:id", s.getImage)
	api.POST("/images/:id/detect", s.rerunDetection)
	api.POST("/images/:id/annotated", s.promoteAnnotated)

	api.GET("/images/:id/annotations", s.listAnnotations)
	api.POST("/images/:id/annotations", s.createAnnotation)
	api.GET("/images/:id/severity", s.severityTally)
	api.GET("/images/:id/annotations/export", s.exportImageAnnotations)

	api.PATCH("/annotations/:id", s.editAnnotation)
	api.POST("/annotations/:id/confirm", s.confirmAnnotation)
	api.DELETE("/annotations/:id", s.deleteAnnotation)

	api.GET("/inspections/:id/images", s.listInspectionImages)
	api.GET("/inspections/:id/annotations/export", s.exportInspectionAnnotations)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("server.start", "addr", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// userID identifies the acting reviewer from the request.
func userID(c echo.Context) string {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "unknown"
}

// httpError maps the error taxonomy onto status codes. Validation and
// geometry problems surface inline against the offending request.
func httpError(err error) error {
	var verr *common.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, verr.Error())
	}
	var gerr *geometry.GeometryError
	if errors.As(err, &gerr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, gerr.Error())
	}
	if errors.Is(err, common.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if errors.Is(err, common.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
