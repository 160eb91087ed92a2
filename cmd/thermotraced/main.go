package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gridsight/thermotrace/internal/annotation"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/detection"
	"github.com/gridsight/thermotrace/internal/export"
	"github.com/gridsight/thermotrace/internal/imagestore"
	"github.com/gridsight/thermotrace/internal/repository"
	"github.com/gridsight/thermotrace/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment")
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	if err := repository.HealthCheck(db, cfg.Database.DialTimeout, logger); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	images := repository.NewImageRepository(db, logger)
	annotations := repository.NewAnnotationRepository(db, logger)

	frame, err := capability.ParseFrame(cfg.Capability.DetectionFrame)
	if err != nil {
		logger.Error("invalid detection frame", "error", err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: cfg.Capability.Timeout}
	segmenter := &capability.HTTPSegmenter{URL: cfg.Capability.SegmentationURL, Client: client, Logger: logger}
	detector := &capability.HTTPDetector{URL: cfg.Capability.DetectionURL, Client: client, Logger: logger, Frame: frame}

	orchestrator := detection.NewOrchestrator(segmenter, detector,
		cfg.Pipeline.DetectorInputSize, cfg.Pipeline.ConfidenceThreshold, logger)
	annSvc := annotation.NewService(annotations, cfg.Pipeline.MinManualBoxPx, logger)
	store := imagestore.NewFSStore(cfg.Storage.ImageRoot, logger)
	audit := export.NewAuditExporter(annotations, logger)

	srv := server.New(images, annSvc, orchestrator, store, audit, logger)

	go func() {
		if err := srv.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
