// Command datasetexport runs one batch export of maintenance images with
// active annotations into a training-dataset directory of crop/label pairs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gridsight/thermotrace/constants"
	"github.com/gridsight/thermotrace/internal/capability"
	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/export"
	"github.com/gridsight/thermotrace/internal/imagestore"
	"github.com/gridsight/thermotrace/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
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

	segmenter := &capability.HTTPSegmenter{
		URL:    cfg.Capability.SegmentationURL,
		Client: &http.Client{Timeout: cfg.Capability.Timeout},
		Logger: logger,
	}
	exporter := export.NewDatasetExporter(
		repository.NewImageRepository(db, logger),
		repository.NewAnnotationRepository(db, logger),
		repository.NewExportRepository(db, logger),
		segmenter,
		imagestore.NewFSStore(cfg.Storage.ImageRoot, logger),
		cfg.Export.OutputDir,
		constants.ExportPolicy(cfg.Export.Policy),
		logger,
	)

	summary, err := exporter.Run(ctx)
	if err != nil {
		logger.Error("export run failed", "error", err)
		if summary == nil {
			os.Exit(1)
		}
	}

	fmt.Printf("run %s: %d images, %d exported, %d skipped, %d errors\n",
		summary.RunID, summary.TotalImages, summary.Exported, summary.Skipped, len(summary.Errors))
	for _, item := range summary.Errors {
		fmt.Printf("  %s [%s]: %s\n", item.ImageID, item.Stage, item.Message)
	}
	if len(summary.Errors) > 0 || err != nil {
		os.Exit(1)
	}
}
