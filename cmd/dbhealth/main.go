// Command dbhealth verifies database connectivity and prints row counts for
// the core tables. Intended as a deployment smoke check.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/gridsight/thermotrace/internal/common"
	"github.com/gridsight/thermotrace/internal/repository"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Println("ERROR: invalid configuration:", err)
		log.Println("  set DB_DRIVER=sqlite|postgres and DB_URL to the DSN")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := repository.Open(cfg.Database, logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer repository.Close(db, logger)

	if err := repository.HealthCheck(db, cfg.Database.DialTimeout, logger); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	log.Println("DB health: OK")

	var images, annotations, runs int64
	db.Model(&repository.ImageRecord{}).Count(&images)
	db.Model(&repository.AnnotationRecord{}).Count(&annotations)
	db.Model(&repository.ExportRun{}).Count(&runs)

	log.Printf("images: %d", images)
	log.Printf("annotations: %d", annotations)
	log.Printf("export runs: %d", runs)
}
