package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Capability CapabilityConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Export     ExportConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string // "sqlite" | "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string
}

// CapabilityConfig points at the segmentation/detection model servers.
type CapabilityConfig struct {
	SegmentationURL string
	DetectionURL    string
	Timeout         time.Duration
	// DetectionFrame declares which reference frame the detection server
	// reports boxes in: "crop" (crop-pixel) or "model" (resized model input).
	DetectionFrame string
}

// PipelineConfig holds detection-pipeline tunables.
type PipelineConfig struct {
	ConfidenceThreshold float64
	MinManualBoxPx      float64
	DetectorInputSize   int
}

// StorageConfig locates the on-disk image store.
type StorageConfig struct {
	ImageRoot string
}

// ExportConfig holds dataset-export configuration.
type ExportConfig struct {
	OutputDir string
	Policy    string // "SKIP" | "OVERWRITE"
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			DSN:             getEnv("DB_URL", "thermotrace.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Capability: CapabilityConfig{
			SegmentationURL: getEnv("SEGMENTATION_URL", ""),
			DetectionURL:    getEnv("DETECTION_URL", ""),
			Timeout:         getEnvAsDuration("CAPABILITY_TIMEOUT", 30*time.Second),
			DetectionFrame:  getEnv("DETECTION_FRAME", "crop"),
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.25),
			MinManualBoxPx:      getEnvAsFloat64("MIN_MANUAL_BOX_PX", 20),
			DetectorInputSize:   getEnvAsInt("DETECTOR_INPUT_SIZE", 640),
		},
		Storage: StorageConfig{
			ImageRoot: getEnv("IMAGE_ROOT", "./images"),
		},
		Export: ExportConfig{
			OutputDir: getEnv("EXPORT_OUTPUT_DIR", "./dataset"),
			Policy:    getEnv("EXPORT_POLICY", "SKIP"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CONFIDENCE_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	if c.Pipeline.MinManualBoxPx <= 0 {
		return NewAppError("CONFIG_ERROR", "MIN_MANUAL_BOX_PX must be positive", ErrInvalidInput)
	}
	if c.Pipeline.DetectorInputSize <= 0 {
		return NewAppError("CONFIG_ERROR", "DETECTOR_INPUT_SIZE must be positive", ErrInvalidInput)
	}
	if c.Capability.DetectionFrame != "crop" && c.Capability.DetectionFrame != "model" {
		return NewAppError("CONFIG_ERROR", "DETECTION_FRAME must be crop or model", ErrInvalidInput)
	}
	if c.Storage.ImageRoot == "" {
		return NewAppError("CONFIG_ERROR", "IMAGE_ROOT is required", ErrInvalidInput)
	}
	if c.Export.Policy != "SKIP" && c.Export.Policy != "OVERWRITE" {
		return NewAppError("CONFIG_ERROR", "EXPORT_POLICY must be SKIP or OVERWRITE", ErrInvalidInput)
	}
	return nil
}
