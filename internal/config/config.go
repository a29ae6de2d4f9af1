/**
 * Configuration for the Layout Worker
 *
 * Loads configuration from environment variables (optionally seeded from a
 * .env file by the binaries) and derives the per-run pipeline settings.
 */

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// OCR engines
const (
	OCREngineGosseract = "gosseract"
	OCREngineCLI       = "cli"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// Queue configuration
	QueueBackend string
	QueueName    string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	MaxImageBytes     int64

	// Tesseract configuration. OCREngine picks the cgo binding or the
	// tesseract binary at TesseractPath.
	OCREngine          string
	TesseractPath      string
	TesseractLanguages []string

	// Bounding box pipeline
	MaxImageWidth int
	MaxBBoxes     int
	MinConfidence float64

	// Path to a YAML file overriding the region classifier thresholds
	ClassifierConfig string

	// Layout generation (OpenAI-compatible endpoint). Generation is
	// skipped when no API key is set.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := Load()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the environment without validating. Tools that only analyze
// images locally call ValidateAnalysis instead of Validate.
func Load() *Config {
	return &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", "localhost:6334"),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "layout_fingerprints"),
		QueueBackend:       getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "layoutprocess:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		MaxImageBytes:      getEnvAsInt64OrDefault("MAX_IMAGE_BYTES", 20971520), // 20MB
		OCREngine:          getEnvOrDefault("OCR_ENGINE", OCREngineGosseract),
		TesseractPath:      getEnvOrDefault("TESSERACT_PATH", "tesseract"),
		TesseractLanguages: getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng"}),
		MaxImageWidth:      getEnvAsIntOrDefault("MAX_IMAGE_WIDTH", 800),
		MaxBBoxes:          getEnvAsIntOrDefault("MAX_BBOXES", 80),
		MinConfidence:      getEnvAsFloatOrDefault("MIN_CONFIDENCE", 30),
		ClassifierConfig:   getEnvOrDefault("CLASSIFIER_CONFIG", ""),
		OpenAIAPIKey:       getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return c.ValidateAnalysis()
}

// ValidateAnalysis checks the settings used by image analysis alone
func (c *Config) ValidateAnalysis() error {
	if c.MaxImageBytes < 1024 || c.MaxImageBytes > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_IMAGE_BYTES must be between 1KB and 100MB, got %d", c.MaxImageBytes)
	}

	if c.OCREngine != OCREngineGosseract && c.OCREngine != OCREngineCLI {
		return fmt.Errorf("OCR_ENGINE must be %q or %q, got %q", OCREngineGosseract, OCREngineCLI, c.OCREngine)
	}

	if len(c.TesseractLanguages) == 0 {
		return fmt.Errorf("TESSERACT_LANGUAGES must name at least one language")
	}

	if c.MaxImageWidth < 0 {
		return fmt.Errorf("MAX_IMAGE_WIDTH must not be negative, got %d", c.MaxImageWidth)
	}

	if c.MaxBBoxes < 1 {
		return fmt.Errorf("MAX_BBOXES must be at least 1, got %d", c.MaxBBoxes)
	}

	if math.IsNaN(c.MinConfidence) || math.IsInf(c.MinConfidence, 0) {
		return fmt.Errorf("MIN_CONFIDENCE must be a finite number")
	}

	return nil
}

// PipelineConfig returns the bounding box pipeline settings
func (c *Config) PipelineConfig() bbox.PipelineConfig {
	return bbox.PipelineConfig{
		MaxWidth:      c.MaxImageWidth,
		MaxBoxCount:   c.MaxBBoxes,
		MinConfidence: c.MinConfidence,
	}
}

// ClassifierThresholds returns the region classifier thresholds, read from
// ClassifierConfig when set and the defaults otherwise.
func (c *Config) ClassifierThresholds() (regions.Thresholds, error) {
	if c.ClassifierConfig == "" {
		return regions.DefaultThresholds(), nil
	}
	return LoadThresholds(c.ClassifierConfig)
}

// Timeout returns ProcessingTimeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// GenerationEnabled reports whether layout generation has credentials
func (c *Config) GenerationEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma or plus separated variable
// ("eng+deu" or "eng,deu")
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	fields := strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == '+'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
