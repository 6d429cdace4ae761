/**
 * Configuration for the OCR worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// PostgreSQL configuration
	DatabaseURL string

	// Redis configuration
	RedisURL     string
	QueueBackend string // "redis" or "asynq"
	QueueName    string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64

	// Storage root for originals and OCR artifacts
	StorageDir string

	// Recognition configuration, passed through to the engine verbatim
	OCREngine      string
	TesseractLang  string
	TesseractPath  string
	TessdataPrefix string

	// PDF rasterization
	PdftoppmPath string
	PDFRenderDPI int

	// Logging
	LogLevel  string
	LogFormat string

	AppEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		QueueBackend:      getEnvOrDefault("QUEUE_BACKEND", "redis"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "ocr:documents"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		StorageDir:        getEnvOrDefault("STORAGE_DIR", "data"),
		OCREngine:         getEnvOrDefault("OCR_ENGINE", "gosseract"),
		TesseractLang:     getEnvOrDefault("TESSERACT_LANG", "eng"),
		TesseractPath:     getEnvOrDefault("TESSERACT_PATH", ""),
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
		PdftoppmPath:      getEnvOrDefault("PDFTOPPM_PATH", "pdftoppm"),
		PDFRenderDPI:      getEnvAsIntOrDefault("PDF_RENDER_DPI", 144), // scale 2.0
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "text"),
		AppEnv:            getEnvOrDefault("APP_ENV", "local"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case "redis", "asynq":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	switch c.OCREngine {
	case "gosseract", "tesseract-cli":
	default:
		return fmt.Errorf("OCR_ENGINE must be gosseract or tesseract-cli, got %q", c.OCREngine)
	}

	if c.TesseractLang == "" {
		return fmt.Errorf("TESSERACT_LANG is required")
	}

	if c.StorageDir == "" {
		return fmt.Errorf("STORAGE_DIR is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.PDFRenderDPI < 36 || c.PDFRenderDPI > 1200 {
		return fmt.Errorf("PDF_RENDER_DPI must be between 36 and 1200, got %d", c.PDFRenderDPI)
	}

	return nil
}

// RequireServices checks the settings needed by components that talk to
// PostgreSQL and Redis (the worker and the submit command).
func (c *Config) RequireServices() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	return nil
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
