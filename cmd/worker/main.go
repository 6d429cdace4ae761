/**
 * OCR Worker - Main Entry Point
 *
 * Consumes document IDs from the job queue and runs OCR on each:
 * - originals and JSON artifacts live under STORAGE_DIR, rows in PostgreSQL
 * - images are OCRed directly, PDFs are rasterized page by page with pdftoppm
 * - pages are normalized (grayscale, deskew, binarize) before recognition
 * - a failed document is marked failed and never retried automatically
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/receiptflow/ocr-worker/internal/config"
	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr/engine"
	"github.com/receiptflow/ocr-worker/internal/preprocess"
	"github.com/receiptflow/ocr-worker/internal/processor"
	"github.com/receiptflow/ocr-worker/internal/queue"
	"github.com/receiptflow/ocr-worker/internal/raster"
	"github.com/receiptflow/ocr-worker/internal/storage"
)

const healthCheckInterval = 30 * time.Second

func main() {
	logger := logging.NewLogger("worker")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireServices(); err != nil {
		logger.Error("Missing service configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Error("Invalid logging configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("OCR worker starting",
		"env", cfg.AppEnv,
		"queueBackend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"engine", cfg.OCREngine,
		"lang", cfg.TesseractLang,
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	storageManager, err := storage.NewStorageManager(startCtx, cfg.DatabaseURL, cfg.StorageDir)
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	defer storageManager.Close()
	logger.Info("Storage manager initialized", "storageDir", cfg.StorageDir)

	ocrEngine, err := engine.New(engine.Config{
		Type:           cfg.OCREngine,
		Language:       cfg.TesseractLang,
		TesseractPath:  cfg.TesseractPath,
		TessdataPrefix: cfg.TessdataPrefix,
	})
	if err != nil {
		logger.Error("Failed to initialize recognition engine", "error", err)
		os.Exit(1)
	}
	defer ocrEngine.Close()

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Engine:     ocrEngine,
		Rasterizer: raster.NewPopplerRasterizer(cfg.PdftoppmPath, cfg.PDFRenderDPI),
		Normalizer: preprocess.NewNormalizer(),
		Store:      storageManager,
	})
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		os.Exit(1)
	}

	queueConsumer, err := queue.NewConsumer(cfg.QueueBackend, cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}
	if err := queueConsumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("OCR worker is ready, waiting for jobs")

	healthCtx, stopHealth := context.WithCancel(context.Background())
	go runHealthChecks(healthCtx, storageManager, logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	stopHealth()

	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	logger.Info("Shutdown complete")
}

// runHealthChecks pings storage periodically and logs failures.
func runHealthChecks(ctx context.Context, sm *storage.StorageManager, logger *logging.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, sm); err != nil {
				logger.Warn("Health check failed", "error", err)
				continue
			}
			logger.Debug("Health check passed", "storage", sm.GetStats())
		}
	}
}

func healthCheck(ctx context.Context, sm *storage.StorageManager) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sm.Ping(ctx)
}
