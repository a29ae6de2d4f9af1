/**
 * Layout Worker - Main Entry Point
 *
 * Turns UI screenshots into structured layout data:
 * - Redis list or asynq consumer for the job queue
 * - Tesseract OCR reduced to a bounded set of bounding boxes
 * - Region detection and naming (sidebar, topNav, footer, ...)
 * - Optional multi-stage layout generation through an OpenAI-compatible model
 * - PostgreSQL persistence and Qdrant similar-layout index
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/config"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/blueprint-ai/layout-worker/internal/queue"
	"github.com/blueprint-ai/layout-worker/internal/storage"
	"github.com/joho/godotenv"
)

// consumer is satisfied by both queue backends
type consumer interface {
	Start() error
	Stop() error
}

func main() {
	logger := logging.NewLogger("Worker")

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Invalid LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}

	logger.Info("Layout worker starting",
		"queueBackend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"qdrant", cfg.QdrantURL,
		"workers", cfg.WorkerConcurrency,
		"ocrEngine", cfg.OCREngine,
	)

	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		logger.Fatal("Failed to initialize storage manager", "error", err)
	}
	statsCtx, statsCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if stats, err := storageManager.GetStats(statsCtx); err == nil {
		logger.Info("Storage manager initialized (PostgreSQL + Qdrant)", "stats", stats)
	} else {
		logger.Warn("Storage manager initialized, stats unavailable", "error", err)
	}
	statsCancel()

	analyzer, err := processor.NewAnalyzerFromConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize layout analyzer", "error", err)
	}

	generator, err := processor.NewGeneratorFromConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize layout generator", "error", err)
	}
	if generator == nil {
		logger.Warn("OPENAI_API_KEY not set, layout generation disabled")
	}

	proc, err := processor.NewLayoutProcessor(&processor.ProcessorConfig{
		Analyzer:      analyzer,
		Store:         storageManager,
		Generator:     generator,
		MaxImageBytes: cfg.MaxImageBytes,
	})
	if err != nil {
		logger.Fatal("Failed to initialize layout processor", "error", err)
	}

	var queueConsumer consumer
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		queueConsumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout().Milliseconds(),
		})
	default:
		queueConsumer, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout().Milliseconds(),
		})
	}
	if err != nil {
		storageManager.Close()
		logger.Fatal("Failed to initialize queue consumer", "error", err)
	}

	if err := queueConsumer.Start(); err != nil {
		storageManager.Close()
		logger.Fatal("Failed to start queue consumer", "error", err)
	}
	logConsumerStats(logger, queueConsumer, "Layout worker ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	logConsumerStats(logger, queueConsumer, "Queue state at shutdown")

	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	if err := storageManager.Close(); err != nil {
		logger.Error("Error closing storage manager", "error", err)
	}

	logger.Info("Shutdown complete")
}

// logConsumerStats logs msg with whatever statistics the backend exposes
func logConsumerStats(logger *logging.Logger, c consumer, msg string) {
	switch qc := c.(type) {
	case *queue.Consumer:
		logger.Info(msg, "stats", qc.GetStatistics())
	case *queue.RedisConsumer:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stats, err := qc.GetStats(ctx)
		if err != nil {
			logger.Info(msg, "statsError", err)
			return
		}
		logger.Info(msg, "stats", stats)
	default:
		logger.Info(msg)
	}
}
