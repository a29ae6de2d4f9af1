/**
 * Asynq Queue Consumer for the Layout Worker
 *
 * Consumes analyze-screenshot tasks submitted through asynq (see Enqueuer).
 * asynq owns retries and backoff; the consumer only records job status.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/hibiken/asynq"
)

// Consumer handles job consumption from asynq
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *jobRunner
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScreenshotProcessor
	ProcessingTimeout int64 // milliseconds
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			IsFailure: func(err error) bool {
				return !isPermanent(err)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error",
					"type", task.Type(),
					"payloadBytes", len(task.Payload()),
					"error", err,
				)
			}),
			Logger: asynqLogger{logger},
		},
	)

	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		runner: newJobRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		logger: logger,
	}

	consumer.mux.HandleFunc(TaskTypeAnalyzeScreenshot, consumer.handleAnalyzeScreenshot)

	return consumer, nil
}

// retryDelay backs off 5s, 10s, 20s... capped at one minute
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// isPermanent reports whether retrying err cannot help: the input itself is
// unusable or the configuration is wrong
func isPermanent(err error) bool {
	for _, code := range []errors.ErrorCode{
		errors.ErrorUnsupportedFormat,
		errors.ErrorImageDecode,
		errors.ErrorMalformedRecord,
		errors.ErrorInvalidConfig,
	} {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}

// Start runs the asynq server in the background
func (c *Consumer) Start() error {
	c.logger.Info("Starting asynq queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName,
	)
	return c.server.Start(c.mux)
}

// Stop waits for in-flight tasks and shuts the server down
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	return nil
}

func (c *Consumer) handleAnalyzeScreenshot(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log := c.logger.With("jobId", payload.JobID)
	log.Info("Processing task", "filename", payload.Filename, "retry", retried)

	result, err := c.runner.run(ctx, &payload)
	if err != nil {
		if isPermanent(err) || retried >= maxRetry {
			c.runner.failed(ctx, payload.JobID, err, retried+1)
		}
		if isPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("screenshot processing failed: %w", err)
	}

	c.runner.completed(ctx, payload.JobID, result)
	log.Info("Task completed", "resultId", result.ResultID, "processingTimeMs", result.ProcessingTimeMs)
	return nil
}

// asynqLogger adapts Logger to asynq's printf-less logger interface
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
