/**
 * Direct Redis Queue Consumer for the Layout Worker
 *
 * Jobs are plain Redis structures so producers in any language can enqueue:
 * - <queue>            LIST of job ids (LPUSH to enqueue, BRPOP to take)
 * - <queue>:data       HASH id -> RedisJob JSON
 * - <queue>:delayed    ZSET of job ids waiting out a retry backoff, scored by due time
 * - <queue>:processing / :completed / :failed   SETs of job ids
 * - <queue>:results / :errors                    HASH id -> JSON
 * - <queue>:events     pub/sub channel of job status events
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/blueprint-ai/layout-worker/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultMaxRetries = 3

// RedisJob represents a job stored in the <queue>:data hash
type RedisJob struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobEvent is published on <queue>:events whenever a job changes status
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	ResultID  string `json:"resultId,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// redisKeys names the Redis structures belonging to one queue
type redisKeys struct {
	queue      string
	data       string
	delayed    string
	processing string
	completed  string
	failed     string
	results    string
	errors     string
	events     string
}

func newRedisKeys(queue string) redisKeys {
	return redisKeys{
		queue:      queue,
		data:       queue + ":data",
		delayed:    queue + ":delayed",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client *redis.Client
	keys   redisKeys
	runner *jobRunner
	config *RedisConsumerConfig
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScreenshotProcessor
	ProcessingTimeout int64 // milliseconds
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "layoutprocess:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger := logging.NewLogger("RedisConsumer")
	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		keys:   newRedisKeys(cfg.QueueName),
		runner: newJobRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start launches the worker goroutines
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName,
	)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop cancels the workers, waits for in-flight jobs and closes the client
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.promoteDue(); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("Failed to promote delayed jobs", "worker", id, "error", err)
		}

		found, err := c.processNextJob()
		if err != nil && c.ctx.Err() == nil {
			c.logger.Error("Worker error", "worker", id, "error", err)
		}
		if err != nil || !found {
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob takes one job id off the list and runs it. found is false
// when the blocking pop timed out with nothing to do.
func (c *RedisConsumer) processNextJob() (found bool, err error) {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.queue).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("invalid job result")
	}

	id := result[1]
	raw, err := c.client.HGet(c.ctx, c.keys.data, id).Result()
	if err != nil {
		return true, fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(id, fmt.Errorf("failed to unmarshal job: %w", err))
		return true, nil
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		c.markFailed(job.ID, err)
		c.runner.failed(c.ctx, job.Payload.JobID, err, job.Attempts)
		return true, nil
	}

	c.markProcessing(job.ID)

	log := c.logger.With("jobId", job.Payload.JobID)
	log.Info("Processing job", "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	processResult, err := c.runner.run(c.ctx, &job.Payload)
	if err != nil {
		if c.ctx.Err() != nil {
			// Shutting down: hand the job back untouched.
			c.requeue(&job)
			return true, nil
		}

		log.Warn("Job failed", "error", err)
		job.Attempts++
		if retry, delay := retryDecision(err, job.Attempts, job.MaxRetries); retry {
			c.scheduleRetry(&job, delay)
			log.Info("Job scheduled for retry", "attempt", job.Attempts, "delay", delay)
		} else {
			c.markFailed(job.ID, err)
			c.runner.failed(c.ctx, job.Payload.JobID, err, job.Attempts)
		}
		return true, nil
	}

	c.markCompleted(job.ID, processResult)
	c.runner.completed(c.ctx, job.Payload.JobID, processResult)
	log.Info("Job completed", "resultId", processResult.ResultID)
	return true, nil
}

// retryDecision says whether a job that has now failed attempts times runs
// again and how long it waits first. Permanent failures never retry.
func retryDecision(err error, attempts, maxRetries int) (bool, time.Duration) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if isPermanent(err) || attempts >= maxRetries {
		return false, 0
	}
	return true, retryDelay(attempts-1, err, nil)
}

// scheduleRetry parks the job in the delayed set until its backoff has passed
func (c *RedisConsumer) scheduleRetry(job *RedisJob, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to encode job for retry", "jobId", job.ID, "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.keys.data, job.ID, data)
	pipe.SRem(ctx, c.keys.processing, job.ID)
	pipe.ZAdd(ctx, c.keys.delayed, redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to schedule job retry", "jobId", job.ID, "error", err)
	}
}

// promoteDue moves delayed jobs whose backoff has passed back onto the
// queue. Only the worker whose ZREM succeeds pushes a given id.
func (c *RedisConsumer) promoteDue() error {
	due, err := c.client.ZRangeByScore(c.ctx, c.keys.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := c.client.ZRem(c.ctx, c.keys.delayed, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := c.client.LPush(c.ctx, c.keys.queue, id).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisConsumer) requeue(job *RedisJob) {
	// A fresh context so the hand-back survives shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to encode job for requeue", "jobId", job.ID, "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.keys.data, job.ID, data)
	pipe.SRem(ctx, c.keys.processing, job.ID)
	pipe.LPush(ctx, c.keys.queue, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to requeue job", "jobId", job.ID, "error", err)
	}
}

func (c *RedisConsumer) markProcessing(id string) {
	if err := c.client.SAdd(c.ctx, c.keys.processing, id).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "jobId", id, "error", err)
	}
	c.publish(JobEvent{Event: "job:" + storage.JobStatusProcessing, JobID: id})
}

func (c *RedisConsumer) markCompleted(id string, result *processor.ProcessResult) {
	data, _ := json.Marshal(result)
	pipe := c.client.TxPipeline()
	pipe.SRem(c.ctx, c.keys.processing, id)
	pipe.SAdd(c.ctx, c.keys.completed, id)
	pipe.HSet(c.ctx, c.keys.results, id, data)
	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Warn("Failed to mark job completed", "jobId", id, "error", err)
	}
	c.publish(JobEvent{Event: "job:" + storage.JobStatusCompleted, JobID: id, ResultID: result.ResultID})
}

func (c *RedisConsumer) markFailed(id string, jobErr error) {
	data, _ := json.Marshal(failureMetadata(jobErr))
	pipe := c.client.TxPipeline()
	pipe.SRem(c.ctx, c.keys.processing, id)
	pipe.SAdd(c.ctx, c.keys.failed, id)
	pipe.HSet(c.ctx, c.keys.errors, id, data)
	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Warn("Failed to mark job failed", "jobId", id, "error", err)
	}
	c.publish(JobEvent{Event: "job:" + storage.JobStatusFailed, JobID: id, Error: jobErr.Error()})
}

// publish sends a status event for live subscribers
func (c *RedisConsumer) publish(event JobEvent) {
	event.Timestamp = time.Now().Format(time.RFC3339)
	data, _ := json.Marshal(event)
	if err := c.client.Publish(c.ctx, c.keys.events, data).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "jobId", event.JobID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys redisKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.queue)
	delayed := pipe.ZCard(ctx, keys.delayed)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"delayed":    delayed.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
