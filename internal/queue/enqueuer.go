package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// JobSubmitter puts a screenshot job on a queue and returns its job id
type JobSubmitter interface {
	Submit(ctx context.Context, payload *JobPayload) (string, error)
	Close() error
}

// NewTask builds an analyze-screenshot task. A missing JobID is filled in
// with a fresh UUID.
func NewTask(payload *JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeAnalyzeScreenshot, data, opts...), nil
}

// Enqueuer submits tasks to the asynq backend
type Enqueuer struct {
	client     *asynq.Client
	queueName  string
	maxRetries int
	timeout    time.Duration
}

// NewEnqueuer connects an asynq client. timeoutMs bounds each task on the
// server side and is ignored when zero.
func NewEnqueuer(redisURL, queueName string, maxRetries int, timeoutMs int64) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Enqueuer{
		client:     asynq.NewClient(redisOpt),
		queueName:  queueName,
		maxRetries: maxRetries,
		timeout:    time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

// Submit enqueues payload on the configured queue
func (e *Enqueuer) Submit(ctx context.Context, payload *JobPayload) (string, error) {
	opts := []asynq.Option{asynq.Queue(e.queueName), asynq.MaxRetry(e.maxRetries)}
	if e.timeout > 0 {
		// Leave headroom over the worker's own deadline so it can record the timeout.
		opts = append(opts, asynq.Timeout(e.timeout+30*time.Second))
	}

	task, err := NewTask(payload, opts...)
	if err != nil {
		return "", err
	}

	if _, err := e.client.EnqueueContext(ctx, task, asynq.TaskID(payload.JobID)); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return payload.JobID, nil
}

// Close releases the client connection
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// RedisEnqueuer submits jobs in the layout RedisConsumer reads
type RedisEnqueuer struct {
	client     *redis.Client
	keys       redisKeys
	maxRetries int
}

// NewRedisEnqueuer connects to Redis
func NewRedisEnqueuer(redisURL, queueName string, maxRetries int) (*RedisEnqueuer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &RedisEnqueuer{
		client:     redis.NewClient(opt),
		keys:       newRedisKeys(queueName),
		maxRetries: maxRetries,
	}, nil
}

// NewRedisJob wraps payload in the record stored in <queue>:data
func NewRedisJob(payload *JobPayload, maxRetries int) (*RedisJob, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &RedisJob{
		ID:         payload.JobID,
		Type:       TaskTypeAnalyzeScreenshot,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}, nil
}

// Submit stores the job record and pushes its id onto the list
func (e *RedisEnqueuer) Submit(ctx context.Context, payload *JobPayload) (string, error) {
	job, err := NewRedisJob(payload, e.maxRetries)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}

	pipe := e.client.TxPipeline()
	pipe.HSet(ctx, e.keys.data, job.ID, data)
	pipe.LPush(ctx, e.keys.queue, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// Stats returns queue statistics
func (e *RedisEnqueuer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, e.client, e.keys)
}

// Close releases the client connection
func (e *RedisEnqueuer) Close() error {
	return e.client.Close()
}
