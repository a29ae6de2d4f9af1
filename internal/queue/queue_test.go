package queue

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/blueprint-ai/layout-worker/internal/storage"
	"github.com/hibiken/asynq"
)

type statusUpdate struct {
	jobID    string
	status   string
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu      sync.Mutex
	process func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error)
	updates []statusUpdate
}

func (f *fakeProcessor) ProcessScreenshot(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	return f.process(ctx, req)
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{jobID: jobID, status: status, metadata: metadata})
	return nil
}

func (f *fakeProcessor) last() statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

func TestJobPayloadUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"base64", `{"jobId":"a","imageBuffer":"iVBORw=="}`, []byte{0x89, 'P', 'N', 'G'}, false},
		{"node buffer", `{"jobId":"a","imageBuffer":{"type":"Buffer","data":[1,2,255]}}`, []byte{1, 2, 255}, false},
		{"absent", `{"jobId":"a","imageUrl":"http://x/y.png"}`, nil, false},
		{"bad base64", `{"jobId":"a","imageBuffer":"***"}`, nil, true},
		{"wrong buffer type", `{"jobId":"a","imageBuffer":{"type":"Blob","data":[1]}}`, nil, true},
		{"byte out of range", `{"jobId":"a","imageBuffer":{"type":"Buffer","data":[256]}}`, nil, true},
		{"number", `{"jobId":"a","imageBuffer":7}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.JobID != "a" {
				t.Errorf("JobID = %q", p.JobID)
			}
			if !bytes.Equal(p.ImageBuffer, tt.want) {
				t.Errorf("ImageBuffer = %v, want %v", p.ImageBuffer, tt.want)
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	payload := &JobPayload{ImageBuffer: []byte{1, 2, 3}, Description: "orders page"}
	task, err := NewTask(payload)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskTypeAnalyzeScreenshot {
		t.Errorf("task type = %q", task.Type())
	}
	if payload.JobID == "" {
		t.Fatal("JobID not assigned")
	}

	var decoded JobPayload
	if err := json.Unmarshal(task.Payload(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.JobID != payload.JobID || !bytes.Equal(decoded.ImageBuffer, payload.ImageBuffer) || decoded.Description != "orders page" {
		t.Errorf("decoded payload differs: %+v", decoded)
	}

	if _, err := NewTask(&JobPayload{JobID: "x"}); err == nil {
		t.Error("expected error for payload without image")
	}
}

func TestNewRedisJob(t *testing.T) {
	job, err := NewRedisJob(&JobPayload{JobID: "job-1", ImageURL: "https://example.com/a.png"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || job.Type != TaskTypeAnalyzeScreenshot || job.MaxRetries != 5 || job.Attempts != 0 {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{4, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.n, nil, nil); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if !isPermanent(fmt.Errorf("wrap: %w", errors.NewUnsupportedFormatError("j", "text/plain"))) {
		t.Error("unsupported format should be permanent")
	}
	if !isPermanent(errors.NewMalformedRecordError(2, "missing bbox")) {
		t.Error("malformed record should be permanent")
	}
	if isPermanent(errors.NewOCRFailedError("tesseract", "", nil)) {
		t.Error("OCR failure should be retried")
	}
	if isPermanent(fmt.Errorf("connection refused")) {
		t.Error("plain errors should be retried")
	}
}

func TestRetryDecision(t *testing.T) {
	transient := errors.NewOCRFailedError("tesseract", "", nil)
	tests := []struct {
		name       string
		err        error
		attempts   int
		maxRetries int
		wantRetry  bool
		wantDelay  time.Duration
	}{
		{"first transient failure", transient, 1, 3, true, 5 * time.Second},
		{"second transient failure", transient, 2, 3, true, 10 * time.Second},
		{"retries exhausted", transient, 3, 3, false, 0},
		{"default max retries", transient, 2, 0, true, 10 * time.Second},
		{"malformed record", errors.NewMalformedRecordError(0, "missing bbox"), 1, 3, false, 0},
		{"wrapped unsupported format", fmt.Errorf("wrap: %w", errors.NewUnsupportedFormatError("j", "text/plain")), 1, 3, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, delay := retryDecision(tt.err, tt.attempts, tt.maxRetries)
			if retry != tt.wantRetry || delay != tt.wantDelay {
				t.Errorf("retryDecision = (%v, %v), want (%v, %v)", retry, delay, tt.wantRetry, tt.wantDelay)
			}
		})
	}
}

func TestFailureMetadata(t *testing.T) {
	md := failureMetadata(errors.NewStorageFailedError("job-1", fmt.Errorf("disk full")))
	if md["errorCode"] != "STORAGE_FAILED" || md["cause"] != "disk full" {
		t.Errorf("unexpected metadata: %v", md)
	}

	md = failureMetadata(fmt.Errorf("boom"))
	if md["error"] != "boom" {
		t.Errorf("unexpected metadata: %v", md)
	}
	if _, ok := md["errorCode"]; ok {
		t.Error("plain errors carry no code")
	}
}

func TestJobRunner(t *testing.T) {
	logger := logging.NewLogger("test")

	t.Run("success", func(t *testing.T) {
		fp := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
			if req.JobID != "job-1" || len(req.ImageData) != 3 {
				return nil, fmt.Errorf("unexpected request %+v", req)
			}
			return &processor.ProcessResult{ResultID: "r-1", BoxCount: 3}, nil
		}}
		r := newJobRunner(fp, 0, logger)
		res, err := r.run(context.Background(), &JobPayload{JobID: "job-1", ImageBuffer: []byte{1, 2, 3}})
		if err != nil {
			t.Fatal(err)
		}
		r.completed(context.Background(), "job-1", res)

		if fp.updates[0].status != storage.JobStatusProcessing {
			t.Errorf("first update = %q", fp.updates[0].status)
		}
		if u := fp.last(); u.status != storage.JobStatusCompleted || u.metadata["resultId"] != "r-1" {
			t.Errorf("unexpected completion update: %+v", u)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		fp := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		r := newJobRunner(fp, 20, logger)
		_, err := r.run(context.Background(), &JobPayload{JobID: "job-2", ImageURL: "http://x"})
		if !errors.HasCode(err, errors.ErrorProcessingTimeout) {
			t.Fatalf("expected PROCESSING_TIMEOUT, got %v", err)
		}

		r.failed(context.Background(), "job-2", err, 1)
		if u := fp.last(); u.status != storage.JobStatusFailed || u.metadata["errorCode"] != "PROCESSING_TIMEOUT" {
			t.Errorf("unexpected failure update: %+v", u)
		}
	})

	t.Run("parent cancelled", func(t *testing.T) {
		fp := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
			return nil, ctx.Err()
		}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newJobRunner(fp, 0, logger).run(ctx, &JobPayload{JobID: "job-3", ImageURL: "http://x"})
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestHandleAnalyzeScreenshotRejectsBadPayload(t *testing.T) {
	fp := &fakeProcessor{}
	c, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379/0", QueueName: "test", Processor: fp})
	if err != nil {
		t.Fatal(err)
	}

	err = c.handleAnalyzeScreenshot(context.Background(), asynq.NewTask(TaskTypeAnalyzeScreenshot, []byte(`{"jobId":`)))
	if err == nil {
		t.Fatal("expected error")
	}
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload should skip retries: %v", err)
	}
}

func TestConsumerStatistics(t *testing.T) {
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:  "redis://localhost:6379/0",
		QueueName: "layout-jobs",
		Processor: &fakeProcessor{},
	})
	if err != nil {
		t.Fatal(err)
	}
	stats := c.GetStatistics()
	if stats["backend"] != "asynq" || stats["concurrency"] != 4 || stats["queue"] != "layout-jobs" {
		t.Errorf("unexpected statistics: %v", stats)
	}
}

// TestRedisConsumerRoundTrip needs a disposable Redis; set TEST_REDIS_URL to run it.
func TestRedisConsumerRoundTrip(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	queueName := fmt.Sprintf("layout-test-%d", time.Now().UnixNano())
	done := make(chan string, 1)
	fp := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
		done <- req.JobID
		return &processor.ProcessResult{ResultID: "r-" + req.JobID}, nil
	}}

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{RedisURL: redisURL, QueueName: queueName, Concurrency: 1, Processor: fp})
	if err != nil {
		t.Fatal(err)
	}
	enq, err := NewRedisEnqueuer(redisURL, queueName, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer enq.Close()

	ctx := context.Background()
	defer enq.client.Del(ctx, queueName, queueName+":data", queueName+":processing", queueName+":completed", queueName+":results")

	id, err := enq.Submit(ctx, &JobPayload{ImageURL: "http://example.com/a.png"})
	if err != nil {
		t.Fatal(err)
	}

	if err := consumer.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-done:
		if got != id {
			t.Errorf("processed %q, want %q", got, id)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("job was not processed")
	}
	if err := consumer.Stop(); err != nil {
		t.Fatal(err)
	}

	stats, err := enq.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["completed"] != 1 || stats["waiting"] != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

// TestRedisConsumerRetryPolicy needs a disposable Redis; set TEST_REDIS_URL to run it.
func TestRedisConsumerRetryPolicy(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	tests := []struct {
		name        string
		err         error
		wantFailed  int64
		wantDelayed int64
	}{
		{"permanent error fails at once", errors.NewMalformedRecordError(0, "missing bbox"), 1, 0},
		{"transient error waits out backoff", errors.NewOCRFailedError("tesseract", "", nil), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queueName := fmt.Sprintf("layout-test-%d", time.Now().UnixNano())
			fp := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
				return nil, tt.err
			}}
			consumer, err := NewRedisConsumer(&RedisConsumerConfig{RedisURL: redisURL, QueueName: queueName, Concurrency: 1, Processor: fp})
			if err != nil {
				t.Fatal(err)
			}
			defer consumer.Stop()

			ctx := context.Background()
			k := newRedisKeys(queueName)
			defer consumer.client.Del(ctx, k.queue, k.data, k.delayed, k.processing, k.failed, k.errors)

			enq, err := NewRedisEnqueuer(redisURL, queueName, 3)
			if err != nil {
				t.Fatal(err)
			}
			defer enq.Close()
			if _, err := enq.Submit(ctx, &JobPayload{ImageURL: "http://example.com/a.png"}); err != nil {
				t.Fatal(err)
			}

			found, err := consumer.processNextJob()
			if err != nil || !found {
				t.Fatalf("processNextJob = (%v, %v)", found, err)
			}

			stats, err := consumer.GetStats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats["failed"] != tt.wantFailed || stats["delayed"] != tt.wantDelayed || stats["waiting"] != 0 {
				t.Errorf("unexpected stats: %v", stats)
			}

			// Nothing is due yet, so promotion leaves the queue empty.
			if err := consumer.promoteDue(); err != nil {
				t.Fatal(err)
			}
			if n := consumer.client.LLen(ctx, k.queue).Val(); n != 0 {
				t.Errorf("queue length = %d, want 0", n)
			}
		})
	}
}
