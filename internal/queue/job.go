/**
 * Job payloads and the shared job runner used by both queue backends
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/blueprint-ai/layout-worker/internal/storage"
)

// TaskTypeAnalyzeScreenshot is the asynq task type and the Redis job type
const TaskTypeAnalyzeScreenshot = "analyze-screenshot"

const defaultProcessingTimeout = 120 * time.Second

// JobPayload describes one screenshot to analyze
type JobPayload struct {
	JobID          string                 `json:"jobId"`
	Filename       string                 `json:"filename,omitempty"`
	ImageURL       string                 `json:"imageUrl,omitempty"`
	ImageBuffer    []byte                 `json:"imageBuffer,omitempty"`
	Description    string                 `json:"description,omitempty"`
	SkipGeneration bool                   `json:"skipGeneration,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts imageBuffer either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		ImageBuffer interface{} `json:"imageBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.ImageBuffer = nil
	if aux.ImageBuffer == nil {
		return nil
	}

	switch v := aux.ImageBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageBuffer: %w", err)
		}
		p.ImageBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.ImageBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.ImageBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("imageBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the fields every backend needs
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.ImageBuffer) == 0 && p.ImageURL == "" {
		return fmt.Errorf("job %s has neither imageBuffer nor imageUrl", p.JobID)
	}
	return nil
}

func (p *JobPayload) request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:          p.JobID,
		Filename:       p.Filename,
		ImageData:      p.ImageBuffer,
		ImageURL:       p.ImageURL,
		Description:    p.Description,
		SkipGeneration: p.SkipGeneration,
		Metadata:       p.Metadata,
	}
}

// jobRunner applies the per-job timeout and records job status in the
// database around one ProcessScreenshot call
type jobRunner struct {
	processor processor.ScreenshotProcessor
	timeout   time.Duration
	logger    *logging.Logger
}

func newJobRunner(p processor.ScreenshotProcessor, timeoutMs int64, logger *logging.Logger) *jobRunner {
	timeout := defaultProcessingTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &jobRunner{processor: p, timeout: timeout, logger: logger}
}

// run processes one payload. A deadline hit inside the job is reported as
// PROCESSING_TIMEOUT; cancellation of ctx itself is returned unchanged.
func (r *jobRunner) run(ctx context.Context, payload *JobPayload) (*processor.ProcessResult, error) {
	log := r.logger.With("jobId", payload.JobID)

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, storage.JobStatusProcessing, 0, map[string]interface{}{
		"filename": payload.Filename,
		"imageUrl": payload.ImageURL,
	}); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	log.Debug("Processing timeout set", "timeout", r.timeout)
	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.processor.ProcessScreenshot(processCtx, payload.request())
	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			log.Warn("Processing timed out", "elapsed", time.Since(start), "timeout", r.timeout)
			return nil, errors.NewProcessingTimeoutError(payload.JobID, r.timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// completed records a successful job
func (r *jobRunner) completed(ctx context.Context, jobID string, result *processor.ProcessResult) {
	if err := r.processor.UpdateJobStatus(ctx, jobID, storage.JobStatusCompleted, 100, map[string]interface{}{
		"processingTime":   result.ProcessingTimeMs,
		"resultId":         result.ResultID,
		"boxCount":         result.BoxCount,
		"regionCount":      result.RegionCount,
		"layoutNodes":      result.LayoutNodes,
		"similarResultIds": result.SimilarResultIDs,
	}); err != nil {
		r.logger.Warn("Failed to update status to completed", "jobId", jobID, "error", err)
	}
}

// failed records a job that will not be retried
func (r *jobRunner) failed(ctx context.Context, jobID string, jobErr error, attempts int) {
	metadata := failureMetadata(jobErr)
	metadata["attempts"] = attempts
	if err := r.processor.UpdateJobStatus(ctx, jobID, storage.JobStatusFailed, 100, metadata); err != nil {
		r.logger.Warn("Failed to update status to failed", "jobId", jobID, "error", err)
	}
}

// failureMetadata flattens a job error for the jobs table
func failureMetadata(err error) map[string]interface{} {
	metadata := map[string]interface{}{"error": err.Error()}
	if pe, ok := errors.AsProcessingError(err); ok {
		for k, v := range pe.ToMap() {
			metadata[k] = v
		}
		metadata["errorCode"] = string(pe.Code)
	}
	return metadata
}
