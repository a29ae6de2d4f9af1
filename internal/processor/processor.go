/**
 * Screenshot Processor for the Layout Worker
 *
 * Orchestrates one screenshot job:
 * - load the image (inline bytes or URL)
 * - analyze it (OCR boxes and named regions)
 * - optionally generate an editable layout with the language model
 * - fingerprint and store the result
 */

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/layoutgen"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/storage"
)

// ScreenshotProcessor is what the queue consumers drive
type ScreenshotProcessor interface {
	ProcessScreenshot(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ResultStore persists analysis results
type ResultStore interface {
	StoreLayoutResult(ctx context.Context, input *storage.LayoutResultInput) (*storage.LayoutResultOutput, error)
	SearchSimilarLayouts(ctx context.Context, fingerprint []float32, limit int) ([]*storage.SimilarLayout, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Analyzer  *LayoutAnalyzer
	Store     ResultStore
	Generator *layoutgen.Generator // nil disables layout generation

	MaxImageBytes int64
	// SimilarLimit is how many earlier layouts to look up per job.
	SimilarLimit int
}

// ProcessRequest represents a screenshot processing request
type ProcessRequest struct {
	JobID       string
	Filename    string
	ImageData   []byte
	ImageURL    string
	Description string
	// SkipGeneration stores the analysis without calling the model.
	SkipGeneration bool
	// Metadata is caller context kept with the stored result as
	// stats.jobMetadata.
	Metadata map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	ResultID         string
	BoxCount         int
	RegionCount      int
	LayoutNodes      int
	SimilarResultIDs []string
	ProcessingTimeMs int64
}

// LayoutProcessor handles screenshot jobs
type LayoutProcessor struct {
	config     *ProcessorConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// NewLayoutProcessor creates a new screenshot processor
func NewLayoutProcessor(cfg *ProcessorConfig) (*LayoutProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("layout analyzer is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}

	if cfg.SimilarLimit <= 0 {
		cfg.SimilarLimit = 5
	}

	return &LayoutProcessor{
		config:     cfg,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logging.NewLogger("LayoutProcessor"),
	}, nil
}

// ProcessScreenshot runs a screenshot through the complete pipeline
func (p *LayoutProcessor) ProcessScreenshot(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With("jobId", req.JobID)
	log.Info("Starting screenshot processing", "filename", req.Filename)

	// Step 1: Load image
	data, err := p.loadImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	p.reportProgress(ctx, req.JobID, 10)

	// Step 2: Analyze
	analysis, err := p.config.Analyzer.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	p.reportProgress(ctx, req.JobID, 50)

	// Step 3: Fingerprint and look for earlier screenshots with the same arrangement
	fingerprint := storage.Fingerprint(analysis.BoundingBoxes, float64(analysis.ImageWidth), float64(analysis.ImageHeight))
	var similarIDs []string
	similar, err := p.config.Store.SearchSimilarLayouts(ctx, fingerprint, p.config.SimilarLimit)
	if err != nil {
		log.Warn("Similar layout search failed", "error", err)
	} else {
		for _, s := range similar {
			similarIDs = append(similarIDs, s.ResultID)
		}
	}

	// Step 4: Generate layout
	var layout *layoutgen.Layout
	if p.config.Generator != nil && !req.SkipGeneration {
		layout, err = p.config.Generator.Generate(ctx, layoutgen.Request{
			JobID:          req.JobID,
			Description:    req.Description,
			ImageBase64:    analysis.CompressedBase64,
			RecognizedText: analysis.RecognizedText,
			BoundingBoxes:  analysis.BoundingBoxes,
			Regions:        analysis.Regions,
			ImageWidth:     analysis.ImageWidth,
			ImageHeight:    analysis.ImageHeight,
		})
		if err != nil {
			return nil, err
		}
	}
	p.reportProgress(ctx, req.JobID, 90)

	// Step 5: Store
	stats := analysis.Stats.ToMap()
	stats["similarResults"] = similarIDs
	if len(req.Metadata) > 0 {
		stats["jobMetadata"] = req.Metadata
	}
	input := &storage.LayoutResultInput{
		JobID:          req.JobID,
		Fingerprint:    fingerprint,
		ImageWidth:     analysis.ImageWidth,
		ImageHeight:    analysis.ImageHeight,
		RecognizedText: analysis.RecognizedText,
		BoundingBoxes:  analysis.BoundingBoxes,
		Regions:        analysis.Regions,
		Stats:          stats,
	}
	if layout != nil {
		input.Layout = layout
	}

	stored, err := p.config.Store.StoreLayoutResult(ctx, input)
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	result := &ProcessResult{
		ResultID:         stored.ID,
		BoxCount:         len(analysis.BoundingBoxes),
		RegionCount:      len(analysis.Regions),
		SimilarResultIDs: similarIDs,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if layout != nil {
		result.LayoutNodes = layout.Root.Count()
	}

	log.Info("Screenshot processing complete",
		"resultId", result.ResultID,
		"boxes", result.BoxCount,
		"regions", result.RegionCount,
		"layoutNodes", result.LayoutNodes,
		"processingTimeMs", result.ProcessingTimeMs,
	)
	return result, nil
}

// UpdateJobStatus updates job status in database
func (p *LayoutProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	// Lift known fields out of the metadata
	if metadata != nil {
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if resultID, ok := metadata["resultId"].(string); ok {
			update.ResultID = resultID
		}
		if errorCode, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = errorCode
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = errorMsg
		}
	}

	return p.config.Store.UpdateJobStatus(ctx, update)
}

// reportProgress records intermediate progress. Failures only cost the
// progress bar, so they are logged and ignored.
func (p *LayoutProcessor) reportProgress(ctx context.Context, jobID string, progress int) {
	if jobID == "" {
		return
	}
	if err := p.UpdateJobStatus(ctx, jobID, storage.JobStatusProcessing, progress, nil); err != nil {
		p.logger.Warn("Failed to record progress", "jobId", jobID, "progress", progress, "error", err)
	}
}

// loadImage returns the inline image or downloads it
func (p *LayoutProcessor) loadImage(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.ImageData) > 0 {
		return req.ImageData, nil
	}

	if req.ImageURL != "" {
		return p.downloadImage(ctx, req.JobID, req.ImageURL)
	}

	return nil, fmt.Errorf("no image source provided (data or URL)")
}

// downloadImage fetches an image with exponential backoff between attempts
func (p *LayoutProcessor) downloadImage(ctx context.Context, jobID string, url string) ([]byte, error) {
	const (
		maxRetries       = 3
		initialBackoffMs = 500
		maxBackoffMs     = 8000
	)

	maxBytes := p.config.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := p.fetch(ctx, url, maxBytes)
		if err == nil {
			p.logger.Debug("Image downloaded", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)

		if attempt < maxRetries {
			backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
			if backoffMs > maxBackoffMs {
				backoffMs = maxBackoffMs
			}
			select {
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", maxRetries, lastErr)
}

func (p *LayoutProcessor) fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("image size exceeds maximum: %d > %d bytes", resp.ContentLength, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image size exceeds maximum of %d bytes", maxBytes)
	}
	return data, nil
}

// MarshalAnalysis renders an analysis as indented JSON
func MarshalAnalysis(a *Analysis) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
