/**
 * Layout Analyzer
 *
 * Turns screenshot bytes into an Analysis:
 * - scale and grayscale the image
 * - OCR text lines and reduce them to a bounded set of boxes
 * - detect page blocks and name them
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/config"
	"github.com/blueprint-ai/layout-worker/internal/layoutgen"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/ocr"
	"github.com/blueprint-ai/layout-worker/internal/preprocess"
	"github.com/blueprint-ai/layout-worker/internal/prompt"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

// AnalyzerConfig holds analyzer settings
type AnalyzerConfig struct {
	Engine        ocr.Engine
	Pipeline      bbox.PipelineConfig
	Thresholds    regions.Thresholds
	Detect        regions.DetectOptions
	JPEGQuality   int
	MaxImageBytes int64
}

// LayoutAnalyzer performs screenshot analysis without touching storage
type LayoutAnalyzer struct {
	cfg    AnalyzerConfig
	logger *logging.Logger
}

// NewLayoutAnalyzer creates a new layout analyzer
func NewLayoutAnalyzer(cfg AnalyzerConfig) (*LayoutAnalyzer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier thresholds: %w", err)
	}

	return &LayoutAnalyzer{
		cfg:    cfg,
		logger: logging.NewLogger("LayoutAnalyzer"),
	}, nil
}

// Analyze runs preprocessing, OCR, the bounding box pipeline and region
// naming on one screenshot
func (l *LayoutAnalyzer) Analyze(ctx context.Context, data []byte) (*Analysis, error) {
	start := time.Now()

	img, err := preprocess.Prepare(data, preprocess.Options{
		MaxWidth:    l.cfg.Pipeline.MaxWidth,
		JPEGQuality: l.cfg.JPEGQuality,
		MaxBytes:    l.cfg.MaxImageBytes,
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Image prepared",
		"format", img.Format,
		"originalWidth", img.OriginalWidth,
		"width", img.Width,
		"height", img.Height,
	)

	items, err := l.cfg.Engine.Recognize(ctx, img.PNG)
	if err != nil {
		return nil, err
	}

	result, err := bbox.Run(items, l.cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	components := regions.DetectComponents(img.Gray, l.cfg.Detect)
	named := regions.NameRegions(components, img.Width, img.Height, l.cfg.Thresholds)

	analysis := &Analysis{
		CompressedBase64: img.CompressedBase64,
		RecognizedText:   result.FullText,
		BoundingBoxes:    result.Boxes,
		ImageWidth:       img.Width,
		ImageHeight:      img.Height,
		Regions:          named,
		Stats: AnalysisStats{
			Format:     img.Format,
			OCREngine:  l.cfg.Engine.Name(),
			Recognized: result.Recognized,
			Filtered:   result.Filtered,
			Merged:     result.Merged,
			Extent:     result.Extent,
			DurationMs: time.Since(start).Milliseconds(),
		},
	}

	l.logger.Info("Screenshot analyzed",
		"boxes", len(analysis.BoundingBoxes),
		"recognized", result.Recognized,
		"merged", result.Merged,
		"regions", len(named),
		"durationMs", analysis.Stats.DurationMs,
	)
	return analysis, nil
}

// NewAnalyzerFromConfig builds the OCR engine and analyzer selected by cfg
func NewAnalyzerFromConfig(cfg *config.Config) (*LayoutAnalyzer, error) {
	thresholds, err := cfg.ClassifierThresholds()
	if err != nil {
		return nil, err
	}

	opts := ocr.Options{Languages: cfg.TesseractLanguages}
	var engine ocr.Engine
	switch cfg.OCREngine {
	case config.OCREngineCLI:
		engine = ocr.NewCLIEngine(cfg.TesseractPath, opts)
	default:
		engine = ocr.NewTesseractEngine(opts)
	}

	return NewLayoutAnalyzer(AnalyzerConfig{
		Engine:        engine,
		Pipeline:      cfg.PipelineConfig(),
		Thresholds:    thresholds,
		Detect:        regions.DefaultDetectOptions(),
		MaxImageBytes: cfg.MaxImageBytes,
	})
}

// NewGeneratorFromConfig returns the layout generator, or nil when no model
// credentials are configured
func NewGeneratorFromConfig(cfg *config.Config) (*layoutgen.Generator, error) {
	if !cfg.GenerationEnabled() {
		return nil, nil
	}

	completer, err := layoutgen.NewOpenAICompleter(layoutgen.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		return nil, err
	}

	builder, err := prompt.NewBuilder()
	if err != nil {
		return nil, err
	}
	return layoutgen.NewGenerator(completer, builder), nil
}
