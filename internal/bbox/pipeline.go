package bbox

import (
	"fmt"
	"math"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// Validate checks that the config can drive a pipeline run
func (c PipelineConfig) Validate() error {
	if c.MaxBoxCount < 1 {
		return errors.NewInvalidConfigError("maxBoxCount", fmt.Sprintf("must be at least 1, got %d", c.MaxBoxCount))
	}
	if math.IsNaN(c.MinConfidence) || math.IsInf(c.MinConfidence, 0) {
		return errors.NewInvalidConfigError("minConfidence", "must be a finite number")
	}
	if c.MaxWidth < 0 {
		return errors.NewInvalidConfigError("maxWidth", fmt.Sprintf("must not be negative, got %d", c.MaxWidth))
	}
	return nil
}

// Run extracts, filters and, when the filtered batch is larger than
// cfg.MaxBoxCount, summarizes one OCR batch. It holds no state between calls.
func Run(items []RecognizedItem, cfg PipelineConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ext, err := Extract(items)
	if err != nil {
		return nil, err
	}

	kept := FilterByConfidence(ext.Boxes, cfg.MinConfidence)
	result := &Result{
		Boxes:      kept,
		Extent:     ext.Extent,
		FullText:   ext.FullText,
		Recognized: len(ext.Boxes),
		Filtered:   len(ext.Boxes) - len(kept),
	}

	if len(kept) > cfg.MaxBoxCount {
		summarized, err := Summarize(kept, cfg.MaxBoxCount)
		if err != nil {
			return nil, err
		}
		result.Boxes = summarized
		result.Merged = len(kept) - (cfg.MaxBoxCount - 1)
	}

	return result, nil
}
