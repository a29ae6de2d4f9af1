/**
 * Analysis Types - data handed from screenshot analysis to prompt building
 * and storage
 */

package processor

import (
	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

// Analysis is the structured result for one screenshot
type Analysis struct {
	// CompressedBase64 is the scaled screenshot as base64 JPEG.
	CompressedBase64 string `json:"compressedBase64"`
	// RecognizedText is every OCR line joined by newlines, before filtering.
	RecognizedText string              `json:"recognizedText"`
	BoundingBoxes  []bbox.BoundingBox  `json:"boundingBoxes"`
	ImageWidth     int                 `json:"imageWidth"`
	ImageHeight    int                 `json:"imageHeight"`
	Regions        []regions.RegionBox `json:"regions"`

	Stats AnalysisStats `json:"stats"`
}

// AnalysisStats records how the pipeline reduced the OCR output
type AnalysisStats struct {
	Format     string            `json:"format"`
	OCREngine  string            `json:"ocrEngine"`
	Recognized int               `json:"recognized"`
	Filtered   int               `json:"filtered"`
	Merged     int               `json:"merged"`
	Extent     bbox.CanvasExtent `json:"extent"`
	DurationMs int64             `json:"durationMs"`
}

// ToMap flattens the stats for storage
func (s AnalysisStats) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"format":     s.Format,
		"ocrEngine":  s.OCREngine,
		"recognized": s.Recognized,
		"filtered":   s.Filtered,
		"merged":     s.Merged,
		"extentX":    s.Extent.MaxX,
		"extentY":    s.Extent.MaxY,
		"durationMs": s.DurationMs,
	}
}
