/**
 * Bounding box types for the screenshot pipeline
 *
 * RecognizedItem is what an OCR engine hands us; BoundingBox is what the
 * pipeline works on and what ends up embedded in the layout prompt.
 */

package bbox

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle in image pixel space.
// (X0,Y0) is the top-left corner and (X1,Y1) the bottom-right.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns X1-X0
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns Y1-Y0
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Union returns the smallest rectangle containing both r and o
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// validate checks the non-negative, non-inverted invariant.
func (r Rect) validate() error {
	for _, v := range []float64{r.X0, r.Y0, r.X1, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox has non-finite coordinate")
		}
		if v < 0 {
			return fmt.Errorf("bbox has negative coordinate %v", v)
		}
	}
	if r.X1 < r.X0 || r.Y1 < r.Y0 {
		return fmt.Errorf("bbox is inverted (%v,%v)-(%v,%v)", r.X0, r.Y0, r.X1, r.Y1)
	}
	return nil
}

// RecognizedItem is one OCR record: a line or word with its confidence and
// location. A nil BBox marks a record that arrived without geometry.
type RecognizedItem struct {
	Text       string
	Confidence float64
	BBox       *Rect
}

// BoundingBox is the pipeline's working unit. It is either a copy of a single
// RecognizedItem or a synthetic summary of many.
type BoundingBox struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Rect       Rect    `json:"bbox"`
}

// CanvasExtent is the furthest bottom-right corner reached by any box in a
// batch. It stands in for the image size when the real one is unknown.
type CanvasExtent struct {
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// PipelineConfig carries the per-run knobs. MaxWidth is not used by the box
// pipeline itself; it travels with the config to the image preprocessor.
type PipelineConfig struct {
	MaxWidth      int
	MaxBoxCount   int
	MinConfidence float64
}

// Extraction is the output of Extract
type Extraction struct {
	Boxes    []BoundingBox
	Extent   CanvasExtent
	FullText string
}

// Result is the output of Run. Extent and FullText come from the extraction
// step and are not affected by filtering or summarization.
type Result struct {
	Boxes    []BoundingBox `json:"boundingBoxes"`
	Extent   CanvasExtent  `json:"extent"`
	FullText string        `json:"fullText"`

	// Recognized is the number of boxes extraction produced.
	Recognized int `json:"recognized"`
	// Filtered is the number of boxes dropped below MinConfidence.
	Filtered int `json:"filtered"`
	// Merged is the number of boxes folded into the summary box, zero when
	// no summarization happened.
	Merged int `json:"merged"`
}
