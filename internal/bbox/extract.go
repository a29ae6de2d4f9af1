package bbox

import (
	"fmt"
	"math"
	"strings"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// Extract converts raw OCR records into bounding boxes, in input order, and
// records the canvas extent and the newline-joined text of the batch.
//
// A record without geometry, with a non-finite confidence, or with a
// negative or inverted rectangle fails the whole batch.
func Extract(items []RecognizedItem) (*Extraction, error) {
	ext := &Extraction{
		Boxes: make([]BoundingBox, 0, len(items)),
	}
	if len(items) == 0 {
		return ext, nil
	}

	lines := make([]string, 0, len(items))
	for i, item := range items {
		if err := item.validate(); err != nil {
			return nil, errors.NewMalformedRecordError(i, err.Error())
		}

		text := strings.TrimSpace(item.Text)
		rect := *item.BBox
		ext.Boxes = append(ext.Boxes, BoundingBox{
			Text:       text,
			Confidence: item.Confidence,
			Rect:       rect,
		})

		ext.Extent.MaxX = math.Max(ext.Extent.MaxX, rect.X1)
		ext.Extent.MaxY = math.Max(ext.Extent.MaxY, rect.Y1)
		lines = append(lines, text)
	}

	ext.FullText = strings.Join(lines, "\n")
	return ext, nil
}

func (item RecognizedItem) validate() error {
	if item.BBox == nil {
		return fmt.Errorf("missing bbox")
	}
	if math.IsNaN(item.Confidence) || math.IsInf(item.Confidence, 0) {
		return fmt.Errorf("confidence is not a finite number")
	}
	return item.BBox.validate()
}
