/**
 * OCR engines
 *
 * An Engine turns a prepared PNG screenshot into line-level OCR records that
 * the bounding box pipeline can consume.
 */

package ocr

import (
	"context"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
)

// Engine recognizes text lines in an image
type Engine interface {
	Name() string
	Recognize(ctx context.Context, png []byte) ([]bbox.RecognizedItem, error)
}

// Options shared by the engines
type Options struct {
	Languages []string
	// PageSegMode is passed to tesseract as --psm when non-zero.
	PageSegMode int
}

func (o Options) languages() []string {
	if len(o.Languages) == 0 {
		return []string{"eng"}
	}
	return o.Languages
}
