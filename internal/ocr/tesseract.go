package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// TesseractEngine runs Tesseract in-process through gosseract and reports
// one record per text line.
type TesseractEngine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine creates a gosseract backed engine
func NewTesseractEngine(opts Options) *TesseractEngine {
	return &TesseractEngine{opts: opts, clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize performs OCR on a PNG image
func (e *TesseractEngine) Recognize(ctx context.Context, png []byte) ([]bbox.RecognizedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.opts.languages()...); err != nil {
		return nil, errors.NewOCRFailedError(e.Name(), "", fmt.Errorf("set languages: %w", err))
	}
	if e.opts.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.opts.PageSegMode)); err != nil {
			return nil, errors.NewOCRFailedError(e.Name(), "", fmt.Errorf("set page segmentation mode: %w", err))
		}
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return nil, errors.NewOCRFailedError(e.Name(), "", fmt.Errorf("set image: %w", err))
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, errors.NewOCRFailedError(e.Name(), tesseractDiagnostics(c), err)
	}

	// Tesseract itself cannot be interrupted; drop the result if the job
	// was cancelled meanwhile.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]bbox.RecognizedItem, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		items = append(items, bbox.RecognizedItem{
			Text:       text,
			Confidence: b.Confidence,
			BBox: &bbox.Rect{
				X0: float64(b.Box.Min.X),
				Y0: float64(b.Box.Min.Y),
				X1: float64(b.Box.Max.X),
				Y1: float64(b.Box.Max.Y),
			},
		})
	}
	return items, nil
}

func tesseractDiagnostics(c *gosseract.Client) string {
	return fmt.Sprintf("tesseract %s, languages %s", gosseract.Version(), strings.Join(c.Languages, "+"))
}
