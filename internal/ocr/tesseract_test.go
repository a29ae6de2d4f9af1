package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderText(t *testing.T, text string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEnginesRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	engines := []Engine{
		NewTesseractEngine(Options{Languages: []string{"eng"}}),
		NewCLIEngine("", Options{Languages: []string{"eng"}}),
	}

	for _, e := range engines {
		t.Run(e.Name(), func(t *testing.T) {
			items, err := e.Recognize(context.Background(), renderText(t, "Hello Layout"))
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if len(items) == 0 {
				t.Fatal("expected at least one line")
			}

			var all []string
			for _, it := range items {
				if it.BBox == nil {
					t.Fatalf("line %q has no bbox", it.Text)
				}
				all = append(all, strings.ToLower(it.Text))
			}
			got := strings.Join(all, " ")
			if !strings.Contains(got, "hello") {
				t.Fatalf("unexpected OCR output: %q", got)
			}
		})
	}
}

func TestEnginesCancelled(t *testing.T) {
	ensureTesseractAvailable(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engines := []Engine{
		NewTesseractEngine(Options{}),
		NewCLIEngine("", Options{}),
	}
	for _, e := range engines {
		t.Run(e.Name(), func(t *testing.T) {
			if _, err := e.Recognize(ctx, renderText(t, "x")); err == nil {
				t.Fatal("expected error for cancelled context")
			}
		})
	}
}

func TestCLIEngineMissingBinary(t *testing.T) {
	e := NewCLIEngine("/nonexistent/tesseract", Options{})

	_, err := e.Recognize(context.Background(), []byte("not an image"))
	if !errors.HasCode(err, errors.ErrorOCRFailed) {
		t.Fatalf("expected OCR_FAILED, got %v", err)
	}
}
