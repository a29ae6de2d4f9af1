package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// CLIEngine runs the tesseract binary and parses its hOCR output. It is
// used where the worker is built without cgo, and it keeps the process's
// stderr for diagnostics when recognition fails.
type CLIEngine struct {
	opts Options
	path string
}

// NewCLIEngine creates an engine around the tesseract executable at path,
// or the one found in PATH when path is empty.
func NewCLIEngine(path string, opts Options) *CLIEngine {
	if path == "" {
		path = "tesseract"
	}
	return &CLIEngine{opts: opts, path: path}
}

func (e *CLIEngine) Name() string { return "tesseract-cli" }

// Recognize performs OCR on a PNG image. Cancelling ctx kills the process.
func (e *CLIEngine) Recognize(ctx context.Context, png []byte) ([]bbox.RecognizedItem, error) {
	args := []string{"stdin", "stdout", "-l", strings.Join(e.opts.languages(), "+")}
	if e.opts.PageSegMode > 0 {
		args = append(args, "--psm", strconv.Itoa(e.opts.PageSegMode))
	}
	args = append(args, "hocr")

	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewOCRFailedError(e.Name(), strings.TrimSpace(stderr.String()), fmt.Errorf("run %s: %w", e.path, err))
	}

	items, err := ParseHOCR(stdout.Bytes())
	if err != nil {
		return nil, errors.NewOCRFailedError(e.Name(), strings.TrimSpace(stderr.String()), err)
	}
	return items, nil
}
