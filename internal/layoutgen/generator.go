/**
 * Layout Generator
 *
 * Drives the three model calls that turn an analyzed screenshot into an
 * editable layout: a free-form UI summary, a component inventory built
 * from that summary, and finally the layout JSON.
 */

package layoutgen

import (
	"context"
	"fmt"
	"time"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/prompt"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

// Request carries the analysis of one screenshot
type Request struct {
	JobID       string
	Description string
	ImageBase64 string

	RecognizedText string
	BoundingBoxes  []bbox.BoundingBox
	Regions        []regions.RegionBox
	ImageWidth     int
	ImageHeight    int
}

// StageOutput is the raw reply of one stage
type StageOutput struct {
	Stage    prompt.Stage  `json:"stage"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Layout is the result of a full generation run
type Layout struct {
	Root   *Node         `json:"root"`
	Stages []StageOutput `json:"stages"`
}

// Generator runs the generation stages against a Completer
type Generator struct {
	completer Completer
	builder   *prompt.Builder
	logger    *logging.Logger
}

// NewGenerator creates a generator
func NewGenerator(completer Completer, builder *prompt.Builder) *Generator {
	return &Generator{
		completer: completer,
		builder:   builder,
		logger:    logging.NewLogger("LayoutGenerator"),
	}
}

// Generate runs every stage in order, feeding each reply into the next
// prompt, and parses the final reply into a layout tree.
func (g *Generator) Generate(ctx context.Context, req Request) (*Layout, error) {
	layout := &Layout{Stages: make([]StageOutput, 0, len(prompt.Stages))}
	previous := ""

	for _, stage := range prompt.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := g.builder.Build(prompt.Input{
			Stage:          stage,
			Description:    req.Description,
			PreviousOutput: previous,
			RecognizedText: req.RecognizedText,
			BoundingBoxes:  req.BoundingBoxes,
			Regions:        req.Regions,
			ImageWidth:     req.ImageWidth,
			ImageHeight:    req.ImageHeight,
		})
		if err != nil {
			return nil, err
		}

		start := time.Now()
		reply, err := g.completer.Complete(ctx, text, req.ImageBase64)
		if err != nil {
			g.logger.Error("Layout stage failed",
				"jobId", req.JobID,
				"stage", stage,
				"error", err,
			)
			return nil, fmt.Errorf("%s stage: %w", stage, err)
		}

		out := StageOutput{Stage: stage, Output: reply, Duration: time.Since(start)}
		layout.Stages = append(layout.Stages, out)
		previous = reply

		g.logger.Debug("Layout stage completed",
			"jobId", req.JobID,
			"stage", stage,
			"promptLength", len(text),
			"replyLength", len(reply),
			"duration", out.Duration,
		)
	}

	root, err := ParseLayout(previous)
	if err != nil {
		return nil, err
	}
	layout.Root = root

	g.logger.Info("Layout generated",
		"jobId", req.JobID,
		"nodes", root.Count(),
	)
	return layout, nil
}
