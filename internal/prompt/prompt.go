/**
 * Prompt Builder
 *
 * Renders the instructions sent to the layout model for each generation
 * stage. Output depends only on the input, so identical analyses always
 * produce identical prompts.
 */

package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Stage names one step of layout generation
type Stage string

const (
	StageUISummary   Stage = "ui-summary"
	StageGUISummary  Stage = "gui-summary"
	StageFinalLayout Stage = "final-layout"
)

// Stages lists the generation stages in execution order
var Stages = []Stage{StageUISummary, StageGUISummary, StageFinalLayout}

// Sections toggles the optional parts of a prompt
type Sections struct {
	Description bool
	OCR         bool
	Regions     bool
	Schema      bool
}

// DefaultSections returns the sections each stage includes
func DefaultSections(stage Stage) Sections {
	switch stage {
	case StageUISummary:
		return Sections{Description: true, OCR: true, Regions: true}
	case StageGUISummary:
		return Sections{OCR: true, Regions: true}
	default:
		return Sections{OCR: true, Schema: true}
	}
}

// Input is everything a prompt can draw on
type Input struct {
	Stage          Stage
	Description    string
	PreviousOutput string

	RecognizedText string
	BoundingBoxes  []bbox.BoundingBox
	Regions        []regions.RegionBox
	ImageWidth     int
	ImageHeight    int
}

// Builder renders prompts for every stage
type Builder struct {
	sections  map[Stage]Sections
	templates map[Stage]*template.Template
}

// NewBuilder parses the stage templates
func NewBuilder() (*Builder, error) {
	b := &Builder{
		sections:  make(map[Stage]Sections),
		templates: make(map[Stage]*template.Template),
	}

	funcs := template.FuncMap{"json": toJSON}
	for _, stage := range Stages {
		tmpl, err := template.New("prompt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/prompt.tmpl", "templates/"+string(stage)+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("error parsing %s template: %w", stage, err)
		}
		b.templates[stage] = tmpl
		b.sections[stage] = DefaultSections(stage)
	}
	return b, nil
}

// WithSections overrides the sections rendered for stage
func (b *Builder) WithSections(stage Stage, s Sections) *Builder {
	b.sections[stage] = s
	return b
}

// Build renders the prompt for in.Stage
func (b *Builder) Build(in Input) (string, error) {
	tmpl, ok := b.templates[in.Stage]
	if !ok {
		return "", fmt.Errorf("unknown prompt stage %q", in.Stage)
	}

	data := struct {
		Input
		Sections Sections
	}{Input: in, Sections: b.sections[in.Stage]}
	if data.BoundingBoxes == nil {
		data.BoundingBoxes = []bbox.BoundingBox{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering %s prompt: %w", in.Stage, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func toJSON(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
