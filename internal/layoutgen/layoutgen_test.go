package layoutgen

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/prompt"
)

type scriptedCompleter struct {
	replies []string
	prompts []string
	images  []string
	err     error
}

func (s *scriptedCompleter) Complete(ctx context.Context, p string, img string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.prompts = append(s.prompts, p)
	s.images = append(s.images, img)
	reply := s.replies[len(s.prompts)-1]
	return reply, nil
}

const finalReply = "Here is the layout:\n```json\n" +
	`{"type":"Container","props":{"width":800,"height":600},"children":[{"type":"Text","props":{"text":"Orders"}},{"type":"Button","props":{"text":"Sign out"}}]}` +
	"\n```\nLet me know if you need changes."

func newTestGenerator(t *testing.T, c Completer) *Generator {
	t.Helper()
	b, err := prompt.NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return NewGenerator(c, b)
}

func TestGenerateChainsStages(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"UI SUMMARY TEXT", "GUI INVENTORY TEXT", finalReply}}
	g := newTestGenerator(t, c)

	layout, err := g.Generate(context.Background(), Request{
		JobID:          "job-1",
		Description:    "orders page",
		ImageBase64:    "aW1n",
		RecognizedText: "Orders",
		BoundingBoxes:  []bbox.BoundingBox{{Text: "Orders", Confidence: 90, Rect: bbox.Rect{X1: 50, Y1: 20}}},
		ImageWidth:     800,
		ImageHeight:    600,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(c.prompts) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(c.prompts))
	}
	if !strings.Contains(c.prompts[1], "UI SUMMARY TEXT") {
		t.Error("second prompt should include the first reply")
	}
	if !strings.Contains(c.prompts[2], "GUI INVENTORY TEXT") {
		t.Error("final prompt should include the second reply")
	}
	if c.images[0] != "aW1n" {
		t.Error("screenshot should be attached")
	}

	if len(layout.Stages) != 3 || layout.Stages[2].Stage != prompt.StageFinalLayout {
		t.Errorf("unexpected stages: %+v", layout.Stages)
	}
	if layout.Root.Type != "Container" || len(layout.Root.Children) != 2 {
		t.Errorf("unexpected root: %+v", layout.Root)
	}
	if layout.Root.Count() != 3 {
		t.Errorf("expected 3 nodes, got %d", layout.Root.Count())
	}
}

func TestGenerateCompleterError(t *testing.T) {
	g := newTestGenerator(t, &scriptedCompleter{err: fmt.Errorf("rate limited")})

	_, err := g.Generate(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected completer error, got %v", err)
	}
}

func TestGenerateBadFinalReply(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"a", "b", "I cannot produce a layout."}}
	g := newTestGenerator(t, c)

	_, err := g.Generate(context.Background(), Request{})
	if !errors.HasCode(err, errors.ErrorLayoutParse) {
		t.Fatalf("expected LAYOUT_PARSE_FAILED, got %v", err)
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &scriptedCompleter{replies: []string{"a", "b", finalReply}}
	if _, err := newTestGenerator(t, c).Generate(ctx, Request{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(c.prompts) != 0 {
		t.Errorf("no completion should run after cancellation, got %d", len(c.prompts))
	}
}

func TestParseLayout(t *testing.T) {
	deep := strings.Repeat(`{"type":"Box","children":[`, MaxDepth+1) + `{"type":"Text"}` + strings.Repeat(`]}`, MaxDepth+1)

	tests := []struct {
		name    string
		reply   string
		wantErr bool
		rootTyp string
	}{
		{"bare json", `{"type":"Container"}`, false, "Container"},
		{"fenced", finalReply, false, "Container"},
		{"prose around", `Sure! {"type":"Card","children":[{"type":"Text"}]} Done.`, false, "Card"},
		{"reasoning block", "<think>{\"type\":\"\"}</think>{\"type\":\"Page\"}", false, "Page"},
		{"no json", "no layout here", true, ""},
		{"missing type", `{"props":{}}`, true, ""},
		{"child missing type", `{"type":"Container","children":[{"props":{}}]}`, true, ""},
		{"null child", `{"type":"Container","children":[null]}`, true, ""},
		{"props not object", `{"type":"Container","props":[1,2]}`, true, ""},
		{"too deep", deep, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := ParseLayout(tt.reply)
			if tt.wantErr {
				if !errors.HasCode(err, errors.ErrorLayoutParse) {
					t.Fatalf("expected LAYOUT_PARSE_FAILED, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if root.Type != tt.rootTyp {
				t.Errorf("root type = %q, want %q", root.Type, tt.rootTyp)
			}
		})
	}
}

func TestNewOpenAICompleterRequiresKey(t *testing.T) {
	if _, err := NewOpenAICompleter(OpenAIConfig{Model: "gpt-4o-mini"}); err == nil {
		t.Fatal("expected error without API key")
	}
}
