package regions

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		rect ComponentRect
		w, h int
		want Label
	}{
		{"left column", ComponentRect{MinX: 10, MinY: 10, MaxX: 200, MaxY: 400}, 1000, 1000, LabelSidebar},
		{"narrow block near right edge", ComponentRect{MinX: 900, MinY: 500, MaxX: 980, MaxY: 600}, 1000, 1000, LabelBody},
		{"header bar", ComponentRect{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 60}, 1000, 1000, LabelTopNav},
		{"right column", ComponentRect{MinX: 780, MinY: 100, MaxX: 990, MaxY: 800}, 1000, 1000, LabelRightSidebar},
		{"footer bar", ComponentRect{MinX: 100, MinY: 920, MaxX: 700, MaxY: 990}, 1000, 1000, LabelFooter},
		{"centered card", ComponentRect{MinX: 300, MinY: 300, MaxX: 700, MaxY: 600}, 1000, 1000, LabelBody},
		{"sidebar lower width bound", ComponentRect{MinX: 0, MinY: 300, MaxX: 150, MaxY: 900}, 1000, 1000, LabelSidebar},
		{"sidebar upper width bound", ComponentRect{MinX: 0, MinY: 300, MaxX: 300, MaxY: 900}, 1000, 1000, LabelSidebar},
		{"too wide for sidebar", ComponentRect{MinX: 0, MinY: 300, MaxX: 301, MaxY: 900}, 1000, 1000, LabelBody},
		{"bar at exact height cap", ComponentRect{MinX: 400, MinY: 0, MaxX: 900, MaxY: 200}, 1000, 1000, LabelBody},
		// A top-left block matching both sidebar and topNav resolves to sidebar.
		{"sidebar wins over topNav", ComponentRect{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}, 1000, 1000, LabelSidebar},
		// topNav is tried before rightSidebar.
		{"topNav wins over rightSidebar", ComponentRect{MinX: 800, MinY: 0, MaxX: 1000, MaxY: 100}, 1000, 1000, LabelTopNav},
		// rightSidebar is tried before footer.
		{"rightSidebar wins over footer", ComponentRect{MinX: 800, MinY: 850, MaxX: 1000, MaxY: 1000}, 1000, 1000, LabelRightSidebar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.rect, tt.w, tt.h, th)
			if got != tt.want {
				t.Errorf("Classify(%+v) = %q, want %q", tt.rect, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	th := DefaultThresholds()
	rect := ComponentRect{MinX: 10, MinY: 10, MaxX: 200, MaxY: 400}

	first := Classify(rect, 1000, 1000, th)
	for i := 0; i < 100; i++ {
		if got := Classify(rect, 1000, 1000, th); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
}

func TestClassifyLabelSet(t *testing.T) {
	th := DefaultThresholds()
	known := make(map[Label]bool)
	for _, l := range Labels {
		known[l] = true
	}

	for x := 0; x < 1000; x += 97 {
		for y := 0; y < 1000; y += 89 {
			for _, size := range []int{40, 120, 250, 600} {
				rect := ComponentRect{MinX: x, MinY: y, MaxX: x + size, MaxY: y + size/2}
				if l := Classify(rect, 1000, 1000, th); !known[l] {
					t.Fatalf("Classify(%+v) returned unknown label %q", rect, l)
				}
			}
		}
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.SidebarMinWidth = 50

	rect := ComponentRect{MinX: 0, MinY: 300, MaxX: 80, MaxY: 900}
	if got := Classify(rect, 1000, 1000, DefaultThresholds()); got != LabelBody {
		t.Fatalf("default thresholds: got %q, want %q", got, LabelBody)
	}
	if got := Classify(rect, 1000, 1000, th); got != LabelSidebar {
		t.Fatalf("custom thresholds: got %q, want %q", got, LabelSidebar)
	}
}

func TestNameRegions(t *testing.T) {
	comps := []ComponentRect{
		{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 60},
		{MinX: 10, MinY: 80, MaxX: 200, MaxY: 900},
	}

	got := NameRegions(comps, 1000, 1000, DefaultThresholds())
	if len(got) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(got))
	}
	if got[0].Name != LabelTopNav || got[0].Width != 1000 || got[0].Height != 60 {
		t.Errorf("unexpected first region: %+v", got[0])
	}
	if got[1].Name != LabelSidebar || got[1].X != 10 || got[1].Y != 80 {
		t.Errorf("unexpected second region: %+v", got[1])
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds should be valid: %v", err)
	}

	neg := DefaultThresholds()
	neg.EdgeMargin = -1
	if err := neg.Validate(); err == nil {
		t.Error("expected error for negative margin")
	}

	inverted := DefaultThresholds()
	inverted.SidebarMinWidth = 400
	if err := inverted.Validate(); err == nil {
		t.Error("expected error for inverted sidebar band")
	}

	several := DefaultThresholds()
	several.BarMaxHeight = -1
	several.EdgeMargin = -5
	several.RightSidebarMaxWidth = -2
	for i := 0; i < 20; i++ {
		err := several.Validate()
		if err == nil || !strings.HasPrefix(err.Error(), "edgeMargin ") {
			t.Fatalf("expected the first negative field to be reported, got %v", err)
		}
	}
}
