/**
 * Region Classifier
 *
 * Names a detected page block (sidebar, top navigation, footer, ...) from its
 * position and size relative to the canvas. The thresholds are screen-size
 * heuristics, so they travel as configuration rather than literals.
 */

package regions

import "fmt"

// Label is the semantic name given to a region
type Label string

const (
	LabelSidebar      Label = "sidebar"
	LabelTopNav       Label = "topNav"
	LabelRightSidebar Label = "rightSidebar"
	LabelFooter       Label = "footer"
	LabelBody         Label = "bodyRegion"
)

// Labels lists every label Classify can return
var Labels = []Label{LabelSidebar, LabelTopNav, LabelRightSidebar, LabelFooter, LabelBody}

// Thresholds holds the pixel bounds used by Classify
type Thresholds struct {
	// EdgeMargin is how close to the left, top or right edge a region must
	// start or end to count as docked there.
	EdgeMargin int `yaml:"edgeMargin"`
	// FooterMargin is the same for the bottom edge.
	FooterMargin int `yaml:"footerMargin"`

	SidebarMinWidth      int `yaml:"sidebarMinWidth"`
	SidebarMaxWidth      int `yaml:"sidebarMaxWidth"`
	RightSidebarMinWidth int `yaml:"rightSidebarMinWidth"`
	RightSidebarMaxWidth int `yaml:"rightSidebarMaxWidth"`

	// BarMaxHeight caps the height of top navigation and footer bars.
	BarMaxHeight int `yaml:"barMaxHeight"`
}

// DefaultThresholds returns the bounds tuned for desktop screenshots of
// roughly 1000-2000px width.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EdgeMargin:           50,
		FooterMargin:         100,
		SidebarMinWidth:      150,
		SidebarMaxWidth:      300,
		RightSidebarMinWidth: 100,
		RightSidebarMaxWidth: 300,
		BarMaxHeight:         200,
	}
}

// ComponentRect is a connected component's bounding rectangle in pixels
type ComponentRect struct {
	MinX int `json:"minX"`
	MinY int `json:"minY"`
	MaxX int `json:"maxX"`
	MaxY int `json:"maxY"`
}

// Width returns MaxX-MinX
func (r ComponentRect) Width() int { return r.MaxX - r.MinX }

// Height returns MaxY-MinY
func (r ComponentRect) Height() int { return r.MaxY - r.MinY }

// Classify assigns a label to rect. Rules are tried in order and the first
// match wins: sidebar, topNav, rightSidebar, footer, then bodyRegion.
func Classify(rect ComponentRect, canvasWidth, canvasHeight int, th Thresholds) Label {
	width := rect.Width()
	height := rect.Height()

	switch {
	case rect.MinX < th.EdgeMargin && between(width, th.SidebarMinWidth, th.SidebarMaxWidth):
		return LabelSidebar
	case rect.MinY < th.EdgeMargin && height < th.BarMaxHeight:
		return LabelTopNav
	case rect.MaxX > canvasWidth-th.EdgeMargin && between(width, th.RightSidebarMinWidth, th.RightSidebarMaxWidth):
		return LabelRightSidebar
	case rect.MaxY > canvasHeight-th.FooterMargin && height < th.BarMaxHeight:
		return LabelFooter
	default:
		return LabelBody
	}
}

func between(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

// RegionBox is a named region handed to the prompt builder
type RegionBox struct {
	Name   Label `json:"name"`
	X      int   `json:"x"`
	Y      int   `json:"y"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

// NameRegions classifies every component against the same canvas
func NameRegions(components []ComponentRect, canvasWidth, canvasHeight int, th Thresholds) []RegionBox {
	out := make([]RegionBox, 0, len(components))
	for _, c := range components {
		out = append(out, RegionBox{
			Name:   Classify(c, canvasWidth, canvasHeight, th),
			X:      c.MinX,
			Y:      c.MinY,
			Width:  c.Width(),
			Height: c.Height(),
		})
	}
	return out
}

// Validate rejects negative bounds and inverted width bands
func (th Thresholds) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"edgeMargin", th.EdgeMargin},
		{"footerMargin", th.FooterMargin},
		{"sidebarMinWidth", th.SidebarMinWidth},
		{"sidebarMaxWidth", th.SidebarMaxWidth},
		{"rightSidebarMinWidth", th.RightSidebarMinWidth},
		{"rightSidebarMaxWidth", th.RightSidebarMaxWidth},
		{"barMaxHeight", th.BarMaxHeight},
	} {
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", f.name, f.value)
		}
	}
	if th.SidebarMinWidth > th.SidebarMaxWidth {
		return fmt.Errorf("sidebarMinWidth %d exceeds sidebarMaxWidth %d", th.SidebarMinWidth, th.SidebarMaxWidth)
	}
	if th.RightSidebarMinWidth > th.RightSidebarMaxWidth {
		return fmt.Errorf("rightSidebarMinWidth %d exceeds rightSidebarMaxWidth %d", th.RightSidebarMinWidth, th.RightSidebarMaxWidth)
	}
	return nil
}
