package bbox

import (
	"encoding/json"
	"fmt"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// rawItem mirrors the OCR record wire format. Pointers let us tell a missing
// field from a zero value.
type rawItem struct {
	Text       *string         `json:"text"`
	Confidence *float64        `json:"confidence"`
	BBox       json.RawMessage `json:"bbox"`
}

type point struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// DecodeItems parses a JSON array of OCR records. Each bbox may be written as
// [x0,y0,x1,y1], as {"x0","y0","x1","y1"}, or as two corner points
// [{"x","y"},{"x","y"}] in either order.
func DecodeItems(data []byte) ([]RecognizedItem, error) {
	var raws []rawItem
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OCR records: %w", err)
	}

	items := make([]RecognizedItem, 0, len(raws))
	for i, raw := range raws {
		if raw.Text == nil {
			return nil, errors.NewMalformedRecordError(i, "missing text")
		}
		if raw.Confidence == nil {
			return nil, errors.NewMalformedRecordError(i, "missing confidence")
		}
		if len(raw.BBox) == 0 || string(raw.BBox) == "null" {
			return nil, errors.NewMalformedRecordError(i, "missing bbox")
		}
		rect, err := decodeRect(raw.BBox)
		if err != nil {
			return nil, errors.NewMalformedRecordError(i, err.Error())
		}
		items = append(items, RecognizedItem{
			Text:       *raw.Text,
			Confidence: *raw.Confidence,
			BBox:       &rect,
		})
	}
	return items, nil
}

func decodeRect(data json.RawMessage) (Rect, error) {
	var coords []*float64
	if err := json.Unmarshal(data, &coords); err == nil {
		if len(coords) != 4 {
			return Rect{}, fmt.Errorf("bbox array must have 4 numbers, got %d", len(coords))
		}
		for i, c := range coords {
			if c == nil {
				return Rect{}, fmt.Errorf("bbox array entry %d is null", i)
			}
		}
		return Rect{X0: *coords[0], Y0: *coords[1], X1: *coords[2], Y1: *coords[3]}, nil
	}

	var corners []point
	if err := json.Unmarshal(data, &corners); err == nil {
		if len(corners) != 2 {
			return Rect{}, fmt.Errorf("bbox corner form must have 2 points, got %d", len(corners))
		}
		for _, c := range corners {
			if c.X == nil || c.Y == nil {
				return Rect{}, fmt.Errorf("bbox corner point missing x or y")
			}
		}
		a, b := corners[0], corners[1]
		return Rect{
			X0: min(*a.X, *b.X),
			Y0: min(*a.Y, *b.Y),
			X1: max(*a.X, *b.X),
			Y1: max(*a.Y, *b.Y),
		}, nil
	}

	var obj struct {
		X0 *float64 `json:"x0"`
		Y0 *float64 `json:"y0"`
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return Rect{}, fmt.Errorf("unrecognized bbox format: %s", string(data))
	}
	if obj.X0 == nil || obj.Y0 == nil || obj.X1 == nil || obj.Y1 == nil {
		return Rect{}, fmt.Errorf("bbox object must have x0, y0, x1 and y1")
	}
	return Rect{X0: *obj.X0, Y0: *obj.Y0, X1: *obj.X1, Y1: *obj.Y1}, nil
}
