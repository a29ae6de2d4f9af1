package bbox

import (
	"testing"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

func TestDecodeItems(t *testing.T) {
	data := []byte(`[
		{"text": "Home", "confidence": 95, "bbox": [0, 0, 50, 20]},
		{"text": "Search", "confidence": 40, "bbox": {"x0": 60, "y0": 0, "x1": 150, "y1": 20}},
		{"text": "Login", "confidence": 88, "bbox": [{"x": 300, "y": 25}, {"x": 260, "y": 5}]}
	]`)

	items, err := DecodeItems(data)
	if err != nil {
		t.Fatalf("DecodeItems() error = %v", err)
	}
	want := []Rect{
		{X0: 0, Y0: 0, X1: 50, Y1: 20},
		{X0: 60, Y0: 0, X1: 150, Y1: 20},
		{X0: 260, Y0: 5, X1: 300, Y1: 25},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items", len(items))
	}
	for i, it := range items {
		if *it.BBox != want[i] {
			t.Errorf("item %d bbox = %+v, want %+v", i, *it.BBox, want[i])
		}
	}
	if items[1].Text != "Search" || items[1].Confidence != 40 {
		t.Errorf("item 1 = %+v", items[1])
	}
}

func TestDecodeItemsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing text", `[{"confidence": 90, "bbox": [0,0,1,1]}]`},
		{"missing confidence", `[{"text": "a", "bbox": [0,0,1,1]}]`},
		{"missing bbox", `[{"text": "a", "confidence": 90}]`},
		{"null bbox", `[{"text": "a", "confidence": 90, "bbox": null}]`},
		{"short array", `[{"text": "a", "confidence": 90, "bbox": [0,0,1]}]`},
		{"null coordinate", `[{"text": "a", "confidence": 90, "bbox": [null,0,50,20]}]`},
		{"null object coordinate", `[{"text": "a", "confidence": 90, "bbox": {"x0": null, "y0": 0, "x1": 50, "y1": 20}}]`},
		{"incomplete object", `[{"text": "a", "confidence": 90, "bbox": {"x0": 0, "y0": 0}}]`},
		{"single corner", `[{"text": "a", "confidence": 90, "bbox": [{"x": 1, "y": 1}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeItems([]byte(tt.data))
			if !errors.HasCode(err, errors.ErrorMalformedRecord) {
				t.Errorf("DecodeItems() error = %v, want MALFORMED_RECORD", err)
			}
		})
	}
}

func TestDecodeItemsEmpty(t *testing.T) {
	items, err := DecodeItems([]byte(`[]`))
	if err != nil || len(items) != 0 {
		t.Errorf("DecodeItems([]) = %v, %v", items, err)
	}
}
