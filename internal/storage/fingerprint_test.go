package storage

import (
	"math"
	"testing"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name   string
		boxes  []bbox.BoundingBox
		w, h   float64
		checks map[int]float32
		sum    float64
	}{
		{
			name:  "empty canvas",
			boxes: []bbox.BoundingBox{{Rect: bbox.Rect{X1: 10, Y1: 10}}},
			sum:   0,
		},
		{
			name:   "one full cell",
			boxes:  []bbox.BoundingBox{{Rect: bbox.Rect{X0: 0, Y0: 0, X1: 100, Y1: 100}}},
			w:      800,
			h:      800,
			checks: map[int]float32{0: 1, 1: 0, 8: 0},
			sum:    1,
		},
		{
			name:   "box straddling four cells",
			boxes:  []bbox.BoundingBox{{Rect: bbox.Rect{X0: 50, Y0: 50, X1: 150, Y1: 150}}},
			w:      800,
			h:      800,
			checks: map[int]float32{0: 0.25, 1: 0.25, 8: 0.25, 9: 0.25},
			sum:    1,
		},
		{
			name: "overlapping boxes saturate",
			boxes: []bbox.BoundingBox{
				{Rect: bbox.Rect{X0: 0, Y0: 0, X1: 100, Y1: 100}},
				{Rect: bbox.Rect{X0: 0, Y0: 0, X1: 100, Y1: 100}},
			},
			w:      800,
			h:      800,
			checks: map[int]float32{0: 1},
			sum:    1,
		},
		{
			name:   "box past the extent lands in the last cell",
			boxes:  []bbox.BoundingBox{{Rect: bbox.Rect{X0: 750, Y0: 750, X1: 900, Y1: 900}}},
			w:      800,
			h:      800,
			checks: map[int]float32{63: 0.25},
			sum:    0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := Fingerprint(tt.boxes, tt.w, tt.h)
			if len(vec) != FingerprintDims {
				t.Fatalf("expected %d dims, got %d", FingerprintDims, len(vec))
			}
			for i, want := range tt.checks {
				if math.Abs(float64(vec[i]-want)) > 1e-6 {
					t.Errorf("cell %d = %v, want %v", i, vec[i], want)
				}
			}
			var sum float64
			for _, v := range vec {
				sum += float64(v)
			}
			if math.Abs(sum-tt.sum) > 1e-5 {
				t.Errorf("sum = %v, want %v", sum, tt.sum)
			}
		})
	}
}
