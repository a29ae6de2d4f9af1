package storage

import (
	"math"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
)

// Layout fingerprints are an 8x8 grid over the canvas. Each cell holds the
// share of its area covered by text boxes, so screenshots with similar
// arrangements of text land close together under cosine distance.
const (
	fingerprintGrid = 8
	FingerprintDims = fingerprintGrid * fingerprintGrid
)

// Fingerprint computes the layout vector for boxes on a width x height
// canvas. An empty canvas yields the zero vector.
func Fingerprint(boxes []bbox.BoundingBox, width, height float64) []float32 {
	vec := make([]float32, FingerprintDims)
	if width <= 0 || height <= 0 {
		return vec
	}

	cellW := width / fingerprintGrid
	cellH := height / fingerprintGrid
	cellArea := cellW * cellH
	coverage := make([]float64, FingerprintDims)

	for _, b := range boxes {
		r := b.Rect
		c0 := clampCell(int(math.Floor(r.X0 / cellW)))
		c1 := clampCell(int(math.Floor(r.X1 / cellW)))
		r0 := clampCell(int(math.Floor(r.Y0 / cellH)))
		r1 := clampCell(int(math.Floor(r.Y1 / cellH)))

		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				ox := overlap(r.X0, r.X1, float64(col)*cellW, float64(col+1)*cellW)
				oy := overlap(r.Y0, r.Y1, float64(row)*cellH, float64(row+1)*cellH)
				coverage[row*fingerprintGrid+col] += ox * oy
			}
		}
	}

	for i, c := range coverage {
		vec[i] = float32(math.Min(c/cellArea, 1))
	}
	return vec
}

func clampCell(i int) int {
	if i < 0 {
		return 0
	}
	if i >= fingerprintGrid {
		return fingerprintGrid - 1
	}
	return i
}

func overlap(a0, a1, b0, b1 float64) float64 {
	return math.Max(0, math.Min(a1, b1)-math.Max(a0, b0))
}
