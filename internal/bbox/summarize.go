package bbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// SummaryPrefix starts the text of every synthetic summary box.
const SummaryPrefix = "[SUMMARY of %d lines]: "

// Summarize caps boxes at maxCount entries. The maxCount-1 most confident
// boxes are kept as they are and everything else is folded into one summary
// box appended at the end.
//
// Ties in confidence keep their input order. When len(boxes) <= maxCount the
// call is a no-op and returns a copy of boxes. maxCount must be at least 1;
// with maxCount == 1 the result is a single summary of the whole batch.
func Summarize(boxes []BoundingBox, maxCount int) ([]BoundingBox, error) {
	if maxCount < 1 {
		return nil, errors.NewInvalidConfigError("maxBoxCount", fmt.Sprintf("must be at least 1, got %d", maxCount))
	}
	if len(boxes) <= maxCount {
		out := make([]BoundingBox, len(boxes))
		copy(out, boxes)
		return out, nil
	}

	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	top := sorted[:maxCount-1]
	rest := sorted[maxCount-1:]

	out := make([]BoundingBox, 0, maxCount)
	out = append(out, top...)
	out = append(out, summaryBox(rest))
	return out, nil
}

// summaryBox merges rest, which must be non-empty, into one box.
func summaryBox(rest []BoundingBox) BoundingBox {
	texts := make([]string, 0, len(rest))
	union := rest[0].Rect
	var sum float64
	for _, b := range rest {
		texts = append(texts, b.Text)
		sum += b.Confidence
		union = union.Union(b.Rect)
	}

	return BoundingBox{
		Text:       fmt.Sprintf(SummaryPrefix, len(rest)) + strings.Join(texts, " "),
		Confidence: sum / float64(len(rest)),
		Rect:       union,
	}
}
