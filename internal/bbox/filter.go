package bbox

// FilterByConfidence keeps the boxes whose confidence is at least
// minConfidence, preserving their relative order. The input is not modified.
func FilterByConfidence(boxes []BoundingBox, minConfidence float64) []BoundingBox {
	kept := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence >= minConfidence {
			kept = append(kept, b)
		}
	}
	return kept
}
