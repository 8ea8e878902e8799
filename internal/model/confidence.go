package model

// Confidence thresholds shared by the knowledge and enrichment agents. Kept
// in one place so the "no source attribution below threshold" invariant holds
// everywhere a value is published.
const (
	// TrustThreshold is the knowledge-phase publication gate. Values at or
	// above it skip enrichment entirely.
	TrustThreshold = 0.80

	// LiveContextConfidence is assigned to fields recovered by the
	// web-grounded live-page extraction path.
	LiveContextConfidence = 0.85

	// ScrapeFallbackConfidence is assigned to fields recovered by the
	// scrape-then-extract fallback path.
	ScrapeFallbackConfidence = 0.75
)

// Trusted reports whether a field value can be published without enrichment.
func (f FieldWithConfidence) Trusted() bool {
	return f.Value != nil && f.Confidence >= TrustThreshold
}
