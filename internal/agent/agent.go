// Package agent contains the record synthesis strategies. The hybrid strategy
// proposes a whole batch of candidates in one model call and then enriches
// only the fields that call could not trust; the legacy strategy routes each
// field by keyword to a search-driven sub-agent. Both run behind the same
// Strategy contract so the orchestrator never cares which is active.
package agent

import (
	"context"
	"strings"

	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

// Result is the per-entity output of an enrichment pass.
type Result struct {
	Fields  map[string]model.FieldWithConfidence
	Sources []model.SourceAttribution
	Usage   anthropic.TokenUsage
}

// newResult seeds a Result with every requested field at null/zero, so soft
// failures still produce a complete field map.
func newResult(fields []model.EnrichmentField) *Result {
	r := &Result{Fields: make(map[string]model.FieldWithConfidence, len(fields))}
	for _, f := range fields {
		r.Fields[f.Name] = model.NewFieldWithConfidence(f.Name, nil, 0)
	}
	return r
}

// setField records a recovered value at the given phase confidence and, when
// the confidence clears the phase threshold, attaches a source attribution.
func (r *Result) setField(name string, value any, confidence, threshold float64, sourceURL string) {
	f := model.NewFieldWithConfidence(name, value, confidence)
	r.Fields[name] = f
	if f.Value != nil && f.Confidence >= threshold {
		r.Sources = append(r.Sources, model.SourceAttribution{
			Field:      name,
			URL:        sourceURL,
			Confidence: f.Confidence,
		})
	}
}

// Strategy is one orchestration mode for a generation job.
type Strategy interface {
	// Seed proposes the initial candidate entities for the batch. A Seed
	// failure fails the whole job; everything downstream depends on it.
	Seed(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error)

	// EnrichEntity attempts to raise confidence for the given fields of one
	// candidate. Returns a non-nil Result on soft failure (fields left at
	// null/zero) and an error only for job-aborting conditions.
	EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*Result, error)
}

// FieldCategory buckets fields for the legacy keyword-routed strategy and for
// the contact-field scrape routing rule shared by both strategies.
type FieldCategory string

const (
	CategoryDiscovery FieldCategory = "discovery"
	CategoryContact   FieldCategory = "contact"
	CategoryProfile   FieldCategory = "profile"
	CategoryGeneral   FieldCategory = "general"
)

var categoryKeywords = map[FieldCategory][]string{
	CategoryDiscovery: {"name", "url", "website", "domain"},
	CategoryContact:   {"email", "phone", "tel", "address", "contact"},
	CategoryProfile:   {"industry", "size", "employee", "description", "sector", "revenue"},
}

// Categorize routes a field by keyword match against its name and description.
func Categorize(f model.EnrichmentField) FieldCategory {
	haystack := strings.ToLower(f.Name + " " + f.Description)
	for _, cat := range []FieldCategory{CategoryContact, CategoryDiscovery, CategoryProfile} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(haystack, kw) {
				return cat
			}
		}
	}
	return CategoryGeneral
}

// IsContactField reports whether a field holds volatile structured contact
// data. Model-knowledge answers for these are unreliable, so they are always
// verified through the scrape path, no matter what confidence the knowledge
// phase claimed.
func IsContactField(f model.EnrichmentField) bool {
	return Categorize(f) == CategoryContact
}
