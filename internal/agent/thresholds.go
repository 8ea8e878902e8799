package agent

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/recordgen/internal/model"
)

// Thresholds centralizes the confidence gates used by both phases. Keeping
// them in one place guarantees the no-source-without-threshold rule is
// enforced identically everywhere.
type Thresholds struct {
	// Trust is the knowledge-phase publication gate. Fields at or above it
	// skip enrichment entirely.
	Trust float64 `yaml:"trust"`
	// LiveContext is the confidence assigned to fields recovered by the
	// live page-reading path.
	LiveContext float64 `yaml:"live_context"`
	// ScrapeFallback is the confidence assigned to fields recovered by the
	// scrape-then-extract fallback path.
	ScrapeFallback float64 `yaml:"scrape_fallback"`
	// PerField overrides the trust gate for specific field names, so a
	// deployment can demand more certainty for, say, email than industry.
	PerField map[string]float64 `yaml:"per_field,omitempty"`
}

// DefaultThresholds returns the standard gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Trust:          model.TrustThreshold,
		LiveContext:    model.LiveContextConfidence,
		ScrapeFallback: model.ScrapeFallbackConfidence,
	}
}

// LoadThresholds reads threshold overrides from a YAML file, layered over the
// defaults. Unset keys keep their default values.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "agent: read thresholds %s", path)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, eris.Wrapf(err, "agent: parse thresholds %s", path)
	}
	return t, nil
}

// TrustFor returns the trust gate for a field, honoring per-field overrides.
func (t Thresholds) TrustFor(field string) float64 {
	if v, ok := t.PerField[field]; ok {
		return v
	}
	return t.Trust
}

// Trusted reports whether a field value clears its trust gate. A nil value
// never does.
func (t Thresholds) Trusted(f model.FieldWithConfidence) bool {
	return f.Value != nil && f.Confidence >= t.TrustFor(f.Name)
}
