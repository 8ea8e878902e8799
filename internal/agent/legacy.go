package agent

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/gateway"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

// LegacyStrategy is the original keyword-routed mode: the batch is seeded
// from web search instead of model knowledge, and every field is handled by
// a category-specific path. Slower and chattier than the hybrid mode, kept
// selectable for populations the knowledge phase covers poorly.
type LegacyStrategy struct {
	gw         *gateway.Gateway
	enrich     *EnrichmentAgent
	thresholds Thresholds
	locale     string
}

// NewLegacyStrategy creates the legacy strategy. The enrichment agent is
// reused for the scrape-driven profile/general/email paths.
func NewLegacyStrategy(gw *gateway.Gateway, enrich *EnrichmentAgent, thresholds Thresholds, locale string) *LegacyStrategy {
	return &LegacyStrategy{gw: gw, enrich: enrich, thresholds: thresholds, locale: locale}
}

var _ Strategy = (*LegacyStrategy)(nil)

// Seed discovers candidates by web search. Every field starts at null/zero;
// the per-field sub-agents do all the filling.
func (s *LegacyStrategy) Seed(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	query := req.DataType
	if req.Specifications != "" {
		query += " " + req.Specifications
	}
	results, err := s.gw.Search(ctx, query, req.RowCount, s.locale)
	if err != nil {
		return nil, usage, eris.Wrap(err, "agent: legacy discovery search")
	}
	if len(results) == 0 {
		return nil, usage, eris.New("agent: legacy discovery found no candidates")
	}
	if len(results) > req.RowCount {
		results = results[:req.RowCount]
	}

	candidates := make([]model.Candidate, 0, len(results))
	for _, r := range results {
		c := model.Candidate{
			Name:    strings.TrimSpace(r.Title),
			Website: r.URL,
			Fields:  make(map[string]model.FieldWithConfidence, len(req.Fields)),
		}
		for _, f := range req.Fields {
			c.Fields[f.Name] = model.NewFieldWithConfidence(f.Name, nil, 0)
		}
		candidates = append(candidates, c)
	}

	zap.L().Info("legacy discovery complete",
		zap.Int("requested", req.RowCount),
		zap.Int("found", len(candidates)),
	)
	return candidates, usage, nil
}

// EnrichEntity routes each field to its category's sub-path: discovery fields
// come from the seed search result, contact fields from a places lookup with
// email forced through the scrape path, and profile/general fields from
// scrape extraction.
func (s *LegacyStrategy) EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*Result, error) {
	res := newResult(missing)

	byCategory := make(map[FieldCategory][]model.EnrichmentField)
	for _, f := range missing {
		cat := Categorize(f)
		byCategory[cat] = append(byCategory[cat], f)
	}

	for _, f := range byCategory[CategoryDiscovery] {
		s.fillDiscovery(cand, f, res)
	}

	var scrapeFields []model.EnrichmentField
	if contact := byCategory[CategoryContact]; len(contact) > 0 {
		leftover, err := s.fillContact(ctx, cand, contact, res)
		if err != nil {
			if resilience.IsFatal(err) {
				return nil, err
			}
			zap.L().Debug("places lookup failed",
				zap.String("entity", cand.Name),
				zap.Error(err),
			)
			leftover = contact
		}
		scrapeFields = append(scrapeFields, leftover...)
	}
	scrapeFields = append(scrapeFields, byCategory[CategoryProfile]...)
	scrapeFields = append(scrapeFields, byCategory[CategoryGeneral]...)

	if len(scrapeFields) > 0 && cand.Website != "" {
		if err := s.enrich.scrapeExtract(ctx, cand, scrapeFields, res); err != nil {
			if resilience.IsFatal(err) {
				return nil, err
			}
			zap.L().Debug("legacy scrape extraction failed",
				zap.String("entity", cand.Name),
				zap.Error(err),
			)
		}
	}

	return res, nil
}

// fillDiscovery answers name/url style fields directly from the seed result.
func (s *LegacyStrategy) fillDiscovery(cand model.Candidate, f model.EnrichmentField, res *Result) {
	lower := strings.ToLower(f.Name)
	switch {
	case strings.Contains(lower, "url") || strings.Contains(lower, "website") || strings.Contains(lower, "domain"):
		if cand.Website != "" {
			res.setField(f.Name, cand.Website, s.thresholds.ScrapeFallback, s.thresholds.ScrapeFallback, cand.Website)
		}
	case strings.Contains(lower, "name"):
		if cand.Name != "" {
			res.setField(f.Name, cand.Name, s.thresholds.ScrapeFallback, s.thresholds.ScrapeFallback, cand.Website)
		}
	}
}

// fillContact resolves phone and address fields from a places lookup. Email
// is never answered from places; it is returned in leftover so the caller
// routes it through the scrape path.
func (s *LegacyStrategy) fillContact(ctx context.Context, cand model.Candidate, fields []model.EnrichmentField, res *Result) ([]model.EnrichmentField, error) {
	resp, err := s.gw.PlaceSearch(ctx, cand.Name)
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return fields, nil
	}
	place := resp.Places[0]

	sourceURL := place.WebsiteURI
	if sourceURL == "" {
		sourceURL = cand.Website
	}

	var leftover []model.EnrichmentField
	for _, f := range fields {
		lower := strings.ToLower(f.Name)
		switch {
		case strings.Contains(lower, "phone") || strings.Contains(lower, "tel"):
			if place.NationalPhoneNumber != "" {
				res.setField(f.Name, place.NationalPhoneNumber, s.thresholds.ScrapeFallback, s.thresholds.ScrapeFallback, sourceURL)
			}
		case strings.Contains(lower, "address"):
			if place.FormattedAddress != "" {
				res.setField(f.Name, place.FormattedAddress, s.thresholds.ScrapeFallback, s.thresholds.ScrapeFallback, sourceURL)
			}
		default:
			leftover = append(leftover, f)
		}
	}
	return leftover, nil
}
