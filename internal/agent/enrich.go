package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/gateway"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/pkg/anthropic"
	"github.com/sells-group/recordgen/pkg/perplexity"
)

// maxPageContext caps how much scraped markdown is fed to the extraction call.
const maxPageContext = 20000

var errNoChoices = eris.New("agent: live extraction returned no choices")

// EnrichmentAgent raises confidence for fields the knowledge phase could not
// trust, by consulting the entity's own page. The live path asks a
// web-grounded model to read the URL directly; when that fails the page is
// scraped and extracted with a plain completion at lower confidence.
type EnrichmentAgent struct {
	gw         *gateway.Gateway
	model      string
	thresholds Thresholds
}

// NewEnrichmentAgent creates the enrichment-phase agent. modelID is the model
// used for the scrape-fallback extraction call; a cheap fast model is the
// right choice since this phase optimizes latency.
func NewEnrichmentAgent(gw *gateway.Gateway, modelID string, thresholds Thresholds) *EnrichmentAgent {
	return &EnrichmentAgent{gw: gw, model: modelID, thresholds: thresholds}
}

// EnrichEntity attempts to fill the missing fields for one candidate. Soft
// failures leave fields at null/zero and return a nil error; only fatal
// provider errors propagate.
func (a *EnrichmentAgent) EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*Result, error) {
	res := newResult(missing)
	if len(missing) == 0 {
		return res, nil
	}
	if cand.Website == "" {
		zap.L().Debug("no known url, skipping enrichment",
			zap.String("entity", cand.Name),
			zap.Int("fields", len(missing)),
		)
		return res, nil
	}

	// Contact fields never go through the live model path; its answers for
	// volatile structured data cannot be trusted without a fetched page.
	var live, scrape []model.EnrichmentField
	for _, f := range missing {
		if IsContactField(f) {
			scrape = append(scrape, f)
		} else {
			live = append(live, f)
		}
	}

	if len(live) > 0 {
		if err := a.liveExtract(ctx, cand, live, res); err != nil {
			if resilience.IsFatal(err) {
				return nil, err
			}
			zap.L().Debug("live extraction failed, falling back to scrape",
				zap.String("entity", cand.Name),
				zap.Error(err),
			)
			scrape = append(scrape, live...)
		}
	}

	if len(scrape) > 0 {
		if err := a.scrapeExtract(ctx, cand, scrape, res); err != nil {
			if resilience.IsFatal(err) {
				return nil, err
			}
			zap.L().Debug("scrape extraction failed, fields stay unenriched",
				zap.String("entity", cand.Name),
				zap.Error(err),
			)
		}
	}

	return res, nil
}

// liveExtract asks the web-grounded model to read the candidate's page and
// return only the missing fields. Recovered fields get the live-context
// confidence and the page as their source.
func (a *EnrichmentAgent) liveExtract(ctx context.Context, cand model.Candidate, fields []model.EnrichmentField, res *Result) error {
	resp, err := a.gw.LiveExtract(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You read the given web page and extract the requested fields. Respond with a single JSON object mapping field names to values, using null for anything the page does not state. No prose."},
			{Role: "user", Content: buildExtractionPrompt(cand, fields)},
		},
		SearchDomainFilter: domainFilter(cand.Website),
	})
	if err != nil {
		return err
	}
	res.Usage.Add(anthropic.TokenUsage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	})
	if len(resp.Choices) == 0 {
		return errNoChoices
	}

	values, err := parseFieldValues(resp.Choices[0].Message.Content)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if v, ok := values[f.Name]; ok {
			res.setField(f.Name, v, a.thresholds.LiveContext, a.thresholds.LiveContext, cand.Website)
		}
	}
	return nil
}

// scrapeExtract fetches the page through the gateway and runs a plain
// extraction completion over the content, at the lower fallback confidence.
func (a *EnrichmentAgent) scrapeExtract(ctx context.Context, cand model.Candidate, fields []model.EnrichmentField, res *Result) error {
	content, err := a.gw.Scrape(ctx, cand.Website, []string{"markdown"}, true)
	if err != nil {
		return err
	}

	page := content.Markdown
	if len(page) > maxPageContext {
		page = page[:maxPageContext]
	}

	resp, err := a.gw.Complete(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    "You extract structured fields from scraped page content. Respond with a single JSON object mapping field names to values, using null for anything the content does not state. No prose.",
		Messages: []anthropic.Message{
			{Role: "user", Content: buildExtractionPrompt(cand, fields) + "\n\nPage content:\n" + page},
		},
	})
	if err != nil {
		return err
	}
	res.Usage.Add(resp.Usage)

	values, err := parseFieldValues(resp.Text())
	if err != nil {
		return err
	}
	for _, f := range fields {
		if v, ok := values[f.Name]; ok {
			res.setField(f.Name, v, a.thresholds.ScrapeFallback, a.thresholds.ScrapeFallback, cand.Website)
		}
	}
	return nil
}

func buildExtractionPrompt(cand model.Candidate, fields []model.EnrichmentField) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\nPage: %s\n\nExtract these fields:\n", cand.Name, cand.Website)
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// domainFilter restricts the web-grounded model to the entity's own domain.
func domainFilter(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{strings.TrimPrefix(u.Host, "www.")}
}
