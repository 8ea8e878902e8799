// Package gateway is the single choke point for all outbound provider calls:
// web search, page scraping, and language-model completions. It enforces
// per-provider rate limits, a uniform retry policy, and post-scrape content
// validation.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/pkg/anthropic"
	"github.com/sells-group/recordgen/pkg/firecrawl"
	"github.com/sells-group/recordgen/pkg/google"
	"github.com/sells-group/recordgen/pkg/jina"
	"github.com/sells-group/recordgen/pkg/perplexity"
)

// Provider names, used to key limiters and circuit breakers.
const (
	ProviderSearch = "search"
	ProviderScrape = "scrape"
	ProviderLLM    = "llm"
	ProviderLive   = "live"
	ProviderPlaces = "places"
)

// ErrNoUsableContent is returned when a scrape succeeded at the transport
// level but the page is an error/maintenance page. Callers should try a
// different URL instead of retrying this one.
var ErrNoUsableContent = eris.New("gateway: no usable content")

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ScrapedContent is a validated page fetch.
type ScrapedContent struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	StatusCode int    `json:"status_code"`
}

// Config tunes the gateway's pacing and retry behavior.
type Config struct {
	QuotaPerMinute   int
	MinInterval      time.Duration
	SafetyMargin     time.Duration
	MinContentLength int
	Retry            resilience.RetryConfig
}

// DefaultConfig matches the paid-tier provider quotas the service runs under.
func DefaultConfig() Config {
	return Config{
		QuotaPerMinute:   6,
		MinInterval:      12 * time.Second,
		SafetyMargin:     500 * time.Millisecond,
		MinContentLength: defaultMinContentLength,
		Retry:            resilience.DefaultRetryConfig(),
	}
}

// Gateway wraps all outbound provider clients.
type Gateway struct {
	cfg Config

	search  jina.Client
	scraper firecrawl.Client
	llm     anthropic.Client
	live    perplexity.Client
	places  google.Client

	limiters map[string]*WindowLimiter
	breakers map[string]*resilience.CircuitBreaker
}

// New creates a Gateway. Any client may be nil if the corresponding provider
// is not configured; calls to it return an error.
func New(cfg Config, search jina.Client, scraper firecrawl.Client, llm anthropic.Client, live perplexity.Client, places google.Client) *Gateway {
	providers := []string{ProviderSearch, ProviderScrape, ProviderLLM, ProviderLive, ProviderPlaces}

	limiters := make(map[string]*WindowLimiter, len(providers))
	breakers := make(map[string]*resilience.CircuitBreaker, len(providers))
	for _, p := range providers {
		limiters[p] = NewWindowLimiter(cfg.QuotaPerMinute, cfg.MinInterval, cfg.SafetyMargin)
		cbCfg := resilience.DefaultCircuitBreakerConfig()
		cbCfg.ShouldTrip = resilience.IsTransient
		provider := p
		cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("circuit state change",
				zap.String("provider", provider),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		breakers[p] = resilience.NewCircuitBreaker(cbCfg)
	}

	return &Gateway{
		cfg:      cfg,
		search:   search,
		scraper:  scraper,
		llm:      llm,
		live:     live,
		places:   places,
		limiters: limiters,
		breakers: breakers,
	}
}

// Search performs a rate-limited, retried web search.
func (g *Gateway) Search(ctx context.Context, query string, limit int, locale string) ([]SearchResult, error) {
	if g.search == nil {
		return nil, eris.New("gateway: search provider not configured")
	}

	resp, err := dispatch(ctx, g, ProviderSearch, "search", func(ctx context.Context) (*jina.SearchResponse, error) {
		opts := []jina.SearchOption{}
		if limit > 0 {
			opts = append(opts, jina.WithLimit(limit))
		}
		if locale != "" {
			opts = append(opts, jina.WithLocale(locale))
		}
		return g.search.Search(ctx, query, opts...)
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return results, nil
}

// Scrape fetches a page and validates its content. A page that fetches fine
// but turns out to be an error page returns ErrNoUsableContent. When the
// primary scraper fails at the transport level, the reader endpoint is tried
// as a fallback before giving up.
func (g *Gateway) Scrape(ctx context.Context, url string, formats []string, mainContentOnly bool) (*ScrapedContent, error) {
	if g.scraper == nil {
		return nil, eris.New("gateway: scrape provider not configured")
	}

	resp, err := dispatch(ctx, g, ProviderScrape, "scrape", func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return g.scraper.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:             url,
			Formats:         formats,
			OnlyMainContent: mainContentOnly,
		})
	})
	if err != nil {
		if resilience.IsFatal(err) || g.search == nil {
			return nil, err
		}
		return g.readFallback(ctx, url, err)
	}

	content := &ScrapedContent{
		URL:        url,
		Title:      resp.Data.Metadata.Title,
		Markdown:   resp.Data.Markdown,
		StatusCode: resp.Data.Metadata.StatusCode,
	}
	if IsErrorPage(content.Markdown, content.StatusCode, g.cfg.MinContentLength) {
		zap.L().Debug("scrape returned error page",
			zap.String("url", url),
			zap.Int("status", content.StatusCode),
			zap.Int("length", len(content.Markdown)),
		)
		return nil, ErrNoUsableContent
	}
	return content, nil
}

// readFallback fetches the page through the reader endpoint after the primary
// scraper failed.
func (g *Gateway) readFallback(ctx context.Context, url string, scrapeErr error) (*ScrapedContent, error) {
	zap.L().Debug("scrape failed, trying reader fallback",
		zap.String("url", url),
		zap.Error(scrapeErr),
	)

	resp, err := dispatch(ctx, g, ProviderSearch, "read", func(ctx context.Context) (*jina.ReadResponse, error) {
		return g.search.Read(ctx, url)
	})
	if err != nil {
		return nil, eris.Wrap(scrapeErr, "gateway: scrape failed and reader fallback failed")
	}

	content := &ScrapedContent{
		URL:        url,
		Title:      resp.Data.Title,
		Markdown:   resp.Data.Content,
		StatusCode: 200,
	}
	if IsErrorPage(content.Markdown, content.StatusCode, g.cfg.MinContentLength) {
		return nil, ErrNoUsableContent
	}
	return content, nil
}

// Complete runs a rate-limited, retried model completion.
func (g *Gateway) Complete(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if g.llm == nil {
		return nil, eris.New("gateway: llm provider not configured")
	}
	return dispatch(ctx, g, ProviderLLM, "complete", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.llm.CreateMessage(ctx, req)
	})
}

// LiveExtract runs a web-grounded completion that reads a live page.
func (g *Gateway) LiveExtract(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	if g.live == nil {
		return nil, eris.New("gateway: live extraction provider not configured")
	}
	return dispatch(ctx, g, ProviderLive, "live_extract", func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return g.live.ChatCompletion(ctx, req)
	})
}

// PlaceSearch looks up business contact details.
func (g *Gateway) PlaceSearch(ctx context.Context, query string) (*google.TextSearchResponse, error) {
	if g.places == nil {
		return nil, eris.New("gateway: places provider not configured")
	}
	return dispatch(ctx, g, ProviderPlaces, "place_search", func(ctx context.Context) (*google.TextSearchResponse, error) {
		return g.places.TextSearch(ctx, query)
	})
}

// dispatch runs one provider call through the limiter, circuit breaker, and
// retry policy, classifying provider errors into the shared taxonomy.
func dispatch[T any](ctx context.Context, g *Gateway, provider, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	retryCfg := g.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger(provider, operation)

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (T, error) {
		if err := g.limiters[provider].Wait(ctx); err != nil {
			return zero, err
		}
		// Classification happens inside the breaker so its ShouldTrip check
		// sees the taxonomy error, not the raw provider APIError.
		val, err := resilience.ExecuteVal(ctx, g.breakers[provider], func(ctx context.Context) (T, error) {
			val, err := fn(ctx)
			if err != nil {
				return zero, classifyProviderError(err)
			}
			return val, nil
		})
		if err != nil {
			return zero, err
		}
		return val, nil
	})
}

// classifyProviderError maps each provider's APIError onto the retry/abort
// taxonomy by HTTP status.
func classifyProviderError(err error) error {
	var fcErr *firecrawl.APIError
	if errors.As(err, &fcErr) {
		return resilience.ClassifyHTTPStatus(err, fcErr.StatusCode)
	}
	var jErr *jina.APIError
	if errors.As(err, &jErr) {
		return resilience.ClassifyHTTPStatus(err, jErr.StatusCode)
	}
	var aErr *anthropic.APIError
	if errors.As(err, &aErr) {
		return resilience.ClassifyHTTPStatus(err, aErr.StatusCode)
	}
	var pErr *perplexity.APIError
	if errors.As(err, &pErr) {
		return resilience.ClassifyHTTPStatus(err, pErr.StatusCode)
	}
	var gErr *google.APIError
	if errors.As(err, &gErr) {
		return resilience.ClassifyHTTPStatus(err, gErr.StatusCode)
	}
	return err
}
