package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/agent"
	"github.com/sells-group/recordgen/internal/gateway"
	"github.com/sells-group/recordgen/internal/job"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/pipeline"
	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/internal/table"
	"github.com/sells-group/recordgen/pkg/anthropic"
	"github.com/sells-group/recordgen/pkg/firecrawl"
	"github.com/sells-group/recordgen/pkg/google"
	"github.com/sells-group/recordgen/pkg/jina"
	"github.com/sells-group/recordgen/pkg/perplexity"
)

// pipelineEnv bundles the long-lived components a command needs.
type pipelineEnv struct {
	Store         table.Store
	Jobs          *job.Manager
	Orchestrator  *pipeline.Orchestrator
	TableID       string
	SweepInterval time.Duration
}

func (e *pipelineEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initPipeline validates config for the given mode and wires the store,
// provider clients, gateway, strategy, and orchestrator.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	gw := initGateway()

	thresholds := agent.DefaultThresholds()
	if cfg.Pipeline.ThresholdsFile != "" {
		t, err := agent.LoadThresholds(cfg.Pipeline.ThresholdsFile)
		if err != nil {
			st.Close()
			return nil, eris.Wrap(err, "cmd: load thresholds")
		}
		thresholds = t
	}

	enrich := agent.NewEnrichmentAgent(gw, cfg.Anthropic.HaikuModel, thresholds)

	var strategy agent.Strategy
	switch cfg.Pipeline.Strategy {
	case "legacy":
		strategy = agent.NewLegacyStrategy(gw, enrich, thresholds, cfg.Jina.Locale)
	default:
		knowledge := agent.NewKnowledgeAgent(gw, cfg.Anthropic.SonnetModel, cfg.Anthropic.MaxTokens)
		strategy = agent.NewHybridStrategy(knowledge, enrich)
	}

	jobs := job.NewManager(time.Duration(cfg.Jobs.TTLHours) * time.Hour)
	reconciler := table.NewReconciler(st, nil)
	orch := pipeline.New(strategy, jobs, st, reconciler, thresholds, cfg.Anthropic.SonnetModel)

	return &pipelineEnv{
		Store:         st,
		Jobs:          jobs,
		Orchestrator:  orch,
		TableID:       cfg.Store.TableID,
		SweepInterval: time.Duration(cfg.Jobs.SweepIntervalMins) * time.Minute,
	}, nil
}

func initStore(ctx context.Context) (table.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return table.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return table.NewSQLite(cfg.Store.DatabaseURL)
	}
}

// initGateway constructs provider clients from config and wraps them in the
// shared gateway. Clients without keys stay nil; the gateway rejects calls to
// unconfigured providers.
func initGateway() *gateway.Gateway {
	var (
		search  jina.Client
		scraper firecrawl.Client
		live    perplexity.Client
		places  google.Client
	)
	if cfg.Jina.Key != "" {
		search = jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		)
	}
	if cfg.Firecrawl.Key != "" {
		scraper = firecrawl.NewClient(cfg.Firecrawl.Key,
			firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL),
		)
	}
	if cfg.Perplexity.Key != "" {
		live = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	}
	if cfg.Google.Key != "" {
		places = google.NewClient(cfg.Google.Key,
			google.WithBaseURL(cfg.Google.BaseURL),
		)
	}
	llm := anthropic.NewClient(cfg.Anthropic.Key)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Gateway.MaxAttempts
	retry.RateLimitCooldown = time.Duration(cfg.Gateway.RateLimitCooldown) * time.Second

	gwCfg := gateway.DefaultConfig()
	gwCfg.QuotaPerMinute = cfg.Gateway.QuotaPerMinute
	gwCfg.MinInterval = time.Duration(cfg.Gateway.MinIntervalSecs) * time.Second
	gwCfg.SafetyMargin = time.Duration(cfg.Gateway.SafetyMarginMillis) * time.Millisecond
	gwCfg.MinContentLength = cfg.Gateway.MinContentLength
	gwCfg.Retry = retry

	return gateway.New(gwCfg, search, scraper, llm, live, places)
}

// fieldsFromColumns turns plain column labels into enrichment fields. The
// label survives as the display name; the storage name is sanitized.
func fieldsFromColumns(columns []string) []model.EnrichmentField {
	fields := make([]model.EnrichmentField, 0, len(columns))
	for _, col := range columns {
		fields = append(fields, model.EnrichmentField{
			Name:        table.SanitizeColumnName(col),
			DisplayName: col,
			Type:        model.FieldTypeString,
		})
	}
	return fields
}
