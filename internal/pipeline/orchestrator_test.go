package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recordgen/internal/agent"
	"github.com/sells-group/recordgen/internal/job"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/internal/table"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

type enrichCall struct {
	entity string
	fields []string
}

// fakeStrategy scripts both phases and records every enrichment invocation.
type fakeStrategy struct {
	mu          sync.Mutex
	seedFn      func(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error)
	enrichFn    func(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*agent.Result, error)
	enrichCalls []enrichCall
}

func (f *fakeStrategy) Seed(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	return f.seedFn(ctx, req)
}

func (f *fakeStrategy) EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*agent.Result, error) {
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = m.Name
	}
	f.mu.Lock()
	f.enrichCalls = append(f.enrichCalls, enrichCall{entity: cand.Name, fields: names})
	f.mu.Unlock()
	if f.enrichFn == nil {
		return emptyResult(missing), nil
	}
	return f.enrichFn(ctx, cand, missing)
}

func (f *fakeStrategy) calls() []enrichCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enrichCall(nil), f.enrichCalls...)
}

func emptyResult(missing []model.EnrichmentField) *agent.Result {
	res := &agent.Result{Fields: map[string]model.FieldWithConfidence{}}
	for _, f := range missing {
		res.Fields[f.Name] = model.NewFieldWithConfidence(f.Name, nil, 0)
	}
	return res
}

func requestFields() []model.EnrichmentField {
	return []model.EnrichmentField{
		{Name: "company_name", DisplayName: "Company Name", Type: model.FieldTypeString},
		{Name: "website", DisplayName: "Website", Type: model.FieldTypeString},
		{Name: "email", DisplayName: "Email", Type: model.FieldTypeString},
	}
}

func candidate(name, website string, confidences map[string]struct {
	v any
	c float64
}) model.Candidate {
	cand := model.Candidate{Name: name, Website: website, Fields: map[string]model.FieldWithConfidence{}}
	for field, vc := range confidences {
		cand.Fields[field] = model.NewFieldWithConfidence(field, vc.v, vc.c)
	}
	return cand
}

type vc = struct {
	v any
	c float64
}

func seedOf(candidates ...model.Candidate) func(context.Context, model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	return func(context.Context, model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
		return candidates, anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 500}, nil
	}
}

func newFixture(t *testing.T, strategy agent.Strategy) (*Orchestrator, *job.Manager, *table.SQLiteStore) {
	t.Helper()
	store, err := table.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	jobs := job.NewManager(0)
	o := New(strategy, jobs, store, table.NewReconciler(store, nil), agent.DefaultThresholds(), "claude-sonnet-4-5-20250929")
	return o, jobs, store
}

func TestRun_FullBatchCompletes(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.9},
				"email":        {nil, 0},
			}),
			candidate("Sakura Goods", "https://sakura-goods.jp", map[string]vc{
				"company_name": {"Sakura Goods", 0.9},
				"website":      {"https://sakura-goods.jp", 0.85},
				"email":        {"hello@sakura-goods.jp", 0.4},
			}),
			candidate("Momiji Crafts", "", map[string]vc{
				"company_name": {"Momiji Crafts", 0.88},
				"website":      {nil, 0},
				"email":        {nil, 0},
			}),
		),
		enrichFn: func(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*agent.Result, error) {
			res := emptyResult(missing)
			if cand.Website == "" {
				return res, nil
			}
			for _, f := range missing {
				if f.Name == "email" {
					res.Fields["email"] = model.NewFieldWithConfidence("email", "info@"+cand.Name, model.ScrapeFallbackConfidence)
					res.Sources = append(res.Sources, model.SourceAttribution{
						Field: "email", URL: cand.Website, Confidence: model.ScrapeFallbackConfidence,
					})
				}
			}
			return res, nil
		},
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 3, Fields: requestFields(), DataType: "small Japanese e-commerce companies"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	got, err := jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, model.StageCompleted, got.Stage)
	assert.Equal(t, 3, got.CompletedRecords)
	assert.Zero(t, got.FailedRecords)
	assert.Positive(t, got.InputTokens)
	assert.Positive(t, got.EstimatedCostUSD)

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, model.RecordStatusSuccess, rec.Status)
		assert.NotNil(t, rec.Data["company_name"])
		// Data keys never stray outside the requested fields.
		for k := range rec.Data {
			assert.Contains(t, []string{"company_name", "website", "email"}, k)
		}
	}

	// Trusted knowledge fields are attributed to model knowledge.
	var sawModelKnowledge bool
	for _, src := range recs[0].Sources {
		if src.URL == model.SourceModelKnowledge {
			sawModelKnowledge = true
			assert.GreaterOrEqual(t, src.Confidence, model.TrustThreshold)
		}
	}
	assert.True(t, sawModelKnowledge)

	// The schema picked up the requested columns and rows landed.
	cols, err := store.ListColumns(context.Background(), "tbl-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cols)
}

func TestRun_TrustedFieldsSkipEnrichment(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.9},
				"email":        {"info@acme.jp", 0.4},
			}),
		),
	}
	o, jobs, _ := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 1, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	calls := strategy.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"email"}, calls[0].fields, "only the untrusted field is enriched")
}

func TestRun_ContactFieldsAlwaysRoutedThroughEnrichment(t *testing.T) {
	// The knowledge phase claims a very confident email; it must still be
	// verified, and when verification comes back empty the model's guess must
	// not leak into the record.
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.9},
				"email":        {"info@acme.jp", 0.95},
			}),
		),
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 1, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	calls := strategy.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"email"}, calls[0].fields, "the confident email still goes through enrichment")

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Data["email"], "unverified contact values are not published as hints")
	for _, src := range recs[0].Sources {
		if src.Field == "email" {
			assert.NotEqual(t, model.SourceModelKnowledge, src.URL,
				"contact fields never carry a model-knowledge attribution")
		}
	}
}

func TestRun_ContactHintSuppressedOnEnrichmentError(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.6},
				"email":        {"info@acme.jp", 0.95},
			}),
		),
		enrichFn: func(context.Context, model.Candidate, []model.EnrichmentField) (*agent.Result, error) {
			return nil, assert.AnError // soft failure, entity keeps partial data
		},
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 1, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Data["email"], "no knowledge fallback for contact fields")
	assert.Equal(t, "https://acme.jp", recs[0].Data["website"],
		"non-contact fields still keep their knowledge hint")

	got, _ := jobs.Get(j.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestRun_NoWebsiteLeavesFieldNullWithoutSource(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {nil, 0},
				"email":        {nil, 0.4},
			}),
		),
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 1, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Data["email"])
	for _, src := range recs[0].Sources {
		assert.NotEqual(t, "email", src.Field, "null fields are never attributed")
	}

	got, _ := jobs.Get(j.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status, "a soft field failure does not fail the entity")
}

func TestRun_SeedFailureFailsJob(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: func(context.Context, model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
			return nil, anthropic.TokenUsage{}, resilience.NewFatalError(assert.AnError, "quota exhausted")
		},
	}
	o, jobs, _ := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 2, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	got, _ := jobs.Get(j.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestRun_FatalEnrichmentAbortsWholeJob(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.9},
				"email":        {nil, 0},
			}),
			candidate("Sakura Goods", "https://sakura-goods.jp", map[string]vc{
				"company_name": {"Sakura Goods", 0.9},
				"website":      {"https://sakura-goods.jp", 0.85},
				"email":        {nil, 0},
			}),
		),
		enrichFn: func(context.Context, model.Candidate, []model.EnrichmentField) (*agent.Result, error) {
			return nil, resilience.NewFatalError(assert.AnError, "quota exhausted")
		},
	}
	o, jobs, _ := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 2, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	got, _ := jobs.Get(j.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Len(t, strategy.calls(), 1, "the batch stops at the first fatal error")
}

func TestRun_ShortSeedRecordsImplicitFailures(t *testing.T) {
	strategy := &fakeStrategy{
		seedFn: seedOf(
			candidate("Acme Trading", "https://acme.jp", map[string]vc{
				"company_name": {"Acme Trading", 0.95},
				"website":      {"https://acme.jp", 0.9},
				"email":        {"info@acme.jp", 0.9},
			}),
		),
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 3, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	o.Run(context.Background(), j.ID, req, "tbl-1")

	got, _ := jobs.Get(j.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CompletedRecords)
	assert.Equal(t, 2, got.FailedRecords)

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, model.RecordStatusFailed, recs[1].Status)
	assert.Equal(t, model.RecordStatusFailed, recs[2].Status)
}

func TestRun_ProgressIsMonotonicAndBounded(t *testing.T) {
	var o *Orchestrator
	var jobs *job.Manager
	var jobID string

	seen := 0
	strategy := &fakeStrategy{}
	strategy.seedFn = seedOf(
		candidate("A", "https://a.jp", map[string]vc{"company_name": {"A", 0.95}, "website": {"https://a.jp", 0.9}, "email": {nil, 0}}),
		candidate("B", "https://b.jp", map[string]vc{"company_name": {"B", 0.95}, "website": {"https://b.jp", 0.9}, "email": {nil, 0}}),
		candidate("C", "https://c.jp", map[string]vc{"company_name": {"C", 0.95}, "website": {"https://c.jp", 0.9}, "email": {nil, 0}}),
	)
	strategy.enrichFn = func(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*agent.Result, error) {
		got, err := jobs.Get(jobID)
		require.NoError(t, err)
		sum := got.CompletedRecords + got.FailedRecords
		assert.LessOrEqual(t, sum, got.TotalRecords)
		assert.GreaterOrEqual(t, sum, seen, "progress never regresses")
		seen = sum
		return emptyResult(missing), nil
	}

	o, jobs, _ = newFixture(t, strategy)
	req := model.GenerationRequest{RowCount: 3, Fields: requestFields(), DataType: "x"}
	j := jobs.Create(req.RowCount)
	jobID = j.ID
	o.Run(context.Background(), jobID, req, "tbl-1")

	got, _ := jobs.Get(jobID)
	assert.Equal(t, got.TotalRecords, got.CompletedRecords+got.FailedRecords)
}

func TestStart_CancelStopsJob(t *testing.T) {
	release := make(chan struct{})
	strategy := &fakeStrategy{
		seedFn: func(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
			close(release)
			<-ctx.Done()
			return nil, anthropic.TokenUsage{}, ctx.Err()
		},
	}
	o, jobs, store := newFixture(t, strategy)

	req := model.GenerationRequest{RowCount: 2, Fields: requestFields(), DataType: "x"}
	j := o.Start(context.Background(), req, "tbl-1")

	<-release
	require.NoError(t, jobs.Cancel(j.ID))

	assert.Eventually(t, func() bool {
		got, err := jobs.Get(j.ID)
		return err == nil && got.Status == model.JobStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := store.ListGeneratedRecords(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Empty(t, recs, "a job cancelled during seeding persists nothing")
}
