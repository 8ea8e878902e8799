package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recordgen/internal/agent"
	"github.com/sells-group/recordgen/internal/job"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/pipeline"
	"github.com/sells-group/recordgen/internal/table"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

// fakeStrategy answers every field above the trust threshold so jobs complete
// without any enrichment calls.
type fakeStrategy struct{}

func (fakeStrategy) Seed(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	cands := make([]model.Candidate, req.RowCount)
	for i := range cands {
		fields := make(map[string]model.FieldWithConfidence, len(req.Fields))
		for _, f := range req.Fields {
			fields[f.Name] = model.NewFieldWithConfidence(f.Name, fmt.Sprintf("%s %d", f.Name, i), 0.95)
		}
		cands[i] = model.Candidate{
			Name:    fmt.Sprintf("Company %d", i),
			Website: "https://example.com",
			Fields:  fields,
		}
	}
	return cands, anthropic.TokenUsage{InputTokens: 10, OutputTokens: 5}, nil
}

func (fakeStrategy) EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*agent.Result, error) {
	return &agent.Result{Fields: map[string]model.FieldWithConfidence{}}, nil
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	st, err := table.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	jobs := job.NewManager(0)
	orch := pipeline.New(fakeStrategy{}, jobs, st, table.NewReconciler(st, nil),
		agent.DefaultThresholds(), "claude-sonnet-4-5-20250929")

	return &pipelineEnv{
		Store:         st,
		Jobs:          jobs,
		Orchestrator:  orch,
		TableID:       "default",
		SweepInterval: time.Minute,
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	handler := newRouter(context.Background(), newTestEnv(t))

	rec := doRequest(t, handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServeSubmitAndPollJob(t *testing.T) {
	env := newTestEnv(t)
	handler := newRouter(context.Background(), env)

	rec := doRequest(t, handler, http.MethodPost, "/jobs",
		`{"row_count":2,"target_columns":["Company Name","Industry"],"data_type":"HVAC companies"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var j model.EnrichmentJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, 2, j.TotalRecords)

	require.Eventually(t, func() bool {
		got, err := env.Jobs.Get(j.ID)
		return err == nil && got.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = doRequest(t, handler, http.MethodGet, "/jobs/"+j.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var polled model.EnrichmentJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
	assert.Equal(t, model.JobStatusCompleted, polled.Status)
	assert.Equal(t, 2, polled.CompletedRecords)

	rec = doRequest(t, handler, http.MethodGet, "/jobs/"+j.ID+"/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		JobID   string                  `json:"job_id"`
		Records []model.GeneratedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, j.ID, out.JobID)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "company_name 0", out.Records[0].Data["company_name"])
}

func TestServeListJobs(t *testing.T) {
	env := newTestEnv(t)
	handler := newRouter(context.Background(), env)

	rec := doRequest(t, handler, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"jobs":[]`)

	rec = doRequest(t, handler, http.MethodPost, "/jobs",
		`{"row_count":1,"target_columns":["Name"],"data_type":"x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Jobs []model.EnrichmentJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Jobs, 1)
}

func TestServeSubmitValidation(t *testing.T) {
	handler := newRouter(context.Background(), newTestEnv(t))

	rec := doRequest(t, handler, http.MethodPost, "/jobs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/jobs",
		`{"target_columns":["Name"],"data_type":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "row_count")

	rec = doRequest(t, handler, http.MethodPost, "/jobs",
		`{"row_count":3,"target_columns":["Name"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "data_type")

	rec = doRequest(t, handler, http.MethodPost, "/jobs",
		`{"row_count":3,"data_type":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "field")
}

func TestServeJobNotFound(t *testing.T) {
	handler := newRouter(context.Background(), newTestEnv(t))

	rec := doRequest(t, handler, http.MethodGet, "/jobs/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/jobs/nonexistent/records", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/jobs/nonexistent/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeCancelFinishedJobConflicts(t *testing.T) {
	env := newTestEnv(t)
	handler := newRouter(context.Background(), env)

	rec := doRequest(t, handler, http.MethodPost, "/jobs",
		`{"row_count":1,"target_columns":["Name"],"data_type":"x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var j model.EnrichmentJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))

	require.Eventually(t, func() bool {
		got, err := env.Jobs.Get(j.ID)
		return err == nil && got.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = doRequest(t, handler, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestToGenerationRequest(t *testing.T) {
	t.Run("explicit fields win over columns", func(t *testing.T) {
		req, err := jobRequest{
			RowCount:      2,
			DataType:      "x",
			TargetColumns: []string{"Ignored"},
			Fields: []model.EnrichmentField{
				{Name: "revenue", DisplayName: "Revenue", Type: model.FieldTypeNumber},
			},
		}.toGenerationRequest()
		require.NoError(t, err)
		require.Len(t, req.Fields, 1)
		assert.Equal(t, "revenue", req.Fields[0].Name)
		assert.Equal(t, model.FieldTypeNumber, req.Fields[0].Type)
	})

	t.Run("columns become string fields", func(t *testing.T) {
		req, err := jobRequest{
			RowCount:      1,
			DataType:      "x",
			TargetColumns: []string{"Company Name"},
		}.toGenerationRequest()
		require.NoError(t, err)
		require.Len(t, req.Fields, 1)
		assert.Equal(t, "company_name", req.Fields[0].Name)
		assert.Equal(t, "Company Name", req.Fields[0].DisplayName)
		assert.Equal(t, model.FieldTypeString, req.Fields[0].Type)
	})
}

func TestFieldsFromColumns(t *testing.T) {
	fields := fieldsFromColumns([]string{"Company Name", "Année Fondée", "2024 Revenue"})
	require.Len(t, fields, 3)
	assert.Equal(t, "company_name", fields[0].Name)
	assert.Equal(t, "annee_fondee", fields[1].Name)
	assert.Equal(t, "c_2024_revenue", fields[2].Name)
	assert.Equal(t, "Company Name", fields[0].DisplayName)
}
