package model

import "time"

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobStage identifies which pipeline phase a processing job is in.
type JobStage string

const (
	StageKnowledgeExtraction JobStage = "knowledge_extraction"
	StageEnrichment          JobStage = "enrichment"
	StageCompleted           JobStage = "completed"
	StageFailed              JobStage = "failed"
)

// EnrichmentJob tracks one record-generation request. Owned exclusively by
// the job manager; only the orchestrator's progress callbacks mutate it.
type EnrichmentJob struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	Stage            JobStage  `json:"stage"`
	TotalRecords     int       `json:"total_records"`
	CompletedRecords int       `json:"completed_records"`
	FailedRecords    int       `json:"failed_records"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	InputTokens      int64     `json:"input_tokens,omitempty"`
	OutputTokens     int64     `json:"output_tokens,omitempty"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
