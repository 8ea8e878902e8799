package agent

import (
	"context"

	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

// HybridStrategy is the default orchestration mode: one bulk knowledge call
// seeds the batch, then per-entity targeted enrichment fixes up whatever that
// call could not trust.
type HybridStrategy struct {
	knowledge *KnowledgeAgent
	enrich    *EnrichmentAgent
}

// NewHybridStrategy assembles the hybrid strategy from its two phase agents.
func NewHybridStrategy(knowledge *KnowledgeAgent, enrich *EnrichmentAgent) *HybridStrategy {
	return &HybridStrategy{knowledge: knowledge, enrich: enrich}
}

var _ Strategy = (*HybridStrategy)(nil)

func (s *HybridStrategy) Seed(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	return s.knowledge.Propose(ctx, req)
}

func (s *HybridStrategy) EnrichEntity(ctx context.Context, cand model.Candidate, missing []model.EnrichmentField) (*Result, error) {
	return s.enrich.EnrichEntity(ctx, cand, missing)
}
