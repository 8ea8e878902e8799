package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/gateway"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

const knowledgeSystemPrompt = `You are a business data researcher. You propose real, existing entities matching a description and fill in requested fields from your own knowledge.

Rules:
- Only propose entities you believe actually exist.
- For every requested field, report your honest confidence between 0.0 and 1.0. Use null with confidence 0 when you do not know a value. Never invent plausible-looking values at high confidence.
- Respond with a JSON array only, no prose, matching exactly:
[{"name": "...", "website": "https://...", "fields": {"<field>": {"value": ..., "confidence": 0.0}}}]`

// KnowledgeAgent runs the bulk knowledge phase: one model call that proposes
// the entire candidate batch with best-effort field values, no network
// fetches.
type KnowledgeAgent struct {
	gw        *gateway.Gateway
	model     string
	maxTokens int64
}

// NewKnowledgeAgent creates the knowledge-phase agent.
func NewKnowledgeAgent(gw *gateway.Gateway, modelID string, maxTokens int64) *KnowledgeAgent {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &KnowledgeAgent{gw: gw, model: modelID, maxTokens: maxTokens}
}

// Propose returns the candidate batch. A model or parse failure here fails
// the whole job; there is nothing to enrich without a seed set.
func (a *KnowledgeAgent) Propose(ctx context.Context, req model.GenerationRequest) ([]model.Candidate, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	resp, err := a.gw.Complete(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    knowledgeSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildKnowledgePrompt(req)},
		},
	})
	if err != nil {
		return nil, usage, eris.Wrap(err, "agent: knowledge phase")
	}
	usage.Add(resp.Usage)

	candidates, err := parseCandidates(resp.Text(), req.Fields)
	if err != nil {
		return nil, usage, err
	}
	if len(candidates) == 0 {
		return nil, usage, eris.New("agent: knowledge phase produced no candidates")
	}
	if len(candidates) > req.RowCount {
		candidates = candidates[:req.RowCount]
	}

	zap.L().Info("knowledge phase complete",
		zap.Int("requested", req.RowCount),
		zap.Int("proposed", len(candidates)),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
	)
	return candidates, usage, nil
}

func buildKnowledgePrompt(req model.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose %d entities matching: %s\n", req.RowCount, req.DataType)
	if req.Specifications != "" {
		fmt.Fprintf(&b, "Additional constraints: %s\n", req.Specifications)
	}
	b.WriteString("\nRequested fields:\n")
	for _, f := range req.Fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
