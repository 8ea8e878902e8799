package agent

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recordgen/internal/model"
)

// fieldWire is the {value, confidence} pair the model is asked to emit.
type fieldWire struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// candidateWire is one proposed entity as emitted by the knowledge phase.
type candidateWire struct {
	Name    string               `json:"name"`
	Website string               `json:"website"`
	Fields  map[string]fieldWire `json:"fields"`
}

// cleanJSON extracts a JSON document from model output that may be wrapped in
// markdown code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Trim to the outermost array or object, whichever opens first.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	switch {
	case arrStart >= 0 && (objStart < 0 || arrStart < objStart):
		if end := strings.LastIndex(text, "]"); end > arrStart {
			text = text[arrStart : end+1]
		}
	case objStart >= 0:
		if end := strings.LastIndex(text, "}"); end > objStart {
			text = text[objStart : end+1]
		}
	}

	return strings.TrimSpace(text)
}

// parseCandidates decodes the knowledge-phase response and coerces it into
// Candidates: every requested field is present, with absent or null entries
// normalized to {null, 0}.
func parseCandidates(text string, fields []model.EnrichmentField) ([]model.Candidate, error) {
	var wire []candidateWire
	if err := json.Unmarshal([]byte(cleanJSON(text)), &wire); err != nil {
		return nil, eris.Wrap(err, "agent: parse candidates")
	}

	candidates := make([]model.Candidate, 0, len(wire))
	for _, w := range wire {
		c := model.Candidate{
			Name:    strings.TrimSpace(w.Name),
			Website: strings.TrimSpace(w.Website),
			Fields:  make(map[string]model.FieldWithConfidence, len(fields)),
		}
		for _, f := range fields {
			fw, ok := w.Fields[f.Name]
			if !ok {
				c.Fields[f.Name] = model.NewFieldWithConfidence(f.Name, nil, 0)
				continue
			}
			c.Fields[f.Name] = model.NewFieldWithConfidence(f.Name, fw.Value, fw.Confidence)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// parseFieldValues decodes an extraction response of the shape
// {fieldName: value, ...}, dropping explicit nulls.
func parseFieldValues(text string) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(text)), &values); err != nil {
		return nil, eris.Wrap(err, "agent: parse field values")
	}
	for k, v := range values {
		if v == nil {
			delete(values, k)
		}
	}
	return values, nil
}
