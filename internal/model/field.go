package model

// FieldType describes the expected shape of an extracted value.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeArray   FieldType = "array"
)

// EnrichmentField declares one field a caller wants extracted. Immutable for
// the life of a job.
type EnrichmentField struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
}

// FieldWithConfidence is the atomic unit produced by either agent phase.
// A nil Value always carries confidence 0.
type FieldWithConfidence struct {
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NewFieldWithConfidence builds a FieldWithConfidence, enforcing the
// nil-value ⇒ zero-confidence invariant and clamping confidence to [0,1].
func NewFieldWithConfidence(name string, value any, confidence float64) FieldWithConfidence {
	if value == nil {
		confidence = 0
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return FieldWithConfidence{Name: name, Value: value, Confidence: confidence}
}

// SourceModelKnowledge is the SourceAttribution URL sentinel used when a value
// came from the model's internal knowledge rather than a fetched page.
const SourceModelKnowledge = "model:knowledge"

// SourceAttribution records which URL (or model knowledge) backed a published
// field value. Only emitted for fields whose confidence met the producing
// phase's threshold.
type SourceAttribution struct {
	Field      string  `json:"field"`
	URL        string  `json:"url"`
	Confidence float64 `json:"confidence"`
}

// Candidate is one entity proposed by the knowledge phase, before enrichment.
type Candidate struct {
	Name    string                         `json:"name"`
	Website string                         `json:"website,omitempty"`
	Fields  map[string]FieldWithConfidence `json:"fields"`
}
