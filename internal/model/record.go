package model

// RecordStatus marks whether a candidate entity survived generation.
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
)

// GeneratedRecord is the fully-enriched output for one candidate entity.
// Immutable once persisted; a failed entity simply carries partial data.
type GeneratedRecord struct {
	Index   int                 `json:"index"`
	Data    map[string]any      `json:"data"`
	Sources []SourceAttribution `json:"sources"`
	Status  RecordStatus        `json:"status"`
	Error   string              `json:"error,omitempty"`
}

// GenerationRequest describes one batch of records to synthesize.
type GenerationRequest struct {
	RowCount       int               `json:"row_count"`
	Fields         []EnrichmentField `json:"fields"`
	DataType       string            `json:"data_type"`
	Specifications string            `json:"specifications,omitempty"`
}

// FieldNames returns the requested field names in declaration order.
func (r GenerationRequest) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}
