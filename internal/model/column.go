package model

// ColumnType is a dynamic-table column type as understood by the record sink.
type ColumnType string

const (
	ColumnTypeText    ColumnType = "text"
	ColumnTypeNumber  ColumnType = "number"
	ColumnTypeBoolean ColumnType = "boolean"
	ColumnTypeEmail   ColumnType = "email"
	ColumnTypePhone   ColumnType = "phone"
	ColumnTypeURL     ColumnType = "url"
	ColumnTypeDate    ColumnType = "date"
)

// ColumnSpec is the inferred definition for a column that may need creating.
// Derived, not stored independently; consumed once by the insertion step.
type ColumnSpec struct {
	Name  string     `json:"name"`
	Label string     `json:"label"`
	Type  ColumnType `json:"type"`
}
