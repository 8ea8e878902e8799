// Package table persists generated records into a dynamic-table store whose
// columns may not exist yet, and keeps per-job preview records for polling
// clients.
package table

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/recordgen/internal/model"
)

// FixedFields are the top-level record attributes every table carries; all
// other values go into the attribute bag.
type FixedFields struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Status  string `json:"status"`
}

// Store is the persistence contract consumed by the pipeline: the table
// schema surface, the record sink, and the per-job preview records.
type Store interface {
	// Schema provider.
	ListColumns(ctx context.Context, tableID string) ([]model.ColumnSpec, error)
	CreateColumn(ctx context.Context, tableID string, col model.ColumnSpec) error

	// Record sink. metadata carries the per-field confidence/source
	// attributions for later auditability.
	InsertRecord(ctx context.Context, tableID string, fixed FixedFields, attributes map[string]any, metadata []model.SourceAttribution) (string, error)

	// Preview records, persisted progressively as entities finish.
	SaveGeneratedRecord(ctx context.Context, jobID string, rec model.GeneratedRecord) error
	ListGeneratedRecords(ctx context.Context, jobID string) ([]model.GeneratedRecord, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool the postgres store uses. Satisfied by
// both *pgxpool.Pool and pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// splitFixed partitions a record's data into the fixed top-level attributes
// and the flexible attribute bag.
func splitFixed(data map[string]any) (FixedFields, map[string]any) {
	var fixed FixedFields
	bag := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "name":
			fixed.Name = coerceString(v)
		case "email":
			fixed.Email = coerceString(v)
		case "company", "company_name":
			fixed.Company = coerceString(v)
		case "status":
			fixed.Status = coerceString(v)
		default:
			bag[k] = v
		}
	}
	if fixed.Name == "" && fixed.Company != "" {
		fixed.Name = fixed.Company
	}
	return fixed, bag
}

// coerceString renders a fixed-field value for its TEXT column. Agents mostly
// produce strings here, but nothing upstream guarantees it.
func coerceString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
