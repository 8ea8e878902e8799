package table

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/model"
)

// Reconciler diffs the requested fields against the target table's existing
// columns, creates what is missing with inferred types, and writes the
// finished records.
type Reconciler struct {
	store    Store
	inferrer ColumnTypeInferrer
}

// NewReconciler creates a Reconciler. A nil inferrer falls back to the
// standard keyword heuristics.
func NewReconciler(store Store, inferrer ColumnTypeInferrer) *Reconciler {
	if inferrer == nil {
		inferrer = KeywordInferrer{}
	}
	return &Reconciler{store: store, inferrer: inferrer}
}

// ReconcileSchema ensures every requested field has a column, returning the
// specs it created. Fixed top-level attributes never need columns.
func (r *Reconciler) ReconcileSchema(ctx context.Context, tableID string, fields []model.EnrichmentField, records []model.GeneratedRecord) ([]model.ColumnSpec, error) {
	existing, err := r.store.ListColumns(ctx, tableID)
	if err != nil {
		return nil, eris.Wrap(err, "table: list columns")
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c.Name)] = true
	}
	for _, fixed := range []string{"name", "email", "company", "status"} {
		have[fixed] = true
	}

	var created []model.ColumnSpec
	for _, f := range fields {
		name := SanitizeColumnName(f.Name)
		if have[name] {
			continue
		}

		col := model.ColumnSpec{
			Name:  name,
			Label: f.DisplayName,
			Type:  r.inferrer.Infer(f.Name, sampleValues(f.Name, records)),
		}
		if col.Label == "" {
			col.Label = f.Name
		}
		if err := r.store.CreateColumn(ctx, tableID, col); err != nil {
			return created, eris.Wrapf(err, "table: create column %s", name)
		}
		have[name] = true
		created = append(created, col)

		zap.L().Info("created column",
			zap.String("table_id", tableID),
			zap.String("column", col.Name),
			zap.String("type", string(col.Type)),
		)
	}
	return created, nil
}

// InsertRecords writes every successful record into the table, splitting
// values between the fixed attributes and the attribute bag and carrying the
// per-field provenance alongside. Returns how many rows were inserted.
func (r *Reconciler) InsertRecords(ctx context.Context, tableID string, records []model.GeneratedRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		if rec.Status != model.RecordStatusSuccess {
			continue
		}
		fixed, bag := splitFixed(rec.Data)
		if _, err := r.store.InsertRecord(ctx, tableID, fixed, bag, rec.Sources); err != nil {
			return inserted, eris.Wrapf(err, "table: insert record %d", rec.Index)
		}
		inserted++
	}
	return inserted, nil
}

// sampleValues collects non-nil values for a field across the batch, used for
// type inference.
func sampleValues(field string, records []model.GeneratedRecord) []any {
	var samples []any
	for _, rec := range records {
		if v, ok := rec.Data[field]; ok && v != nil {
			samples = append(samples, v)
		}
	}
	return samples
}
