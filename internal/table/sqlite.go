package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/recordgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The default backend
// for single-node deployments and the one-shot CLI.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS table_columns (
	table_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	label      TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (table_id, name)
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	table_id   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	company    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT '{}',
	metadata   TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS generated_records (
	job_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	sources    TEXT NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_records_table_id ON records(table_id);
CREATE INDEX IF NOT EXISTS idx_generated_records_job_id ON generated_records(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListColumns(ctx context.Context, tableID string) ([]model.ColumnSpec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, label, type FROM table_columns WHERE table_id = ? ORDER BY name`, tableID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list columns")
	}
	defer rows.Close()

	var cols []model.ColumnSpec
	for rows.Next() {
		var c model.ColumnSpec
		var typ string
		if err := rows.Scan(&c.Name, &c.Label, &typ); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column")
		}
		c.Type = model.ColumnType(typ)
		cols = append(cols, c)
	}
	return cols, eris.Wrap(rows.Err(), "sqlite: iterate columns")
}

func (s *SQLiteStore) CreateColumn(ctx context.Context, tableID string, col model.ColumnSpec) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO table_columns (table_id, name, label, type) VALUES (?, ?, ?, ?)
		 ON CONFLICT (table_id, name) DO NOTHING`,
		tableID, col.Name, col.Label, string(col.Type),
	)
	return eris.Wrapf(err, "sqlite: create column %s", col.Name)
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, tableID string, fixed FixedFields, attributes map[string]any, metadata []model.SourceAttribution) (string, error) {
	id := uuid.New().String()

	attrJSON, err := json.Marshal(attributes)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal attributes")
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, table_id, name, email, company, status, attributes, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tableID, fixed.Name, fixed.Email, fixed.Company, fixed.Status,
		string(attrJSON), string(metaJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert record")
	}
	return id, nil
}

func (s *SQLiteStore) SaveGeneratedRecord(ctx context.Context, jobID string, rec model.GeneratedRecord) error {
	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal data")
	}
	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generated_records (job_id, idx, data, sources, status, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, idx) DO UPDATE SET
		   data = excluded.data, sources = excluded.sources,
		   status = excluded.status, error = excluded.error`,
		jobID, rec.Index, string(dataJSON), string(sourcesJSON), string(rec.Status), rec.Error,
	)
	return eris.Wrapf(err, "sqlite: save generated record %d", rec.Index)
}

func (s *SQLiteStore) ListGeneratedRecords(ctx context.Context, jobID string) ([]model.GeneratedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, data, sources, status, error FROM generated_records WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list generated records")
	}
	defer rows.Close()

	var recs []model.GeneratedRecord
	for rows.Next() {
		var rec model.GeneratedRecord
		var dataJSON, sourcesJSON, status string
		if err := rows.Scan(&rec.Index, &dataJSON, &sourcesJSON, &status, &rec.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan generated record")
		}
		rec.Status = model.RecordStatus(status)
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal data")
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &rec.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate generated records")
}
