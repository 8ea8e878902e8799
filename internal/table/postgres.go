package table

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/recordgen/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS table_columns (
	table_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	label      TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (table_id, name)
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	table_id   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	company    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}',
	metadata   JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS generated_records (
	job_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	sources    JSONB NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_records_table_id ON records(table_id);
CREATE INDEX IF NOT EXISTS idx_generated_records_job_id ON generated_records(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, tableID string) ([]model.ColumnSpec, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, label, type FROM table_columns WHERE table_id = $1 ORDER BY name`, tableID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list columns")
	}
	defer rows.Close()

	var cols []model.ColumnSpec
	for rows.Next() {
		var c model.ColumnSpec
		var typ string
		if err := rows.Scan(&c.Name, &c.Label, &typ); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column")
		}
		c.Type = model.ColumnType(typ)
		cols = append(cols, c)
	}
	return cols, eris.Wrap(rows.Err(), "postgres: iterate columns")
}

func (s *PostgresStore) CreateColumn(ctx context.Context, tableID string, col model.ColumnSpec) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO table_columns (table_id, name, label, type) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (table_id, name) DO NOTHING`,
		tableID, col.Name, col.Label, string(col.Type),
	)
	return eris.Wrapf(err, "postgres: create column %s", col.Name)
}

func (s *PostgresStore) InsertRecord(ctx context.Context, tableID string, fixed FixedFields, attributes map[string]any, metadata []model.SourceAttribution) (string, error) {
	id := uuid.New().String()

	attrJSON, err := json.Marshal(attributes)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal attributes")
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, table_id, name, email, company, status, attributes, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, tableID, fixed.Name, fixed.Email, fixed.Company, fixed.Status,
		attrJSON, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert record")
	}
	return id, nil
}

func (s *PostgresStore) SaveGeneratedRecord(ctx context.Context, jobID string, rec model.GeneratedRecord) error {
	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal data")
	}
	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO generated_records (job_id, idx, data, sources, status, error)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id, idx) DO UPDATE SET
		   data = excluded.data, sources = excluded.sources,
		   status = excluded.status, error = excluded.error`,
		jobID, rec.Index, dataJSON, sourcesJSON, string(rec.Status), rec.Error,
	)
	return eris.Wrapf(err, "postgres: save generated record %d", rec.Index)
}

func (s *PostgresStore) ListGeneratedRecords(ctx context.Context, jobID string) ([]model.GeneratedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, data, sources, status, error FROM generated_records WHERE job_id = $1 ORDER BY idx`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list generated records")
	}
	defer rows.Close()

	var recs []model.GeneratedRecord
	for rows.Next() {
		var rec model.GeneratedRecord
		var dataJSON, sourcesJSON []byte
		var status string
		if err := rows.Scan(&rec.Index, &dataJSON, &sourcesJSON, &status, &rec.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan generated record")
		}
		rec.Status = model.RecordStatus(status)
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal data")
		}
		if err := json.Unmarshal(sourcesJSON, &rec.Sources); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: iterate generated records")
}
