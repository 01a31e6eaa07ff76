package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/db"
	"github.com/sells-group/geoenrich/internal/resilience"
	"github.com/sells-group/geoenrich/internal/table"
)

// DefaultSchema holds datasets when no schema is configured.
const DefaultSchema = "geoenrich"

// ordinalColumn preserves row order, which COPY does not guarantee on read.
const ordinalColumn = "_ord"

// PostgresStore implements DatasetStore using pgxpool. Datasets are tables in
// one schema, bulk-loaded with COPY.
type PostgresStore struct {
	pool    db.Pool
	schema  string
	closeFn func()

	// retry applies to catalog reads.
	retry resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// ConnectAttempts bounds the initial ping; a database that is still
	// starting is retried with backoff.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, schema string, poolCfg *PoolConfig) (*PostgresStore, error) {
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
	retry := resilience.DefaultRetryConfig()
	if poolCfg != nil && poolCfg.ConnectAttempts > 0 {
		retry.MaxAttempts = poolCfg.ConnectAttempts
	}
	retry.OnRetry = resilience.RetryLogger("store", "postgres ping")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, schema)
}

func newPostgresWithPool(pool db.Pool, schema string) (*PostgresStore, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !table.ValidName(schema) {
		return nil, eris.Errorf("postgres: invalid schema %q", schema)
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "postgres catalog read")
	return &PostgresStore{pool: pool, schema: schema, closeFn: pool.Close, retry: retry}, nil
}

// Migrate creates the schema and its catalog table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
	name      TEXT PRIMARY KEY,
	columns   JSONB NOT NULL,
	row_count BIGINT NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL
);`, pgx.Identifier{s.schema}.Sanitize(), s.catalog())
	_, err := s.pool.Exec(ctx, sql)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) catalog() string {
	return pgx.Identifier{s.schema, "_schema"}.Sanitize()
}

var postgresTypes = map[table.Type]string{
	table.String: "TEXT",
	table.Float:  "DOUBLE PRECISION",
	table.Int:    "BIGINT",
	table.Bool:   "BOOLEAN",
	table.Time:   "TIMESTAMPTZ",
}

func (s *PostgresStore) Save(ctx context.Context, t *table.Table) error {
	if err := checkSave(t); err != nil {
		return err
	}
	colsJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal columns")
	}
	target := pgx.Identifier{s.schema, t.Name}.Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return eris.Wrapf(err, "postgres: drop %s", t.Name)
	}

	defs := []string{pgx.Identifier{ordinalColumn}.Sanitize() + " BIGINT NOT NULL"}
	for _, c := range t.Columns {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+postgresTypes[c.Type])
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", target, strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "postgres: create %s", t.Name)
	}

	if _, err := db.CopyOrdered(ctx, tx, pgx.Identifier{s.schema, t.Name}, ordinalColumn, t.ColumnNames(), t.Rows); err != nil {
		return eris.Wrapf(err, "postgres: load %s", t.Name)
	}

	if _, err := db.UpsertTx(ctx, tx, db.UpsertConfig{
		Table:        s.schema + "._schema",
		Columns:      []string{"name", "columns", "row_count", "saved_at"},
		ConflictKeys: []string{"name"},
	}, [][]any{{t.Name, colsJSON, int64(len(t.Rows)), time.Now().UTC()}}); err != nil {
		return eris.Wrapf(err, "postgres: record schema %s", t.Name)
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s", t.Name)
}

func (s *PostgresStore) Load(ctx context.Context, name string) (*table.Table, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	colsJSON, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		var b []byte
		err := s.pool.QueryRow(ctx, "SELECT columns FROM "+s.catalog()+" WHERE name = $1", name).Scan(&b)
		return b, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load schema %s", name)
	}

	t := &table.Table{Name: name}
	if err := json.Unmarshal(colsJSON, &t.Columns); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode schema %s", name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		db.QuoteAndJoin(t.ColumnNames()),
		pgx.Identifier{s.schema, name}.Sanitize(),
		pgx.Identifier{ordinalColumn}.Sanitize(),
	)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", name)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", name)
		}
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = fromPostgres(values[i], c.Type)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, eris.Wrapf(rows.Err(), "postgres: iterate %s", name)
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT name FROM "+s.catalog()+" ORDER BY name")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset name")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "postgres: iterate datasets")
}

// fromPostgres narrows driver values to the table package's value types.
func fromPostgres(v any, typ table.Type) any {
	switch t := v.(type) {
	case int32:
		if typ == table.Float {
			return float64(t)
		}
		return int64(t)
	case int64:
		if typ == table.Float {
			return float64(t)
		}
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	}
	return v
}
