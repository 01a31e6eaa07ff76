package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geoenrich/internal/table"
)

// SQLiteStore implements DatasetStore using modernc.org/sqlite. Each dataset
// is a table of its own; the _schema catalog records column types so Load can
// restore values SQLite stores with looser affinity.
type SQLiteStore struct {
	db *sql.DB
}

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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS _schema (
	name      TEXT PRIMARY KEY,
	columns   TEXT NOT NULL,
	row_count INTEGER NOT NULL,
	saved_at  TEXT NOT NULL
);
`

// Migrate creates the catalog table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var sqliteTypes = map[table.Type]string{
	table.String: "TEXT",
	table.Float:  "REAL",
	table.Int:    "INTEGER",
	table.Bool:   "INTEGER",
	table.Time:   "TEXT",
}

func (s *SQLiteStore) Save(ctx context.Context, t *table.Table) error {
	if err := checkSave(t); err != nil {
		return err
	}
	colsJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, t.Name)); err != nil {
		return eris.Wrapf(err, "sqlite: drop %s", t.Name)
	}

	defs := make([]string, len(t.Columns))
	quoted := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf(`"%s" %s`, c.Name, sqliteTypes[c.Type])
		quoted[i] = `"` + c.Name + `"`
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE "%s" (%s)`, t.Name, strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", t.Name)
	}

	if len(t.Columns) > 0 && len(t.Rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
			t.Name, strings.Join(quoted, ", "), strings.Join(marks, ", ")))
		if err != nil {
			return eris.Wrapf(err, "sqlite: prepare insert %s", t.Name)
		}
		defer stmt.Close() //nolint:errcheck

		args := make([]any, len(t.Columns))
		for r, row := range t.Rows {
			for i, v := range row {
				args[i] = toSQLite(v)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return eris.Wrapf(err, "sqlite: insert %s row %d", t.Name, r)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _schema (name, columns, row_count, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET columns = excluded.columns, row_count = excluded.row_count, saved_at = excluded.saved_at`,
		t.Name, string(colsJSON), len(t.Rows), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return eris.Wrapf(err, "sqlite: record schema %s", t.Name)
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", t.Name)
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*table.Table, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var colsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM _schema WHERE name = ?`, name).Scan(&colsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load schema %s", name)
	}

	t := &table.Table{Name: name}
	if err := json.Unmarshal([]byte(colsJSON), &t.Columns); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode schema %s", name)
	}
	if len(t.Columns) == 0 {
		return t, nil
	}

	quoted := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		quoted[i] = `"` + c.Name + `"`
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM "%s" ORDER BY rowid`, strings.Join(quoted, ", "), name))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", name)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		raw := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", name)
		}
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			v, err := fromSQLite(raw[i], c.Type)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: %s column %s", name, c.Name)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, eris.Wrapf(rows.Err(), "sqlite: iterate %s", name)
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM _schema ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset name")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func toSQLite(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func fromSQLite(v any, typ table.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case table.String:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
	case table.Float:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		}
	case table.Int:
		if t, ok := v.(int64); ok {
			return t, nil
		}
	case table.Bool:
		if t, ok := v.(int64); ok {
			return t != 0, nil
		}
	case table.Time:
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case []byte:
			s = string(t)
		case time.Time:
			return t.UTC(), nil
		}
		if s != "" {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, eris.Wrapf(err, "parse time %q", s)
			}
			return ts.UTC(), nil
		}
	}
	return nil, eris.Errorf("unexpected %T for %s column", v, typ)
}
