// Package store persists finished tables behind the DatasetStore boundary.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/table"
)

// ErrNotFound is returned by Load when no dataset has the requested name.
var ErrNotFound = errors.New("store: dataset not found")

// DatasetStore saves and loads whole tables by name. Save replaces any
// previous table of the same name.
type DatasetStore interface {
	Save(ctx context.Context, t *table.Table) error
	Load(ctx context.Context, name string) (*table.Table, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the store selected by cfg.Driver, migrated and ready.
func Open(ctx context.Context, cfg config.StoreConfig) (DatasetStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "geoenrich.db"
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema, &PoolConfig{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
}

func checkSave(t *table.Table) error {
	if t == nil {
		return eris.New("store: nil table")
	}
	if len(t.Columns) == 0 {
		return eris.Errorf("store: %s has no columns", t.Name)
	}
	return t.Validate()
}

func checkName(name string) error {
	if !table.ValidName(name) {
		return eris.Errorf("store: invalid dataset name %q", name)
	}
	return nil
}
