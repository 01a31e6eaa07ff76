package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyOrdered bulk-loads rows into target with COPY. The ordinal column is
// prepended and holds each row's zero-based position so readers can restore
// the original order. Every row must have one value per column.
func CopyOrdered(ctx context.Context, c Copier, target pgx.Identifier, ordinal string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cols := append([]string{ordinal}, columns...)
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		if len(rows[i]) != len(columns) {
			return nil, eris.Errorf("db: row %d has %d values for %d columns", i, len(rows[i]), len(columns))
		}
		return append([]any{int64(i)}, rows[i]...), nil
	})

	n, err := c.CopyFrom(ctx, target, cols, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", strings.Join(target, "."))
	}
	return n, nil
}
