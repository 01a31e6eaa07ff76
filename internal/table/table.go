// Package table is the plain tabular form every persisted dataset takes:
// named, typed columns and rows of Go values.
package table

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// Type is a column type. Values are held as string, float64, int64, bool or
// time.Time respectively; nil is null in any column.
type Type string

// Column types.
const (
	String Type = "string"
	Float  Type = "float"
	Int    Type = "int"
	Bool   Type = "bool"
	Time   Type = "time"
)

// Column is a named, typed column.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Table is a named dataset.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidName reports whether name can be used as a table or column name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// New returns an empty table.
func New(name string, cols ...Column) *Table {
	return &Table{Name: name, Columns: cols}
}

// Append adds one row. The value count must match the column count.
func (t *Table) Append(values ...any) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("table: %s: row has %d values for %d columns", t.Name, len(values), len(t.Columns)))
	}
	t.Rows = append(t.Rows, values)
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Coverage returns the number of non-null values in column name and that
// count as a percentage of all rows.
func (t *Table) Coverage(name string) (int, float64) {
	i := t.Index(name)
	if i < 0 {
		return 0, 0
	}
	n := 0
	for _, row := range t.Rows {
		if row[i] != nil {
			n++
		}
	}
	if len(t.Rows) == 0 {
		return 0, 0
	}
	return n, 100 * float64(n) / float64(len(t.Rows))
}

// Validate checks names, row widths and that every value matches its
// column's type.
func (t *Table) Validate() error {
	if !ValidName(t.Name) {
		return eris.Errorf("table: invalid table name %q", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !ValidName(c.Name) {
			return eris.Errorf("table: %s: invalid column name %q", t.Name, c.Name)
		}
		if seen[c.Name] {
			return eris.Errorf("table: %s: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case String, Float, Int, Bool, Time:
		default:
			return eris.Errorf("table: %s: column %q has unknown type %q", t.Name, c.Name, c.Type)
		}
	}
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return eris.Errorf("table: %s: row %d has %d values for %d columns", t.Name, r, len(row), len(t.Columns))
		}
		for i, v := range row {
			if !fits(v, t.Columns[i].Type) {
				return eris.Errorf("table: %s: row %d column %q: %T is not %s", t.Name, r, t.Columns[i].Name, v, t.Columns[i].Type)
			}
		}
	}
	return nil
}

func fits(v any, typ Type) bool {
	if v == nil {
		return true
	}
	switch typ {
	case String:
		_, ok := v.(string)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Int:
		_, ok := v.(int64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Time:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// Page returns a copy holding rows [offset, offset+limit). A non-positive
// limit means all remaining rows.
func (t *Table) Page(offset, limit int) *Table {
	out := &Table{Name: t.Name, Columns: t.Columns}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.Rows) {
		out.Rows = [][]any{}
		return out
	}
	end := len(t.Rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out.Rows = t.Rows[offset:end]
	return out
}

// Records returns each row as a column-name map.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for r, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			m[c.Name] = row[i]
		}
		out[r] = m
	}
	return out
}

// Clone deep-copies the row slices. Values themselves are immutable.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Columns: append([]Column(nil), t.Columns...), Rows: make([][]any, len(t.Rows))}
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Nullable helpers for building rows from optional values.

// FloatPtr returns *p or nil.
func FloatPtr(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// NonEmpty returns s or nil when s is empty.
func NonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
