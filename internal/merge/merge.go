// Package merge left-joins time-keyed and category-keyed auxiliary tables onto
// the unified record set and accounts for the coverage of every merged column.
package merge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/model"
)

// ValueType is the type of a merged column.
type ValueType string

// Supported value types.
const (
	TypeFloat  ValueType = "float"
	TypeInt    ValueType = "int"
	TypeString ValueType = "string"
)

// KeyPair maps a base attribute (see model.UnifiedRecord.Attr) to an
// auxiliary column.
type KeyPair struct {
	Base string `mapstructure:"base" yaml:"base"`
	Aux  string `mapstructure:"aux" yaml:"aux"`
}

// ValueColumn is one auxiliary column carried into the output.
type ValueColumn struct {
	Name string    `mapstructure:"name" yaml:"name"`
	Type ValueType `mapstructure:"type" yaml:"type"`
	// As is the output column name; default is the table prefix plus Name.
	As string `mapstructure:"as" yaml:"as"`
}

// AuxTable describes an auxiliary dataset and how it joins. DateColumn is
// empty for tables keyed only by category.
type AuxTable struct {
	Dataset     string        `mapstructure:"dataset" yaml:"dataset"`
	Prefix      string        `mapstructure:"prefix" yaml:"prefix"`
	JoinKeys    []KeyPair     `mapstructure:"join_keys" yaml:"join_keys"`
	DateColumn  string        `mapstructure:"date_column" yaml:"date_column"`
	Format      Format        `mapstructure:"format" yaml:"format"`
	Granularity Granularity   `mapstructure:"granularity" yaml:"granularity"`
	Values      []ValueColumn `mapstructure:"values" yaml:"values"`
}

func (t AuxTable) column(v ValueColumn) string {
	if v.As != "" {
		return v.As
	}
	prefix := t.Prefix
	if prefix == "" {
		prefix = t.Dataset + "_"
	}
	return prefix + v.Name
}

// Columns returns the output column names in declaration order.
func (t AuxTable) Columns() []string {
	out := make([]string, len(t.Values))
	for i, v := range t.Values {
		out[i] = t.column(v)
	}
	return out
}

// Source pairs a table definition with its raw rows.
type Source struct {
	Table AuxTable
	Rows  []map[string]string
}

// GranularityError reports a date column that cannot be normalized to the
// table's join granularity. It is a schema error and aborts setup.
type GranularityError struct {
	Table       string
	Column      string
	Format      Format
	Granularity Granularity
	Value       string
	Row         int
	Reason      string
}

func (e *GranularityError) Error() string {
	msg := fmt.Sprintf("merge: table %q column %q (format %q, granularity %q): %s",
		e.Table, e.Column, e.Format, e.Granularity, e.Reason)
	if e.Value != "" || e.Row > 0 {
		msg += fmt.Sprintf(" at row %d value %q", e.Row, e.Value)
	}
	return msg
}

// DuplicateKeyError reports two auxiliary rows with the same join key, which
// would fan out the left join.
type DuplicateKeyError struct {
	Table string
	Key   string
	First int
	Row   int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("merge: table %q has duplicate key %q at rows %d and %d", e.Table, e.Key, e.First, e.Row)
}

// Coverage is the fraction of output rows with a non-null value in a merged
// column.
type Coverage struct {
	Table   string  `json:"table"`
	Column  string  `json:"column"`
	NonNull int     `json:"non_null"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

type index struct {
	table   AuxTable
	rows    map[string]map[string]any
	skipped int
	invalid int
}

// Merger joins a fixed set of validated auxiliary tables.
type Merger struct {
	tables []*index
	log    *zap.Logger
}

// New validates every table and indexes its rows. Any date value that cannot
// be normalized returns a *GranularityError; a repeated join key returns a
// *DuplicateKeyError. Rows missing a join key or date value are skipped and
// counted.
func New(sources []Source) (*Merger, error) {
	m := &Merger{log: zap.L().With(zap.String("component", "merge"))}
	seenCols := make(map[string]string)

	for _, src := range sources {
		t := src.Table
		if err := validateTable(t); err != nil {
			return nil, err
		}
		for _, col := range t.Columns() {
			if other, ok := seenCols[col]; ok {
				return nil, eris.Errorf("merge: column %q produced by both %q and %q", col, other, t.Dataset)
			}
			seenCols[col] = t.Dataset
		}

		ix, err := buildIndex(t, src.Rows)
		if err != nil {
			return nil, err
		}
		m.tables = append(m.tables, ix)
		m.log.Info("indexed auxiliary table",
			zap.String("table", t.Dataset),
			zap.Int("rows", len(ix.rows)),
			zap.Int("skipped", ix.skipped),
			zap.Int("invalid_values", ix.invalid),
		)
	}
	return m, nil
}

func validateTable(t AuxTable) error {
	if t.Dataset == "" {
		return eris.New("merge: auxiliary table needs a dataset")
	}
	if len(t.JoinKeys) == 0 && t.DateColumn == "" {
		return eris.Errorf("merge: table %q has neither join keys nor a date column", t.Dataset)
	}
	for _, k := range t.JoinKeys {
		if k.Base == "" || k.Aux == "" {
			return eris.Errorf("merge: table %q has an incomplete join key %+v", t.Dataset, k)
		}
	}
	if len(t.Values) == 0 {
		return eris.Errorf("merge: table %q has no value columns", t.Dataset)
	}
	for _, v := range t.Values {
		switch v.Type {
		case TypeFloat, TypeInt, TypeString:
		default:
			return eris.Errorf("merge: table %q column %q has unknown type %q", t.Dataset, v.Name, v.Type)
		}
	}

	if t.DateColumn == "" {
		return nil
	}
	gerr := &GranularityError{Table: t.Dataset, Column: t.DateColumn, Format: t.Format, Granularity: t.Granularity}
	if _, ok := t.Format.Native(); !ok {
		gerr.Reason = "unknown date format"
		return gerr
	}
	if !t.Granularity.Valid() {
		gerr.Reason = "unknown join granularity"
		return gerr
	}
	if !t.Format.CanJoinAt(t.Granularity) {
		native, _ := t.Format.Native()
		gerr.Reason = fmt.Sprintf("a %s value cannot be refined to %s", native, t.Granularity)
		return gerr
	}
	return nil
}

func buildIndex(t AuxTable, rows []map[string]string) (*index, error) {
	ix := &index{table: t, rows: make(map[string]map[string]any, len(rows))}
	firstRow := make(map[string]int, len(rows))

	for n, row := range rows {
		rowNum := n + 1
		parts := make([]string, 0, len(t.JoinKeys)+1)
		missing := false
		for _, k := range t.JoinKeys {
			v := joinValue(row[k.Aux])
			if v == "" {
				missing = true
				break
			}
			parts = append(parts, v)
		}
		if missing {
			ix.skipped++
			continue
		}

		if t.DateColumn != "" {
			raw := row[t.DateColumn]
			if strings.TrimSpace(raw) == "" {
				ix.skipped++
				continue
			}
			p, err := ParsePeriod(raw, t.Format)
			if err != nil {
				return nil, &GranularityError{
					Table: t.Dataset, Column: t.DateColumn, Format: t.Format, Granularity: t.Granularity,
					Value: raw, Row: rowNum, Reason: "value does not match the declared format",
				}
			}
			p, err = p.Coarsen(t.Granularity)
			if err != nil {
				return nil, &GranularityError{
					Table: t.Dataset, Column: t.DateColumn, Format: t.Format, Granularity: t.Granularity,
					Value: raw, Row: rowNum, Reason: err.Error(),
				}
			}
			parts = append(parts, p.Key())
		}

		key := compositeKey(parts)
		if first, dup := firstRow[key]; dup {
			return nil, &DuplicateKeyError{Table: t.Dataset, Key: strings.Join(parts, "|"), First: first, Row: rowNum}
		}
		firstRow[key] = rowNum

		values := make(map[string]any, len(t.Values))
		for _, vc := range t.Values {
			v, ok, err := parseValue(row[vc.Name], vc.Type)
			if err != nil {
				ix.invalid++
				zap.L().Debug("merge: invalid auxiliary value",
					zap.String("table", t.Dataset),
					zap.Int("row", rowNum),
					zap.String("column", vc.Name),
					zap.Error(err),
				)
				continue
			}
			if ok {
				values[t.column(vc)] = v
			}
		}
		ix.rows[key] = values
	}
	return ix, nil
}

func parseValue(raw string, typ ValueType) (any, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "null") {
		return nil, false, nil
	}
	switch typ {
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.ReplaceAll(s, ",", ""), "%"), 64)
		if err != nil {
			return nil, false, eris.Wrapf(err, "merge: parse float %q", s)
		}
		return f, true, nil
	case TypeInt:
		n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
		if err != nil {
			return nil, false, eris.Wrapf(err, "merge: parse int %q", s)
		}
		return n, true, nil
	default:
		return s, true, nil
	}
}

// joinValue is the canonical form of one join key component.
func joinValue(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func compositeKey(parts []string) string {
	return strings.Join(parts, "\x1f")
}

// Columns returns every merged output column in table order.
func (m *Merger) Columns() []string {
	var out []string
	for _, ix := range m.tables {
		out = append(out, ix.table.Columns()...)
	}
	return out
}

// OutputColumn is one merged column and the type of its values.
type OutputColumn struct {
	Name string
	Type ValueType
}

// Outputs returns every merged output column with its type, in table order.
func (m *Merger) Outputs() []OutputColumn {
	var out []OutputColumn
	for _, ix := range m.tables {
		for _, v := range ix.table.Values {
			out = append(out, OutputColumn{Name: ix.table.column(v), Type: v.Type})
		}
	}
	return out
}

// Merge left-joins every table onto base. The output has exactly one row per
// base row, in base order; unmatched rows simply lack the merged columns.
// Coverage is reported per merged column.
func (m *Merger) Merge(base []model.UnifiedRecord) ([]model.UnifiedRecord, []Coverage) {
	out := make([]model.UnifiedRecord, len(base))
	for i := range base {
		out[i] = base[i]
		aux := make(map[string]any, len(base[i].Aux))
		for k, v := range base[i].Aux {
			aux[k] = v
		}
		out[i].Aux = aux
	}

	var coverage []Coverage
	for _, ix := range m.tables {
		t := ix.table
		counts := make(map[string]int, len(t.Values))
		matched := 0
		for i := range out {
			values, ok := ix.lookup(&out[i])
			if !ok {
				continue
			}
			matched++
			for col, v := range values {
				out[i].Aux[col] = v
				counts[col]++
			}
		}

		for _, col := range t.Columns() {
			c := Coverage{Table: t.Dataset, Column: col, NonNull: counts[col], Total: len(out)}
			if c.Total > 0 {
				c.Percent = 100 * float64(c.NonNull) / float64(c.Total)
			}
			coverage = append(coverage, c)
		}
		m.log.Info("merged auxiliary table",
			zap.String("table", t.Dataset),
			zap.Int("rows", len(out)),
			zap.Int("matched", matched),
		)
	}
	return out, coverage
}

func (ix *index) lookup(r *model.UnifiedRecord) (map[string]any, bool) {
	t := ix.table
	parts := make([]string, 0, len(t.JoinKeys)+1)
	for _, k := range t.JoinKeys {
		v, ok := r.Attr(k.Base)
		if !ok {
			return nil, false
		}
		v = joinValue(v)
		if v == "" {
			return nil, false
		}
		parts = append(parts, v)
	}
	if t.DateColumn != "" {
		if r.Transaction.Date.IsZero() {
			return nil, false
		}
		parts = append(parts, PeriodOf(r.Transaction.Date, t.Granularity).Key())
	}
	values, ok := ix.rows[compositeKey(parts)]
	return values, ok
}
