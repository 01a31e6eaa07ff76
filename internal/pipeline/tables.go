package pipeline

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/geoenrich/internal/geocode"
	"github.com/sells-group/geoenrich/internal/merge"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/table"
	"github.com/sells-group/geoenrich/internal/temporal"
)

// Persisted table names.
const (
	TableUnified    = "unified_records"
	TableProperties = "enriched_properties"
	TableUnmatched  = "unmatched_transactions"
	TableMatch      = "match_report"
	TableTierGroups = "tier_groups"
	TableCoverage   = "coverage_report"
	TableRunReport  = "run_report"
)

// recordColumns are the fixed leading columns of unified_records.
var recordColumns = []table.Column{
	{Name: "transaction_id", Type: table.String},
	{Name: "dataset", Type: table.String},
	{Name: "property_type", Type: table.String},
	{Name: "address", Type: table.String},
	{Name: "block", Type: table.String},
	{Name: "street", Type: table.String},
	{Name: "project", Type: table.String},
	{Name: "date", Type: table.Time},
	{Name: "price", Type: table.Float},
	{Name: "floor_area", Type: table.Float},
	{Name: "lease_start_year", Type: table.Int},
	{Name: "reference_id", Type: table.String},
	{Name: "match_type", Type: table.String},
	{Name: "match_score", Type: table.Float},
	{Name: "lat", Type: table.Float},
	{Name: "lon", Type: table.Float},
	{Name: "area", Type: table.String},
	{Name: "period", Type: table.String},
	{Name: "period_start", Type: table.Int},
	{Name: "tier", Type: table.String},
}

// reservedColumn reports whether name is a record or feature column of
// unified_records.
func reservedColumn(name string, categories []model.Category, radii []float64) bool {
	for _, c := range recordColumns {
		if c.Name == name {
			return true
		}
	}
	for _, c := range featureColumns(categories, radii) {
		if c.Name == name {
			return true
		}
	}
	return false
}

func sortedRadii(radii []float64) []float64 {
	out := append([]float64(nil), radii...)
	sort.Float64s(out)
	return out
}

// NearestColumn names the nearest-distance column of a category.
func NearestColumn(c model.Category) string {
	return string(c) + "_nearest_m"
}

// CountColumn names the count column of a category at radius meters.
func CountColumn(c model.Category, radius float64) string {
	r := strconv.FormatFloat(radius, 'f', -1, 64)
	return string(c) + "_count_" + strings.ReplaceAll(r, ".", "_")
}

func featureColumns(categories []model.Category, radii []float64) []table.Column {
	var cols []table.Column
	for _, c := range categories {
		cols = append(cols, table.Column{Name: NearestColumn(c), Type: table.Float})
		for _, r := range radii {
			cols = append(cols, table.Column{Name: CountColumn(c, r), Type: table.Int})
		}
	}
	return cols
}

func featureValues(p *model.EnrichedProperty, categories []model.Category, radii []float64) []any {
	var out []any
	for _, c := range categories {
		f, _ := p.Feature(c)
		out = append(out, table.FloatPtr(f.Nearest))
		counts := make(map[float64]int, len(f.Counts))
		for _, rc := range f.Counts {
			counts[rc.Radius] = rc.Count
		}
		for _, r := range radii {
			out = append(out, int64(counts[r]))
		}
	}
	return out
}

var auxTypes = map[merge.ValueType]table.Type{
	merge.TypeFloat:  table.Float,
	merge.TypeInt:    table.Int,
	merge.TypeString: table.String,
}

// UnifiedTable renders the final denormalized records.
func UnifiedTable(records []model.UnifiedRecord, categories []model.Category, radii []float64, aux []merge.OutputColumn) *table.Table {
	cols := append([]table.Column(nil), recordColumns...)
	cols = append(cols, featureColumns(categories, radii)...)
	for _, o := range aux {
		cols = append(cols, table.Column{Name: o.Name, Type: auxTypes[o.Type]})
	}

	t := table.New(TableUnified, cols...)
	for i := range records {
		r := &records[i]
		tx := &r.Transaction
		p := r.Property
		row := []any{
			tx.ID,
			tx.Dataset,
			string(tx.PropertyType),
			table.NonEmpty(tx.Address),
			table.NonEmpty(tx.Block),
			table.NonEmpty(tx.Street),
			table.NonEmpty(tx.Project),
			tx.Date,
			tx.Price,
			positive(tx.FloorArea),
			positiveInt(tx.LeaseStartYear),
			r.Match.ReferenceID,
			string(r.Match.Type),
			r.Match.Score,
			p.Location.Lat,
			p.Location.Lon,
			table.NonEmpty(p.Area),
			r.Segment.Period,
			int64(r.Segment.PeriodStart),
			string(r.Segment.Tier),
		}
		row = append(row, featureValues(p, categories, radii)...)
		for _, o := range aux {
			row = append(row, r.Aux[o.Name])
		}
		t.Append(row...)
	}
	return t
}

// PropertiesTable renders one row per unique enriched location.
func PropertiesTable(props []model.EnrichedProperty, categories []model.Category, radii []float64) *table.Table {
	cols := []table.Column{
		{Name: "reference_id", Type: table.String},
		{Name: "lat", Type: table.Float},
		{Name: "lon", Type: table.Float},
		{Name: "area", Type: table.String},
	}
	cols = append(cols, featureColumns(categories, radii)...)

	t := table.New(TableProperties, cols...)
	for i := range props {
		p := &props[i]
		row := []any{p.ReferenceID, p.Location.Lat, p.Location.Lon, table.NonEmpty(p.Area)}
		t.Append(append(row, featureValues(p, categories, radii)...)...)
	}
	return t
}

// UnmatchedTable renders the residual: transactions with no acceptable
// reference, plus those whose resolution failed, in input order.
func UnmatchedTable(txs []model.RawTransaction, res *geocode.Resolution) *table.Table {
	t := table.New(TableUnmatched,
		table.Column{Name: "transaction_id", Type: table.String},
		table.Column{Name: "dataset", Type: table.String},
		table.Column{Name: "property_type", Type: table.String},
		table.Column{Name: "address", Type: table.String},
		table.Column{Name: "query", Type: table.String},
		table.Column{Name: "best_score", Type: table.Float},
		table.Column{Name: "reason", Type: table.String},
	)

	unmatched := make(map[string]model.MatchResult, len(res.UnmatchedResults))
	for _, m := range res.UnmatchedResults {
		unmatched[m.TransactionID] = m
	}
	failed := make(map[string]error, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.TransactionID] = f.Err
	}

	for _, tx := range txs {
		if m, ok := unmatched[tx.ID]; ok {
			var best any
			if m.Query != "" {
				best = m.Score
			}
			t.Append(tx.ID, tx.Dataset, string(tx.PropertyType), table.NonEmpty(tx.Address),
				table.NonEmpty(m.Query), best, "unmatched")
			continue
		}
		if err, ok := failed[tx.ID]; ok {
			t.Append(tx.ID, tx.Dataset, string(tx.PropertyType), table.NonEmpty(tx.Address),
				nil, nil, "failed: "+err.Error())
		}
	}
	return t
}

// MatchReportTable breaks match outcomes down by dataset, with a final "all"
// row.
func MatchReportTable(txs []model.RawTransaction, res *geocode.Resolution) *table.Table {
	t := table.New(TableMatch,
		table.Column{Name: "dataset", Type: table.String},
		table.Column{Name: "total", Type: table.Int},
		table.Column{Name: "exact", Type: table.Int},
		table.Column{Name: "fuzzy", Type: table.Int},
		table.Column{Name: "unmatched", Type: table.Int},
		table.Column{Name: "failed", Type: table.Int},
		table.Column{Name: "match_rate", Type: table.Float},
	)

	dataset := make(map[string]string, len(txs))
	var order []string
	per := make(map[string]*geocode.Stats)
	for _, tx := range txs {
		dataset[tx.ID] = tx.Dataset
		s, ok := per[tx.Dataset]
		if !ok {
			s = &geocode.Stats{}
			per[tx.Dataset] = s
			order = append(order, tx.Dataset)
		}
		s.Total++
	}
	for _, m := range res.Matches {
		if s := per[dataset[m.TransactionID]]; s != nil {
			switch m.Type {
			case model.MatchExact:
				s.Exact++
			case model.MatchFuzzy:
				s.Fuzzy++
			}
		}
	}
	for _, m := range res.UnmatchedResults {
		if s := per[dataset[m.TransactionID]]; s != nil {
			s.Unmatched++
		}
	}
	for _, f := range res.Failed {
		if s := per[dataset[f.TransactionID]]; s != nil {
			s.Failed++
		}
	}

	appendStats := func(name string, s geocode.Stats) {
		t.Append(name, int64(s.Total), int64(s.Exact), int64(s.Fuzzy), int64(s.Unmatched), int64(s.Failed), s.MatchRate())
	}
	for _, name := range order {
		appendStats(name, *per[name])
	}
	appendStats("all", res.Stats)
	return t
}

// TierGroupsTable renders per-group tier statistics.
func TierGroupsTable(groups []temporal.GroupStat) *table.Table {
	t := table.New(TableTierGroups,
		table.Column{Name: "property_type", Type: table.String},
		table.Column{Name: "period", Type: table.String},
		table.Column{Name: "period_start", Type: table.Int},
		table.Column{Name: "count", Type: table.Int},
		table.Column{Name: "low_cut", Type: table.Float},
		table.Column{Name: "high_cut", Type: table.Float},
		table.Column{Name: "low", Type: table.Int},
		table.Column{Name: "mid", Type: table.Int},
		table.Column{Name: "high", Type: table.Int},
		table.Column{Name: "low_confidence", Type: table.Bool},
	)
	for _, g := range groups {
		t.Append(string(g.PropertyType), g.Period, int64(g.PeriodStart), int64(g.Count),
			g.LowCut, g.HighCut, int64(g.Low), int64(g.Mid), int64(g.High), g.LowConfidence)
	}
	return t
}

// CoverageTable renders per-column auxiliary coverage.
func CoverageTable(cov []merge.Coverage) *table.Table {
	t := table.New(TableCoverage,
		table.Column{Name: "table_name", Type: table.String},
		table.Column{Name: "column_name", Type: table.String},
		table.Column{Name: "non_null", Type: table.Int},
		table.Column{Name: "total", Type: table.Int},
		table.Column{Name: "percent", Type: table.Float},
	)
	for _, c := range cov {
		t.Append(c.Table, c.Column, int64(c.NonNull), int64(c.Total), c.Percent)
	}
	return t
}

func positive(f float64) any {
	if f > 0 {
		return f
	}
	return nil
}

func positiveInt(n int) any {
	if n > 0 {
		return int64(n)
	}
	return nil
}
