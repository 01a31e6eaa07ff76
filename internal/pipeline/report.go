package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/feature"
	"github.com/sells-group/geoenrich/internal/geocode"
	"github.com/sells-group/geoenrich/internal/ingest"
	"github.com/sells-group/geoenrich/internal/merge"
	"github.com/sells-group/geoenrich/internal/monitoring"
	"github.com/sells-group/geoenrich/internal/table"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Stage statuses.
const (
	StageComplete = "complete"
	StageFailed   = "failed"
	StageSkipped  = "skipped"
)

// Stage records one pipeline stage.
type Stage struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report is the run summary saved alongside the output tables.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`

	Inputs  []DatasetCount       `json:"inputs"`
	Invalid []ingest.ReasonCount `json:"invalid,omitempty"`

	Match     geocode.Stats `json:"match"`
	MatchRate float64       `json:"match_rate"`
	// Geocoded is the number of unified records written.
	Geocoded int `json:"geocoded"`
	// Dropped counts matched transactions whose location failed enrichment.
	Dropped int `json:"dropped,omitempty"`

	Sites            feature.Stats `json:"sites"`
	EmptyCategories  []string      `json:"empty_categories,omitempty"`
	IgnoredAmenities int           `json:"ignored_amenities,omitempty"`

	TierGroups          int `json:"tier_groups"`
	LowConfidenceGroups int `json:"low_confidence_groups"`

	Coverage []merge.Coverage   `json:"coverage,omitempty"`
	Alerts   []monitoring.Alert `json:"alerts,omitempty"`
	Stages   []Stage            `json:"stages"`
}

func (r *Report) finish(at time.Time, err error) {
	r.FinishedAt = at
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusComplete
}

// Snapshot summarizes the report for threshold checks.
func (r *Report) Snapshot() *monitoring.Snapshot {
	snap := &monitoring.Snapshot{
		RunID:        r.RunID,
		Failed:       r.Status == StatusFailed,
		Error:        r.Error,
		Valid:        r.Match.Total,
		MatchRate:    r.MatchRate,
		Sites:        r.Sites.Sites,
		Unassigned:   r.Sites.Unassigned,
		SiteFailures: r.Sites.Failed,
	}
	for _, c := range r.Coverage {
		snap.Coverage = append(snap.Coverage, monitoring.ColumnCoverage{Column: c.Column, Percent: c.Percent})
	}
	return snap
}

// TransactionRows returns the raw row count across transaction datasets.
func (r *Report) TransactionRows() int {
	n := 0
	for _, c := range r.Inputs {
		if c.Kind == KindTransactions {
			n += c.Rows
		}
	}
	return n
}

var reportColumns = []table.Column{
	{Name: "run_id", Type: table.String},
	{Name: "started_at", Type: table.Time},
	{Name: "finished_at", Type: table.Time},
	{Name: "status", Type: table.String},
	{Name: "report", Type: table.String},
}

// ReportTable renders the report as the single-row run_report table. The
// full report is kept as JSON in the report column.
func ReportTable(r *Report) *table.Table {
	t := table.New(TableRunReport, reportColumns...)
	data, err := json.Marshal(r)
	if err != nil {
		data = []byte("{}")
	}
	t.Append(r.RunID, r.StartedAt, r.FinishedAt, r.Status, string(data))
	return t
}

// ReportFromTable decodes the report saved by ReportTable.
func ReportFromTable(t *table.Table) (*Report, error) {
	i := t.Index("report")
	if i < 0 || t.Len() == 0 {
		return nil, eris.New("pipeline: run_report has no report row")
	}
	raw, ok := t.Rows[t.Len()-1][i].(string)
	if !ok {
		return nil, eris.New("pipeline: run_report row is not text")
	}
	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode run report")
	}
	return &r, nil
}

// FormatReport generates a human-readable run report.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Enrichment Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	}
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	b.WriteString("\n")

	b.WriteString("## Inputs\n")
	if len(r.Inputs) == 0 {
		b.WriteString("No datasets loaded.\n")
	}
	for _, c := range r.Inputs {
		fmt.Fprintf(&b, "- %s (%s): %d rows, %d valid, %d invalid\n", c.Dataset, c.Kind, c.Rows, c.Valid, c.Invalid)
	}
	b.WriteString("\n")

	if len(r.Invalid) > 0 {
		b.WriteString("## Invalid Rows\n")
		for _, rc := range r.Invalid {
			fmt.Fprintf(&b, "- %s %s: %s (%d)\n", rc.Dataset, rc.Field, rc.Reason, rc.Count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Geocoding\n")
	fmt.Fprintf(&b, "- Transaction rows: %d\n", r.TransactionRows())
	fmt.Fprintf(&b, "- Valid transactions: %d\n", r.Match.Total)
	fmt.Fprintf(&b, "- Exact: %d\n", r.Match.Exact)
	fmt.Fprintf(&b, "- Fuzzy: %d\n", r.Match.Fuzzy)
	fmt.Fprintf(&b, "- Unmatched: %d\n", r.Match.Unmatched)
	if r.Match.Failed > 0 {
		fmt.Fprintf(&b, "- Failed: %d\n", r.Match.Failed)
	}
	fmt.Fprintf(&b, "- Match rate: %.1f%%\n", r.MatchRate*100)
	fmt.Fprintf(&b, "- Geocoded rows: %d\n", r.Geocoded)
	if r.Dropped > 0 {
		fmt.Fprintf(&b, "- Dropped after matching: %d\n", r.Dropped)
	}
	b.WriteString("\n")

	b.WriteString("## Locations\n")
	fmt.Fprintf(&b, "- Unique locations: %d\n", r.Sites.Sites)
	fmt.Fprintf(&b, "- Assigned to an area: %d\n", r.Sites.Assigned)
	fmt.Fprintf(&b, "- Unassigned: %d\n", r.Sites.Unassigned)
	fmt.Fprintf(&b, "- Ambiguous: %d\n", r.Sites.Ambiguous)
	if r.Sites.Failed > 0 {
		fmt.Fprintf(&b, "- Failed: %d\n", r.Sites.Failed)
	}
	if len(r.EmptyCategories) > 0 {
		fmt.Fprintf(&b, "- Empty categories: %s\n", strings.Join(r.EmptyCategories, ", "))
	}
	b.WriteString("\n")

	b.WriteString("## Tiers\n")
	fmt.Fprintf(&b, "- Groups: %d (%d low-confidence)\n\n", r.TierGroups, r.LowConfidenceGroups)

	b.WriteString("## Auxiliary Coverage\n")
	if len(r.Coverage) == 0 {
		b.WriteString("No auxiliary columns.\n")
	}
	for _, c := range r.Coverage {
		fmt.Fprintf(&b, "- %s (%s): %d/%d (%.1f%%)\n", c.Column, c.Table, c.NonNull, c.Total, c.Percent)
	}
	b.WriteString("\n")

	if len(r.Alerts) > 0 {
		b.WriteString("## Alerts\n")
		for _, a := range r.Alerts {
			fmt.Fprintf(&b, "- [%s] %s\n", a.Severity, a.Message)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Stages\n")
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", s.Name, s.Status, s.DurationMs)
		if s.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", s.Error)
		}
	}

	return b.String()
}
