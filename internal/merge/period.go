package merge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Format is the representation of an auxiliary table's date column.
type Format string

// Supported date column formats.
const (
	FormatDate    Format = "date"    // 2017-01-05, 2017/01/05, 05/01/2017
	FormatMonth   Format = "month"   // 2017-01, 2017/01, Jan 2017, 201701
	FormatQuarter Format = "quarter" // 2017-Q1, 2017Q1, Q1 2017
	FormatYear    Format = "year"    // 2017
)

// Granularity is the resolution at which rows are joined.
type Granularity string

// Join granularities, finest first.
const (
	Day     Granularity = "day"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

var granularityRank = map[Granularity]int{Day: 0, Month: 1, Quarter: 2, Year: 3}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	_, ok := granularityRank[g]
	return ok
}

// Native returns the finest granularity a format can express.
func (f Format) Native() (Granularity, bool) {
	switch f {
	case FormatDate:
		return Day, true
	case FormatMonth:
		return Month, true
	case FormatQuarter:
		return Quarter, true
	case FormatYear:
		return Year, true
	}
	return "", false
}

// CanJoinAt reports whether values in format f can be normalized to g. A
// format can only be coarsened, never refined.
func (f Format) CanJoinAt(g Granularity) bool {
	native, ok := f.Native()
	if !ok || !g.Valid() {
		return false
	}
	return granularityRank[native] <= granularityRank[g]
}

// Period is a calendar interval identified by its granularity and first day.
// It is the single comparable representation every date column is reduced to
// before joining.
type Period struct {
	Granularity Granularity
	Start       time.Time
}

// PeriodOf returns the period of granularity g containing t.
func PeriodOf(t time.Time, g Granularity) Period {
	y, m, d := t.Date()
	var start time.Time
	switch g {
	case Day:
		start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case Month:
		start = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case Quarter:
		start = time.Date(y, time.Month((int(m)-1)/3*3+1), 1, 0, 0, 0, 0, time.UTC)
	default:
		g = Year
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return Period{Granularity: g, Start: start}
}

// Key renders the period canonically: 2017-01-05, 2017-01, 2017-Q1 or 2017.
func (p Period) Key() string {
	switch p.Granularity {
	case Day:
		return p.Start.Format("2006-01-02")
	case Month:
		return p.Start.Format("2006-01")
	case Quarter:
		return fmt.Sprintf("%04d-Q%d", p.Start.Year(), (int(p.Start.Month())-1)/3+1)
	default:
		return fmt.Sprintf("%04d", p.Start.Year())
	}
}

func (p Period) String() string {
	return p.Key()
}

// Coarsen converts p to a granularity at least as coarse as its own.
func (p Period) Coarsen(g Granularity) (Period, error) {
	if !g.Valid() {
		return Period{}, eris.Errorf("merge: unknown granularity %q", g)
	}
	if granularityRank[g] < granularityRank[p.Granularity] {
		return Period{}, eris.Errorf("merge: cannot refine %s period %s to %s", p.Granularity, p.Key(), g)
	}
	return PeriodOf(p.Start, g), nil
}

var (
	dateLayouts  = []string{"2006-01-02", "2006/01/02", "02/01/2006", time.RFC3339}
	monthLayouts = []string{"2006-01", "2006/01", "Jan 2006", "January 2006", "200601"}

	quarterYearFirst = regexp.MustCompile(`(?i)^(\d{4})\s*[-/ ]?\s*Q([1-4])$`)
	quarterFirst     = regexp.MustCompile(`(?i)^Q([1-4])\s*[-/ ]?\s*(\d{4})$`)
	yearOnly         = regexp.MustCompile(`^\d{4}$`)
)

// ParsePeriod parses value in format f into a period of the format's native
// granularity.
func ParsePeriod(value string, f Format) (Period, error) {
	v := strings.TrimSpace(value)
	switch f {
	case FormatDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return PeriodOf(t, Day), nil
			}
		}
	case FormatMonth:
		for _, layout := range monthLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return PeriodOf(t, Month), nil
			}
		}
	case FormatQuarter:
		var ys, qs string
		if m := quarterYearFirst.FindStringSubmatch(v); m != nil {
			ys, qs = m[1], m[2]
		} else if m := quarterFirst.FindStringSubmatch(v); m != nil {
			qs, ys = m[1], m[2]
		}
		if ys != "" {
			y, _ := strconv.Atoi(ys)
			q, _ := strconv.Atoi(qs)
			return Period{Granularity: Quarter, Start: time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)}, nil
		}
	case FormatYear:
		if yearOnly.MatchString(v) {
			y, _ := strconv.Atoi(v)
			return PeriodOf(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), Year), nil
		}
	default:
		return Period{}, eris.Errorf("merge: unknown date format %q", f)
	}
	return Period{}, eris.Errorf("merge: %q is not a valid %s value", value, f)
}
