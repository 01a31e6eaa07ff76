package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01",
	"2006/01/02",
	"02/01/2006",
	"Jan 2006",
	time.RFC3339,
}

// ParseDate accepts the date shapes seen in the transaction feeds. Month-only
// values resolve to the first of the month.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unparseable date %q", s)
}

// ParsePrice strips currency symbols and thousands separators. The price must
// be finite and positive.
func ParsePrice(s string) (float64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "S$")
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, eris.Errorf("ingest: empty price %q", s)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: parse price %q", s)
	}
	if !(f > 0) || math.IsInf(f, 1) {
		return 0, eris.Errorf("ingest: price %q must be positive", s)
	}
	return f, nil
}

// parseNumber parses an optional non-negative number. Empty means zero.
func parseNumber(s string) (float64, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: parse number %q", s)
	}
	if f < 0 {
		return 0, eris.Errorf("ingest: number %q must not be negative", s)
	}
	return f, nil
}

func parseCoord(s string) (float64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, eris.New("ingest: missing coordinate")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: parse coordinate %q", s)
	}
	return f, nil
}
