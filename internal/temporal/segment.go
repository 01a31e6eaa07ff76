// Package temporal buckets transactions into fixed-width periods and assigns
// price tiers relative to each (property type, period) group.
package temporal

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/model"
)

// Defaults for Config.
const (
	DefaultBucketWidth  = 5
	DefaultMinGroupSize = 10
)

// DefaultSplit is the 30/40/30 tier split.
var DefaultSplit = [2]float64{0.30, 0.70}

// Config controls segmentation.
type Config struct {
	BucketWidth  int
	Split        [2]float64
	MinGroupSize int
}

// DefaultConfig returns the 5-year, 30/40/30, minimum-10 configuration.
func DefaultConfig() Config {
	return Config{BucketWidth: DefaultBucketWidth, Split: DefaultSplit, MinGroupSize: DefaultMinGroupSize}
}

// Validate checks the bucket width, split ordering and minimum group size.
func (c Config) Validate() error {
	if c.BucketWidth < 1 {
		return eris.Errorf("temporal: bucket width %d must be at least 1", c.BucketWidth)
	}
	if !(c.Split[0] > 0 && c.Split[0] < c.Split[1] && c.Split[1] < 1) {
		return eris.Errorf("temporal: tier split %v must satisfy 0 < low < high < 1", c.Split)
	}
	if c.MinGroupSize < 1 {
		return eris.Errorf("temporal: min group size %d must be at least 1", c.MinGroupSize)
	}
	return nil
}

// PeriodLabel returns the bucket containing year, labelled
// "{start}-{start+width-1}". Buckets are aligned to multiples of width, so
// negative years round toward negative infinity.
func PeriodLabel(year, width int) (string, int) {
	start := floorDiv(year, width) * width
	return fmt.Sprintf("%d-%d", start, start+width-1), start
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Quantile returns the q-th quantile of sorted by linear interpolation between
// closest ranks. sorted must be ascending and non-empty.
func Quantile(sorted []float64, q float64) float64 {
	switch n := len(sorted); {
	case n == 0:
		return math.NaN()
	case n == 1 || q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	h := q * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// TierOf classifies price against a group's cutpoints: at or below low is
// low, above high is high, anything else is mid.
func TierOf(price, low, high float64) model.Tier {
	switch {
	case price <= low:
		return model.TierLow
	case price > high:
		return model.TierHigh
	default:
		return model.TierMid
	}
}

// GroupStat describes one (property type, period) group.
type GroupStat struct {
	PropertyType  model.PropertyType `json:"property_type"`
	Period        string             `json:"period"`
	PeriodStart   int                `json:"period_start"`
	Count         int                `json:"count"`
	LowCut        float64            `json:"low_cut"`
	HighCut       float64            `json:"high_cut"`
	Low           int                `json:"low"`
	Mid           int                `json:"mid"`
	High          int                `json:"high"`
	LowConfidence bool               `json:"low_confidence"`
}

// Segmenter assigns periods and tiers.
type Segmenter struct {
	cfg Config
	log *zap.Logger
}

// New validates cfg.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg, log: zap.L().With(zap.String("component", "temporal"))}, nil
}

// Config returns the segmenter configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

type groupKey struct {
	pt    model.PropertyType
	start int
}

// Segment sets records[i].Segment in place. Pass one collects each group's
// prices and computes its cutpoints; pass two tiers every record against its
// own group. Groups are returned ordered by property type, then period.
func (s *Segmenter) Segment(records []model.UnifiedRecord) []GroupStat {
	prices := make(map[groupKey][]float64)
	keys := make([]groupKey, len(records))
	for i := range records {
		tx := &records[i].Transaction
		label, start := PeriodLabel(tx.Date.Year(), s.cfg.BucketWidth)
		records[i].Segment = model.TemporalSegment{Period: label, PeriodStart: start}
		k := groupKey{pt: tx.PropertyType, start: start}
		keys[i] = k
		prices[k] = append(prices[k], tx.Price)
	}

	stats := make(map[groupKey]*GroupStat, len(prices))
	for k, ps := range prices {
		sort.Float64s(ps)
		label, _ := PeriodLabel(k.start, s.cfg.BucketWidth)
		stats[k] = &GroupStat{
			PropertyType:  k.pt,
			Period:        label,
			PeriodStart:   k.start,
			Count:         len(ps),
			LowCut:        Quantile(ps, s.cfg.Split[0]),
			HighCut:       Quantile(ps, s.cfg.Split[1]),
			LowConfidence: len(ps) < s.cfg.MinGroupSize,
		}
	}

	for i := range records {
		g := stats[keys[i]]
		tier := TierOf(records[i].Transaction.Price, g.LowCut, g.HighCut)
		records[i].Segment.Tier = tier
		switch tier {
		case model.TierLow:
			g.Low++
		case model.TierMid:
			g.Mid++
		default:
			g.High++
		}
	}

	out := make([]GroupStat, 0, len(stats))
	lowConf := 0
	for _, g := range stats {
		if g.LowConfidence {
			lowConf++
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].PropertyType != out[b].PropertyType {
			return out[a].PropertyType < out[b].PropertyType
		}
		return out[a].PeriodStart < out[b].PeriodStart
	})

	s.log.Info("segmented records",
		zap.Int("records", len(records)),
		zap.Int("groups", len(out)),
		zap.Int("low_confidence_groups", lowConf),
	)
	return out
}
