// Package feature computes per-location proximity features and
// administrative-area membership.
package feature

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/area"
	"github.com/sells-group/geoenrich/internal/batch"
	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/spatial"
)

// DefaultRadii are the count radii in meters.
var DefaultRadii = []float64{500, 1000, 2000}

// Site is one unique geocoded location awaiting enrichment.
type Site struct {
	ReferenceID string
	Location    geo.LatLon
}

// ReferenceLookup resolves reference ids to coordinates.
type ReferenceLookup interface {
	Reference(id string) (model.GeocodedReference, bool)
}

// SitesFor returns one Site per distinct matched reference, in first-match
// order. Unmatched results and unknown references are skipped.
func SitesFor(matches []model.MatchResult, refs ReferenceLookup) []Site {
	seen := make(map[string]bool, len(matches))
	var sites []Site
	for _, m := range matches {
		if !m.IsMatched() || seen[m.ReferenceID] {
			continue
		}
		ref, ok := refs.Reference(m.ReferenceID)
		if !ok {
			continue
		}
		seen[m.ReferenceID] = true
		sites = append(sites, Site{ReferenceID: ref.ID, Location: ref.Location})
	}
	return sites
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithWorkers sets the worker count; zero means one per CPU.
func WithWorkers(n int) Option {
	return func(a *Assembler) { a.workers = n }
}

// Assembler computes EnrichedProperty rows. It only reads its indexes and
// locator, so one Assembler is shared by all workers.
type Assembler struct {
	catalog    *spatial.Catalog
	categories []model.Category
	radii      []float64
	locator    *area.Locator
	workers    int
	log        *zap.Logger
}

// NewAssembler validates the configuration. Radii are sorted ascending and
// must be positive and distinct. A nil locator leaves every site unassigned.
func NewAssembler(catalog *spatial.Catalog, categories []model.Category, radii []float64, locator *area.Locator, opts ...Option) (*Assembler, error) {
	if catalog == nil {
		return nil, eris.New("feature: amenity catalog is required")
	}
	if len(categories) == 0 {
		return nil, eris.New("feature: at least one category is required")
	}
	for _, c := range categories {
		if catalog.Index(c) == nil {
			return nil, eris.Errorf("feature: category %q has no index", c)
		}
	}

	sorted := append([]float64(nil), radii...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return nil, eris.New("feature: at least one radius is required")
	}
	for i, r := range sorted {
		if r <= 0 {
			return nil, eris.Errorf("feature: radius %v must be positive", r)
		}
		if i > 0 && r == sorted[i-1] {
			return nil, eris.Errorf("feature: duplicate radius %v", r)
		}
	}

	a := &Assembler{
		catalog:    catalog,
		categories: append([]model.Category(nil), categories...),
		radii:      sorted,
		locator:    locator,
		log:        zap.L().With(zap.String("component", "feature")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Radii returns the sorted count radii.
func (a *Assembler) Radii() []float64 {
	return a.radii
}

// Stats summarizes one Assemble call.
type Stats struct {
	Sites      int `json:"sites"`
	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
	Ambiguous  int `json:"ambiguous"`
	Failed     int `json:"failed"`
}

// Enrich computes the features and area of one site.
func (a *Assembler) Enrich(s Site) (model.EnrichedProperty, area.Assignment, error) {
	if !s.Location.Valid() {
		return model.EnrichedProperty{}, area.Assignment{}, eris.Errorf("feature: site %s has invalid location %s", s.ReferenceID, s.Location)
	}

	p := model.EnrichedProperty{
		ReferenceID: s.ReferenceID,
		Location:    s.Location,
		Features:    make([]model.CategoryFeature, 0, len(a.categories)),
	}
	for _, c := range a.categories {
		ix := a.catalog.Index(c)
		f := model.CategoryFeature{Category: c, Counts: make([]model.RadiusCount, len(a.radii))}
		for i, n := range ix.CountsWithin(s.Location, a.radii) {
			f.Counts[i] = model.RadiusCount{Radius: a.radii[i], Count: n}
		}
		if d, ok := ix.NearestDistance(s.Location); ok {
			f.Nearest = &d
		}
		p.Features = append(p.Features, f)
	}

	var asg area.Assignment
	if a.locator != nil {
		asg = a.locator.Locate(s.Location)
		p.Area = asg.Area
	}
	return p, asg, nil
}

// Assemble enriches every site. Output follows input order with failed sites
// left out. Only cancellation returns an error.
func (a *Assembler) Assemble(ctx context.Context, sites []Site) ([]model.EnrichedProperty, Stats, error) {
	props := make([]model.EnrichedProperty, len(sites))
	assignments := make([]area.Assignment, len(sites))

	failures, err := batch.Run(ctx, len(sites), a.workers, func(i int) error {
		p, asg, err := a.Enrich(sites[i])
		if err != nil {
			return err
		}
		props[i], assignments[i] = p, asg
		return nil
	})
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Sites: len(sites), Failed: len(failures)}
	failed := make(map[int]bool, len(failures))
	for _, f := range failures {
		failed[f.Index] = true
		a.log.Warn("site enrichment failed",
			zap.String("reference_id", sites[f.Index].ReferenceID),
			zap.Error(f.Err),
		)
	}

	out := make([]model.EnrichedProperty, 0, len(sites)-len(failures))
	for i := range sites {
		if failed[i] {
			continue
		}
		asg := assignments[i]
		if asg.Assigned() {
			stats.Assigned++
		} else {
			stats.Unassigned++
		}
		if amb := asg.Ambiguity(sites[i].Location); amb != nil {
			stats.Ambiguous++
			a.log.Warn("ambiguous area assignment",
				zap.String("reference_id", sites[i].ReferenceID),
				zap.String("chosen", amb.Chosen),
				zap.Strings("candidates", amb.Candidates),
			)
		}
		out = append(out, props[i])
	}

	a.log.Info("assembled features",
		zap.Int("sites", stats.Sites),
		zap.Int("assigned", stats.Assigned),
		zap.Int("unassigned", stats.Unassigned),
		zap.Int("ambiguous", stats.Ambiguous),
		zap.Int("failed", stats.Failed),
	)
	return out, stats, nil
}
