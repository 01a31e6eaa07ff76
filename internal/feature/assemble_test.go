package feature

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geoenrich/internal/area"
	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/spatial"
)

var (
	origin = geo.LatLon{Lat: 1.3521, Lon: 103.8198}
	home   = geo.LatLon{Lat: 1.3000, Lon: 103.8000}
)

func north(p geo.LatLon, d float64) geo.LatLon {
	return geo.LatLon{Lat: p.Lat + geo.Degrees(d/geo.EarthRadiusM), Lon: p.Lon}
}

func square(name string, order int, lon0, lat0, lon1, lat1 float64) model.AdministrativeArea {
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{{
		{lon0, lat0}, {lon1, lat0}, {lon1, lat1}, {lon0, lat1}, {lon0, lat0},
	}}})
	return model.AdministrativeArea{Name: name, Order: order, Geometry: mp}
}

func newAssembler(t *testing.T, opts ...Option) *Assembler {
	t.Helper()
	amenities := []model.AmenityPoint{
		{ID: "h1", Category: "hawker_centre", Location: north(home, 300)},
		{ID: "h2", Category: "hawker_centre", Location: north(home, 600)},
		{ID: "h3", Category: "hawker_centre", Location: north(home, 1500)},
		{ID: "m1", Category: "mrt_station", Location: north(home, 2500)},
	}
	cats := []model.Category{"hawker_centre", "mrt_station", "park"}
	catalog := spatial.BuildCatalog(geo.NewProjector(origin), amenities, cats)

	locator, err := area.NewLocator([]model.AdministrativeArea{
		square("BUKIT MERAH", 0, 103.79, 1.29, 103.81, 1.31),
		square("QUEENSTOWN", 1, 103.795, 1.28, 103.85, 1.305),
	}, area.OrderSource)
	require.NoError(t, err)

	a, err := NewAssembler(catalog, cats, []float64{2000, 500, 1000}, locator, opts...)
	require.NoError(t, err)
	return a
}

func TestEnrich_HawkerRadii(t *testing.T) {
	t.Parallel()
	a := newAssembler(t)
	assert.Equal(t, []float64{500, 1000, 2000}, a.Radii())

	p, asg, err := a.Enrich(Site{ReferenceID: "r1", Location: home})
	require.NoError(t, err)

	hawker, ok := p.Feature("hawker_centre")
	require.True(t, ok)
	require.NotNil(t, hawker.Nearest)
	assert.InDelta(t, 300, *hawker.Nearest, 1e-6)
	assert.Equal(t, []model.RadiusCount{{Radius: 500, Count: 1}, {Radius: 1000, Count: 2}, {Radius: 2000, Count: 3}}, hawker.Counts)

	mrt, _ := p.Feature("mrt_station")
	require.NotNil(t, mrt.Nearest)
	assert.InDelta(t, 2500, *mrt.Nearest, 1e-6)
	assert.Equal(t, 0, mrt.Counts[2].Count)

	assert.Equal(t, "BUKIT MERAH", p.Area)
	assert.Equal(t, []string{"BUKIT MERAH", "QUEENSTOWN"}, asg.Candidates)
}

func TestEnrich_EmptyCategoryHasNullNearestAndZeroCounts(t *testing.T) {
	t.Parallel()
	p, _, err := newAssembler(t).Enrich(Site{ReferenceID: "r1", Location: home})
	require.NoError(t, err)

	park, ok := p.Feature("park")
	require.True(t, ok)
	assert.Nil(t, park.Nearest)
	for _, c := range park.Counts {
		assert.Equal(t, 0, c.Count)
	}
}

func TestEnrich_InvalidLocation(t *testing.T) {
	t.Parallel()
	_, _, err := newAssembler(t).Enrich(Site{ReferenceID: "bad", Location: geo.LatLon{Lat: math.NaN(), Lon: 0}})
	assert.Error(t, err)
}

func TestAssemble(t *testing.T) {
	t.Parallel()
	sites := []Site{
		{ReferenceID: "overlap", Location: home},
		{ReferenceID: "bad", Location: geo.LatLon{Lat: 91, Lon: 0}},
		{ReferenceID: "queenstown", Location: geo.LatLon{Lat: 1.285, Lon: 103.83}},
		{ReferenceID: "sea", Location: geo.LatLon{Lat: 1.20, Lon: 103.70}},
	}

	props, stats, err := newAssembler(t, WithWorkers(2)).Assemble(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, Stats{Sites: 4, Assigned: 2, Unassigned: 1, Ambiguous: 1, Failed: 1}, stats)

	require.Len(t, props, 3)
	assert.Equal(t, "overlap", props[0].ReferenceID)
	assert.Equal(t, "QUEENSTOWN", props[1].Area)
	assert.Equal(t, "", props[2].Area)
}

func TestAssemble_CountsAreMonotonic(t *testing.T) {
	t.Parallel()
	a := newAssembler(t)
	var sites []Site
	for i := range 50 {
		sites = append(sites, Site{ReferenceID: "s", Location: north(home, float64(i)*80)})
	}
	props, _, err := a.Assemble(context.Background(), sites)
	require.NoError(t, err)
	for _, p := range props {
		for _, f := range p.Features {
			for i := 1; i < len(f.Counts); i++ {
				assert.GreaterOrEqual(t, f.Counts[i].Count, f.Counts[i-1].Count)
			}
		}
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	t.Parallel()
	var sites []Site
	for i := range 200 {
		sites = append(sites, Site{ReferenceID: string(rune('a' + i%26)), Location: north(home, float64(i)*17)})
	}
	one, _, err := newAssembler(t, WithWorkers(1)).Assemble(context.Background(), sites)
	require.NoError(t, err)
	many, _, err := newAssembler(t, WithWorkers(8)).Assemble(context.Background(), sites)
	require.NoError(t, err)
	assert.Equal(t, one, many)
}

func TestAssemble_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newAssembler(t).Assemble(ctx, []Site{{ReferenceID: "r", Location: home}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAssembler_Validation(t *testing.T) {
	t.Parallel()
	cats := []model.Category{"hawker_centre"}
	catalog := spatial.BuildCatalog(geo.NewProjector(origin), nil, cats)

	tests := []struct {
		name    string
		catalog *spatial.Catalog
		cats    []model.Category
		radii   []float64
	}{
		{"nil catalog", nil, cats, DefaultRadii},
		{"no categories", catalog, nil, DefaultRadii},
		{"unknown category", catalog, []model.Category{"cinema"}, DefaultRadii},
		{"no radii", catalog, cats, nil},
		{"zero radius", catalog, cats, []float64{0, 500}},
		{"duplicate radius", catalog, cats, []float64{500, 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewAssembler(tt.catalog, tt.cats, tt.radii, nil)
			assert.Error(t, err)
		})
	}

	a, err := NewAssembler(catalog, cats, DefaultRadii, nil)
	require.NoError(t, err)
	p, asg, err := a.Enrich(Site{ReferenceID: "r", Location: home})
	require.NoError(t, err)
	assert.False(t, asg.Assigned())
	assert.Equal(t, "", p.Area)
}

type refMap map[string]model.GeocodedReference

func (m refMap) Reference(id string) (model.GeocodedReference, bool) {
	r, ok := m[id]
	return r, ok
}

func TestSitesFor(t *testing.T) {
	t.Parallel()
	refs := refMap{
		"r1": {ID: "r1", Location: home},
		"r2": {ID: "r2", Location: origin},
	}
	matches := []model.MatchResult{
		{TransactionID: "t1", ReferenceID: "r2", Type: model.MatchExact, Score: 1},
		{TransactionID: "t2", ReferenceID: "r1", Type: model.MatchFuzzy, Score: 0.9},
		{TransactionID: "t3", ReferenceID: "r2", Type: model.MatchFuzzy, Score: 0.88},
		{TransactionID: "t4", Type: model.MatchUnmatched},
		{TransactionID: "t5", ReferenceID: "gone", Type: model.MatchExact, Score: 1},
	}
	assert.Equal(t, []Site{{ReferenceID: "r2", Location: origin}, {ReferenceID: "r1", Location: home}}, SitesFor(matches, refs))
}
