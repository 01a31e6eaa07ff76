package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/merge"
)

const (
	testHDB = `month,block,street_name,resale_price,floor_area_sqm,lease_commence_date,town
2017-01,10,Ang Mo Kio Ave 4,450000,92,1978,ANG MO KIO
2017-02,10,Ang Mo Kio Ave 4,480000,92,1978,ANG MO KIO
2018-03,12,Jurong West Stret 52,350000,67,1985,JURONG WEST
2019-05,999,Nowhere Lane,300000,70,1990,NOWHERE
2019-06,1,X,not-a-price,,,
`
	testPrivate = `[
  {"project_name": "The Sail", "street": "Marina Blvd", "price": "1,250,000", "contract_date": "2017-03", "area_sqm": 100}
]`
	testReferences = `id,address,latitude,longitude
r1,10 Ang Mo Kio Avenue 4,1.3700,103.8400
r2,12 Jurong West Street 52,1.3500,103.7200
r3,THE SAIL MARINA BOULEVARD,1.2800,103.8520
`
	testAmenities = `id,name,category,lat,lon
h1,AMK Hawker,Hawker Centre,1.3710,103.8400
h2,Far Hawker,hawker_centre,1.3000,103.9000
m1,AMK MRT,mrt_station,1.3700,103.8520
x1,Mystery,casino,1.3000,103.8000
`
	testYield = `planning_area,quarter,gross_yield
Ang Mo Kio,2017-Q1,3.1
ang mo kio,2018-Q1,3.4
DOWNTOWN CORE,2017-Q1,2.5
`
	testAreas = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"PLN_AREA_N": "ANG MO KIO"}, "geometry": {"type": "Polygon", "coordinates": [
      [[103.83, 1.36], [103.85, 1.36], [103.85, 1.38], [103.83, 1.38], [103.83, 1.36]]
    ]}},
    {"type": "Feature", "properties": {"PLN_AREA_N": "DOWNTOWN CORE"}, "geometry": {"type": "Polygon", "coordinates": [
      [[103.84, 1.27], [103.86, 1.27], [103.86, 1.29], [103.84, 1.29], [103.84, 1.27]]
    ]}}
  ]
}`
)

// writeFixtures lays out a feed directory and returns it with a config
// pointing at it.
func writeFixtures(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"hdb_resale.csv":            testHDB,
		"private_transactions.json": testPrivate,
		"geocoded_references.csv":   testReferences,
		"amenities.csv":             testAmenities,
		"rental_yield.csv":          testYield,
		"areas.geojson":             testAreas,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	cfg := &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Feed: config.FeedConfig{
			Dir: dir,
			Transactions: []config.TransactionFeed{
				{Dataset: "hdb_resale", PropertyType: "residential-public"},
				{Dataset: "private_transactions", PropertyType: "residential-private"},
			},
			References: "geocoded_references",
			Amenities:  "amenities",
		},
		Areas:    config.AreasConfig{Path: filepath.Join(dir, "areas.geojson"), NameField: "PLN_AREA_N", Order: "source"},
		Match:    config.MatchConfig{Threshold: 0.85},
		Features: config.FeaturesConfig{Radii: []float64{2000, 500, 1000}, Categories: []string{"hawker_centre", "mrt_station", "park"}},
		Temporal: config.TemporalConfig{BucketWidth: 5, TierSplit: []float64{0.3, 0.7}, MinGroupSize: 10},
		Pipeline: config.PipelineConfig{Workers: 2},
		Auxiliary: []merge.AuxTable{{
			Dataset:     "rental_yield",
			JoinKeys:    []merge.KeyPair{{Base: "area", Aux: "planning_area"}},
			DateColumn:  "quarter",
			Format:      merge.FormatQuarter,
			Granularity: merge.Quarter,
			Values:      []merge.ValueColumn{{Name: "gross_yield", Type: merge.TypeFloat}},
		}},
	}
	require.NoError(t, cfg.Validate("run"))
	return dir, cfg
}
