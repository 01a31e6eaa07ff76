package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/geocode"
	"github.com/sells-group/geoenrich/internal/ingest"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/normalize"
)

// Dataset kinds in the report.
const (
	KindTransactions = "transactions"
	KindReferences   = "references"
	KindAmenities    = "amenities"
)

// DatasetCount records how many rows a dataset supplied and how many
// survived validation.
type DatasetCount struct {
	Dataset string `json:"dataset"`
	Kind    string `json:"kind"`
	Rows    int    `json:"rows"`
	Valid   int    `json:"valid"`
	Invalid int    `json:"invalid"`
}

type inputs struct {
	transactions []model.RawTransaction
	references   []model.GeocodedReference
	amenities    []model.AmenityPoint
	counts       []DatasetCount
	invalid      []ingest.ReasonCount
}

func loadNormalizer(rulesPath string) (*normalize.Normalizer, error) {
	if rulesPath == "" {
		return normalize.Default(), nil
	}
	rules, err := normalize.LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	return normalize.New(rules)
}

// LoadResolver builds a resolver over the configured reference dataset
// without loading anything else.
func LoadResolver(ctx context.Context, cfg *config.Config, feed fetcher.Feed) (*geocode.Resolver, error) {
	n, err := loadNormalizer(cfg.Normalize.RulesPath)
	if err != nil {
		return nil, err
	}
	rows, err := feed.Fetch(ctx, cfg.Feed.References)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch references %s", cfg.Feed.References)
	}
	refs, _ := ingest.References(cfg.Feed.References, rows)
	return geocode.NewResolver(n, refs,
		geocode.WithThreshold(cfg.Match.Threshold),
		geocode.WithWorkers(cfg.Pipeline.WorkerCount()),
	)
}

// loadInputs fetches and validates every transaction, reference and amenity
// dataset. A dataset that cannot be fetched fails the load; invalid rows are
// skipped and summarized.
func loadInputs(ctx context.Context, feed fetcher.Feed, cfg config.FeedConfig, categories []model.Category) (*inputs, error) {
	in := &inputs{}
	var rejected []*ingest.ValidationError

	for _, tf := range cfg.Transactions {
		pt, err := model.ParsePropertyType(tf.PropertyType)
		if err != nil {
			return nil, eris.Wrapf(err, "transactions %s", tf.Dataset)
		}
		rows, err := feed.Fetch(ctx, tf.Dataset)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch transactions %s", tf.Dataset)
		}
		txs, errs := ingest.Transactions(tf.Dataset, pt, rows)
		in.transactions = append(in.transactions, txs...)
		rejected = append(rejected, errs...)
		in.counts = append(in.counts, DatasetCount{Dataset: tf.Dataset, Kind: KindTransactions, Rows: len(rows), Valid: len(txs), Invalid: len(errs)})
	}

	rows, err := feed.Fetch(ctx, cfg.References)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch references %s", cfg.References)
	}
	refs, errs := ingest.References(cfg.References, rows)
	in.references = refs
	rejected = append(rejected, errs...)
	in.counts = append(in.counts, DatasetCount{Dataset: cfg.References, Kind: KindReferences, Rows: len(rows), Valid: len(refs), Invalid: len(errs)})

	rows, err = feed.Fetch(ctx, cfg.Amenities)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch amenities %s", cfg.Amenities)
	}
	amenities, errs := ingest.Amenities(cfg.Amenities, rows, categories)
	in.amenities = amenities
	rejected = append(rejected, errs...)
	in.counts = append(in.counts, DatasetCount{Dataset: cfg.Amenities, Kind: KindAmenities, Rows: len(rows), Valid: len(amenities), Invalid: len(errs)})

	in.invalid = ingest.Summary(rejected)
	return in, nil
}
