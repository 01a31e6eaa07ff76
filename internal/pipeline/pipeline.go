// Package pipeline runs one enrichment pass: load, resolve, assemble,
// segment, merge and persist.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/area"
	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/feature"
	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/geocode"
	"github.com/sells-group/geoenrich/internal/ingest"
	"github.com/sells-group/geoenrich/internal/merge"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/monitoring"
	"github.com/sells-group/geoenrich/internal/normalize"
	"github.com/sells-group/geoenrich/internal/spatial"
	"github.com/sells-group/geoenrich/internal/store"
	"github.com/sells-group/geoenrich/internal/table"
	"github.com/sells-group/geoenrich/internal/temporal"
)

// Pipeline wires the enrichment stages to a feed and a store.
type Pipeline struct {
	cfg   *config.Config
	feed  fetcher.Feed
	store store.DatasetStore
	log   *zap.Logger
	now   func() time.Time
}

// New returns a pipeline. cfg should already have passed Validate("run").
func New(cfg *config.Config, feed fetcher.Feed, st store.DatasetStore) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		feed:  feed,
		store: st,
		log:   zap.L().With(zap.String("component", "pipeline")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Result holds everything one run produced.
type Result struct {
	Report     *Report
	Records    []model.UnifiedRecord
	Properties []model.EnrichedProperty
	Resolution *geocode.Resolution
	Groups     []temporal.GroupStat
	Coverage   []merge.Coverage
}

// run carries stage outputs forward.
type run struct {
	txs        []model.RawTransaction
	refs       []model.GeocodedReference
	amenities  []model.AmenityPoint
	categories []model.Category
	normalizer *normalize.Normalizer
	locator    *area.Locator
	merger     *merge.Merger
	resolver   *geocode.Resolver
}

// Run executes every stage in order. The run report is saved even when a
// stage fails; the returned error is the first stage failure.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	rep := &Report{RunID: uuid.New().String(), StartedAt: p.now(), Status: StatusRunning}
	res := &Result{Report: rep}
	r := &run{}
	log := p.log.With(zap.String("run_id", rep.RunID))
	log.Info("pipeline: starting run")

	stages := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"load", func(ctx context.Context) error { return p.load(ctx, r, rep) }},
		{"merge_setup", func(ctx context.Context) error { return p.setupMerge(ctx, r) }},
		{"resolve", func(ctx context.Context) error { return p.resolve(ctx, r, res) }},
		{"assemble", func(ctx context.Context) error { return p.assemble(ctx, r, res) }},
		{"segment", func(ctx context.Context) error { return p.segment(res) }},
		{"merge", func(ctx context.Context) error { return p.merge(r, res) }},
		{"persist", func(ctx context.Context) error { return p.persist(ctx, r, res) }},
	}

	var runErr error
	for _, st := range stages {
		if runErr != nil {
			rep.Stages = append(rep.Stages, Stage{Name: st.name, Status: StageSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			rep.Stages = append(rep.Stages, Stage{Name: st.name, Status: StageSkipped})
			continue
		}

		start := time.Now()
		err := st.fn(ctx)
		stage := Stage{Name: st.name, Status: StageComplete, DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			stage.Status = StageFailed
			stage.Error = err.Error()
			runErr = eris.Wrapf(err, "pipeline: %s", st.name)
			log.Error("pipeline: stage failed",
				zap.String("stage", st.name),
				zap.Int64("duration_ms", stage.DurationMs),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", st.name),
				zap.Int64("duration_ms", stage.DurationMs),
			)
		}
		rep.Stages = append(rep.Stages, stage)
	}

	rep.finish(p.now(), runErr)
	p.alert(context.WithoutCancel(ctx), rep)
	if err := p.store.Save(context.WithoutCancel(ctx), ReportTable(rep)); err != nil {
		log.Error("pipeline: save run report", zap.Error(err))
		if runErr == nil {
			runErr = eris.Wrap(err, "pipeline: save run report")
		}
	}

	log.Info("pipeline: run finished",
		zap.String("status", rep.Status),
		zap.Int("records", rep.Geocoded),
		zap.Float64("match_rate", rep.MatchRate),
	)
	return res, runErr
}

// alert records threshold breaches on the report and forwards them to the
// webhook, if one is configured.
func (p *Pipeline) alert(ctx context.Context, rep *Report) {
	alerter := monitoring.NewAlerter(p.cfg.Monitoring)
	rep.Alerts = alerter.Evaluate(rep.Snapshot())
	for _, a := range rep.Alerts {
		p.log.Warn("pipeline: quality alert",
			zap.String("run_id", rep.RunID),
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	alerter.SendAlerts(ctx, rep.Alerts)
}

func (p *Pipeline) load(ctx context.Context, r *run, rep *Report) error {
	n, err := loadNormalizer(p.cfg.Normalize.RulesPath)
	if err != nil {
		return err
	}
	r.normalizer = n

	for _, c := range p.cfg.Features.Categories {
		r.categories = append(r.categories, ingest.NormalizeCategory(c))
	}

	in, err := loadInputs(ctx, p.feed, p.cfg.Feed, r.categories)
	if err != nil {
		return err
	}
	r.txs, r.refs, r.amenities = in.transactions, in.references, in.amenities
	rep.Inputs = in.counts
	rep.Invalid = in.invalid

	if p.cfg.Areas.Path == "" {
		p.log.Warn("pipeline: no areas.path configured; every location is unassigned")
		return nil
	}
	ordering, err := area.ParseOrdering(p.cfg.Areas.Order)
	if err != nil {
		return err
	}
	areas, err := area.Load(p.cfg.Areas.Path, p.cfg.Areas.NameField)
	if err != nil {
		return err
	}
	r.locator, err = area.NewLocator(areas, ordering)
	return err
}

func (p *Pipeline) setupMerge(ctx context.Context, r *run) error {
	sources := make([]merge.Source, 0, len(p.cfg.Auxiliary))
	for _, t := range p.cfg.Auxiliary {
		rows, err := p.feed.Fetch(ctx, t.Dataset)
		if err != nil {
			return eris.Wrapf(err, "fetch auxiliary %s", t.Dataset)
		}
		src := merge.Source{Table: t, Rows: make([]map[string]string, len(rows))}
		for i, row := range rows {
			src.Rows[i] = row
		}
		sources = append(sources, src)
	}
	m, err := merge.New(sources)
	if err != nil {
		return err
	}
	for _, col := range m.Outputs() {
		if reservedColumn(col.Name, r.categories, p.cfg.Features.Radii) {
			return eris.Errorf("merge: output column %q collides with a built-in column", col.Name)
		}
	}
	r.merger = m
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, r *run, res *Result) error {
	resolver, err := geocode.NewResolver(r.normalizer, r.refs,
		geocode.WithThreshold(p.cfg.Match.Threshold),
		geocode.WithWorkers(p.cfg.Pipeline.WorkerCount()),
	)
	if err != nil {
		return err
	}
	resolution, err := resolver.Resolve(ctx, r.txs)
	if err != nil {
		return err
	}
	r.resolver = resolver
	res.Resolution = resolution
	res.Report.Match = resolution.Stats
	res.Report.MatchRate = resolution.Stats.MatchRate()
	return nil
}

func (p *Pipeline) assemble(ctx context.Context, r *run, res *Result) error {
	locs := make([]geo.LatLon, len(r.refs))
	for i, ref := range r.refs {
		locs[i] = ref.Location
	}
	proj := geo.NewProjector(geo.Centroid(locs))

	catalog := spatial.BuildCatalog(proj, r.amenities, r.categories)
	for _, c := range catalog.EmptyCategories() {
		res.Report.EmptyCategories = append(res.Report.EmptyCategories, string(c))
	}
	res.Report.IgnoredAmenities = catalog.Ignored()

	asm, err := feature.NewAssembler(catalog, r.categories, p.cfg.Features.Radii, r.locator,
		feature.WithWorkers(p.cfg.Pipeline.WorkerCount()))
	if err != nil {
		return err
	}
	props, stats, err := asm.Assemble(ctx, feature.SitesFor(res.Resolution.Matches, r.resolver))
	if err != nil {
		return err
	}
	res.Properties = props
	res.Report.Sites = stats

	res.Records = join(r.txs, res.Resolution.Matches, props)
	res.Report.Geocoded = len(res.Records)
	res.Report.Dropped = res.Resolution.Stats.Matched() - len(res.Records)
	if res.Report.Dropped > 0 {
		p.log.Warn("pipeline: matched transactions without an enriched location", zap.Int("count", res.Report.Dropped))
	}
	return nil
}

func (p *Pipeline) segment(res *Result) error {
	seg, err := temporal.New(p.cfg.Temporal.Segmenter())
	if err != nil {
		return err
	}
	res.Groups = seg.Segment(res.Records)
	res.Report.TierGroups = len(res.Groups)
	for _, g := range res.Groups {
		if g.LowConfidence {
			res.Report.LowConfidenceGroups++
		}
	}
	return nil
}

func (p *Pipeline) merge(r *run, res *Result) error {
	res.Records, res.Coverage = r.merger.Merge(res.Records)
	res.Report.Coverage = res.Coverage
	return nil
}

func (p *Pipeline) persist(ctx context.Context, r *run, res *Result) error {
	radii := sortedRadii(p.cfg.Features.Radii)
	tables := []*table.Table{
		UnifiedTable(res.Records, r.categories, radii, r.merger.Outputs()),
		PropertiesTable(res.Properties, r.categories, radii),
		UnmatchedTable(r.txs, res.Resolution),
		MatchReportTable(r.txs, res.Resolution),
		TierGroupsTable(res.Groups),
		CoverageTable(res.Coverage),
	}
	for _, t := range tables {
		if err := p.store.Save(ctx, t); err != nil {
			return eris.Wrapf(err, "save %s", t.Name)
		}
		p.log.Info("pipeline: saved table", zap.String("table", t.Name), zap.Int("rows", t.Len()))
	}
	return nil
}

// join builds one record per matched transaction that has an enriched
// location, in transaction order.
func join(txs []model.RawTransaction, matches []model.MatchResult, props []model.EnrichedProperty) []model.UnifiedRecord {
	byRef := make(map[string]*model.EnrichedProperty, len(props))
	for i := range props {
		byRef[props[i].ReferenceID] = &props[i]
	}
	byTx := make(map[string]model.MatchResult, len(matches))
	for _, m := range matches {
		byTx[m.TransactionID] = m
	}

	out := make([]model.UnifiedRecord, 0, len(matches))
	for _, tx := range txs {
		m, ok := byTx[tx.ID]
		if !ok || !m.IsMatched() {
			continue
		}
		prop, ok := byRef[m.ReferenceID]
		if !ok {
			continue
		}
		out = append(out, model.UnifiedRecord{Transaction: tx, Match: m, Property: prop})
	}
	return out
}
