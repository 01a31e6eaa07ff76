// Package geocode links un-geocoded transactions to a small authoritative
// reference set, first by exact normalized key and then by fuzzy match.
package geocode

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/batch"
	"github.com/sells-group/geoenrich/internal/fuzzy"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/normalize"
)

// DefaultThreshold is the minimum fuzzy score accepted as a match.
const DefaultThreshold = 0.85

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold sets the fuzzy acceptance threshold in (0, 1].
func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// WithWorkers sets the worker count; zero means one per CPU.
func WithWorkers(n int) Option {
	return func(r *Resolver) { r.workers = n }
}

// Resolver matches transactions against a reference set. It is built once and
// read-only afterwards.
type Resolver struct {
	norm      *normalize.Normalizer
	refs      []model.GeocodedReference
	keys      []string // unique normalized reference keys, in reference order
	keyRef    []int    // keys[i] belongs to refs[keyRef[i]]
	exact     map[string]int
	byID      map[string]int
	matcher   *fuzzy.Matcher
	threshold float64
	workers   int
	log       *zap.Logger
}

// NewResolver normalizes and indexes the references. When two references
// normalize to the same key, the first one wins.
func NewResolver(n *normalize.Normalizer, refs []model.GeocodedReference, opts ...Option) (*Resolver, error) {
	if n == nil {
		return nil, eris.New("geocode: normalizer is required")
	}
	r := &Resolver{
		norm:      n,
		refs:      refs,
		exact:     make(map[string]int, len(refs)),
		byID:      make(map[string]int, len(refs)),
		threshold: DefaultThreshold,
		log:       zap.L().With(zap.String("component", "geocode")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.threshold <= 0 || r.threshold > 1 {
		return nil, eris.Errorf("geocode: threshold %v outside (0, 1]", r.threshold)
	}

	dups := 0
	for i, ref := range refs {
		if _, ok := r.byID[ref.ID]; !ok {
			r.byID[ref.ID] = i
		}
		key := n.Normalize(ref.Address)
		if key == "" {
			continue
		}
		if _, ok := r.exact[key]; ok {
			dups++
			continue
		}
		r.exact[key] = len(r.keys)
		r.keys = append(r.keys, key)
		r.keyRef = append(r.keyRef, i)
	}
	if dups > 0 {
		r.log.Debug("duplicate reference keys ignored", zap.Int("count", dups))
	}
	r.matcher = fuzzy.NewMatcher(r.keys)
	return r, nil
}

// Threshold returns the configured acceptance threshold.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Reference returns the reference with the given id.
func (r *Resolver) Reference(id string) (model.GeocodedReference, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.GeocodedReference{}, false
	}
	return r.refs[i], true
}

// JoinKey builds the single normalized match key for a transaction. Public
// housing joins on block and street, private and executive housing on project
// and street. When those parts are missing the raw address is used.
func (r *Resolver) JoinKey(tx model.RawTransaction) string {
	switch tx.PropertyType {
	case model.ResidentialPublic:
		if tx.Block != "" && tx.Street != "" {
			return r.norm.Key(tx.Block, tx.Street)
		}
	case model.ResidentialPrivate, model.ResidentialExecutive:
		if tx.Project != "" && tx.Street != "" {
			return r.norm.Key(tx.Project, tx.Street)
		}
	}
	return r.norm.Normalize(tx.Address)
}

// Match resolves one normalized key.
func (r *Resolver) Match(key string) model.MatchResult {
	res := model.MatchResult{Query: key, Type: model.MatchUnmatched}
	if key == "" {
		return res
	}
	if k, ok := r.exact[key]; ok {
		res.Type = model.MatchExact
		res.Score = 1.0
		res.ReferenceID = r.refs[r.keyRef[k]].ID
		res.Matched = key
		return res
	}

	idx, score, ok := r.matcher.BestMatch(key, r.threshold)
	res.Score = score
	if !ok {
		return res
	}
	res.Type = model.MatchFuzzy
	res.ReferenceID = r.refs[r.keyRef[idx]].ID
	res.Matched = r.keys[idx]
	return res
}

// Resolution is the outcome of resolving a transaction set.
type Resolution struct {
	// Matches holds exact and fuzzy results in input order.
	Matches []model.MatchResult
	// Unmatched holds transactions with no acceptable reference.
	Unmatched []model.RawTransaction
	// UnmatchedResults parallels Unmatched with the best rejected score.
	UnmatchedResults []model.MatchResult
	// Failed holds transactions whose resolution errored or panicked.
	Failed []ItemFailure
	Stats  Stats
}

// ItemFailure is a transaction that could not be resolved.
type ItemFailure struct {
	TransactionID string
	Err           error
}

// Stats summarizes a Resolution.
type Stats struct {
	Total     int `json:"total"`
	Exact     int `json:"exact"`
	Fuzzy     int `json:"fuzzy"`
	Unmatched int `json:"unmatched"`
	Failed    int `json:"failed"`
}

// Matched returns the number of exact and fuzzy matches.
func (s Stats) Matched() int {
	return s.Exact + s.Fuzzy
}

// MatchRate returns matched transactions as a fraction of the total.
func (s Stats) MatchRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Matched()) / float64(s.Total)
}

// Resolve matches every transaction. Items are sharded across workers; output
// order follows input order regardless of scheduling. Unmatched addresses are
// an outcome, not an error. Only cancellation returns an error.
func (r *Resolver) Resolve(ctx context.Context, txs []model.RawTransaction) (*Resolution, error) {
	results := make([]model.MatchResult, len(txs))
	failures, err := batch.Run(ctx, len(txs), r.workers, func(i int) error {
		res := r.Match(r.JoinKey(txs[i]))
		res.TransactionID = txs[i].ID
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "geocode: resolve")
	}

	failed := make(map[int]bool, len(failures))
	out := &Resolution{Stats: Stats{Total: len(txs)}}
	for _, f := range failures {
		failed[f.Index] = true
		out.Failed = append(out.Failed, ItemFailure{TransactionID: txs[f.Index].ID, Err: f.Err})
		r.log.Warn("transaction resolution failed",
			zap.String("transaction_id", txs[f.Index].ID),
			zap.Error(f.Err),
		)
	}
	out.Stats.Failed = len(failures)

	for i, res := range results {
		if failed[i] {
			continue
		}
		switch res.Type {
		case model.MatchExact:
			out.Stats.Exact++
			out.Matches = append(out.Matches, res)
		case model.MatchFuzzy:
			out.Stats.Fuzzy++
			out.Matches = append(out.Matches, res)
		default:
			out.Stats.Unmatched++
			out.Unmatched = append(out.Unmatched, txs[i])
			out.UnmatchedResults = append(out.UnmatchedResults, res)
		}
	}

	r.log.Info("resolved transactions",
		zap.Int("total", out.Stats.Total),
		zap.Int("exact", out.Stats.Exact),
		zap.Int("fuzzy", out.Stats.Fuzzy),
		zap.Int("unmatched", out.Stats.Unmatched),
		zap.Int("failed", out.Stats.Failed),
		zap.Float64("match_rate", out.Stats.MatchRate()),
	)
	return out, nil
}
