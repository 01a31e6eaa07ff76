package geocode

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/normalize"
)

func testRefs() []model.GeocodedReference {
	return []model.GeocodedReference{
		{ID: "r1", Address: "10 ANG MO KIO AVE 4", Location: geo.LatLon{Lat: 1.3691, Lon: 103.8454}},
		{ID: "r2", Address: "12 JURONG WEST STREET 52", Location: geo.LatLon{Lat: 1.3500, Lon: 103.7180}},
		{ID: "r3", Address: "THE SAIL MARINA BOULEVARD", Location: geo.LatLon{Lat: 1.2800, Lon: 103.8520}},
		{ID: "r4", Address: "10 Ang Mo Kio Avenue 4", Location: geo.LatLon{Lat: 9, Lon: 9}},
	}
}

func newResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(normalize.Default(), testRefs(), opts...)
	require.NoError(t, err)
	return r
}

func TestNewResolver_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(nil, testRefs())
	assert.Error(t, err)

	_, err = NewResolver(normalize.Default(), testRefs(), WithThreshold(0))
	assert.Error(t, err)

	_, err = NewResolver(normalize.Default(), testRefs(), WithThreshold(1.2))
	assert.Error(t, err)

	r, err := NewResolver(normalize.Default(), nil, WithThreshold(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Threshold())
}

func TestMatch_ExactAfterNormalization(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	res := r.Match(r.norm.Normalize("10 Ang Mo Kio Avenue 4"))
	assert.Equal(t, model.MatchExact, res.Type)
	assert.Equal(t, 1.0, res.Score)
	// r4 normalizes to the same key as r1; the first reference wins.
	assert.Equal(t, "r1", res.ReferenceID)
}

func TestMatch_FuzzyWhenAbbreviationUnknown(t *testing.T) {
	t.Parallel()
	n, err := normalize.New(normalize.Rules{Substitutions: map[string]string{"AVE": "AVENUE"}})
	require.NoError(t, err)
	r, err := NewResolver(n, testRefs())
	require.NoError(t, err)

	res := r.Match(n.Normalize("12 Jurong West St 52"))
	assert.Equal(t, model.MatchFuzzy, res.Type)
	assert.Equal(t, "r2", res.ReferenceID)
	assert.GreaterOrEqual(t, res.Score, 0.85)
	assert.Less(t, res.Score, 1.0)
	assert.Equal(t, "12 JURONG WEST STREET 52", res.Matched)
}

func TestMatch_Unmatched(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	res := r.Match("99 SERANGOON NORTH AVENUE 1")
	assert.Equal(t, model.MatchUnmatched, res.Type)
	assert.Empty(t, res.ReferenceID)
	assert.Empty(t, res.Matched)

	res = r.Match("")
	assert.Equal(t, model.MatchUnmatched, res.Type)
}

func TestJoinKey(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	tests := []struct {
		name string
		tx   model.RawTransaction
		want string
	}{
		{
			name: "public uses block and street",
			tx:   model.RawTransaction{PropertyType: model.ResidentialPublic, Block: "10", Street: "Ang Mo Kio Ave 4", Address: "ignored"},
			want: "10 ANG MO KIO AVENUE 4",
		},
		{
			name: "private uses project and street",
			tx:   model.RawTransaction{PropertyType: model.ResidentialPrivate, Project: "The Sail", Block: "2", Street: "Marina Blvd"},
			want: "THE SAIL MARINA BOULEVARD",
		},
		{
			name: "executive uses project and street",
			tx:   model.RawTransaction{PropertyType: model.ResidentialExecutive, Project: "Parc Canberra", Street: "Canberra Dr"},
			want: "PARC CANBERRA CANBERRA DRIVE",
		},
		{
			name: "falls back to address",
			tx:   model.RawTransaction{PropertyType: model.ResidentialPublic, Street: "Ang Mo Kio Ave 4", Address: "10 Ang Mo Kio Ave 4"},
			want: "10 ANG MO KIO AVENUE 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.JoinKey(tt.tx))
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := newResolver(t)

	txs := []model.RawTransaction{
		{ID: "hdb:1", PropertyType: model.ResidentialPublic, Block: "10", Street: "Ang Mo Kio Avenue 4"},
		{ID: "pte:1", PropertyType: model.ResidentialPrivate, Project: "The Sail", Street: "Marina Blvd"},
		{ID: "hdb:2", PropertyType: model.ResidentialPublic, Block: "12", Street: "Jurong West Stret 52"},
		{ID: "hdb:3", PropertyType: model.ResidentialPublic, Block: "999", Street: "Nowhere Lane"},
	}

	res, err := r.Resolve(context.Background(), txs)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 4, Exact: 2, Fuzzy: 1, Unmatched: 1}, res.Stats)
	assert.InDelta(t, 0.75, res.Stats.MatchRate(), 1e-12)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, []string{"hdb:1", "pte:1", "hdb:2"}, []string{
		res.Matches[0].TransactionID, res.Matches[1].TransactionID, res.Matches[2].TransactionID,
	})
	assert.Equal(t, "r3", res.Matches[1].ReferenceID)
	assert.Equal(t, model.MatchFuzzy, res.Matches[2].Type)

	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, "hdb:3", res.Unmatched[0].ID)
	require.Len(t, res.UnmatchedResults, 1)
	assert.Empty(t, res.UnmatchedResults[0].ReferenceID)
	assert.Empty(t, res.Failed)
}

func TestResolve_ScoresRespectThreshold(t *testing.T) {
	t.Parallel()
	r := newResolver(t, WithThreshold(0.9))

	var txs []model.RawTransaction
	streets := []string{"Ang Mo Kio Ave 4", "Ang Mo Kio Av 4", "Ang Mo Kio Avenue 3", "Jurong West St 52", "Jurong W St 52", "Marina Blvd"}
	for i, s := range streets {
		txs = append(txs, model.RawTransaction{
			ID: fmt.Sprintf("x:%d", i), PropertyType: model.ResidentialPublic, Block: "10", Street: s,
		})
	}

	res, err := r.Resolve(context.Background(), txs)
	require.NoError(t, err)
	for _, m := range res.Matches {
		assert.GreaterOrEqual(t, m.Score, 0.9)
		assert.LessOrEqual(t, m.Score, 1.0)
		if m.Type == model.MatchExact {
			assert.Equal(t, 1.0, m.Score)
		}
	}
	assert.Equal(t, len(txs), res.Stats.Matched()+res.Stats.Unmatched)
}

func TestResolve_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	var txs []model.RawTransaction
	for i := range 500 {
		txs = append(txs, model.RawTransaction{
			ID:           fmt.Sprintf("hdb:%d", i),
			PropertyType: model.ResidentialPublic,
			Block:        fmt.Sprint(10 + i%5),
			Street:       []string{"Ang Mo Kio Ave 4", "Jurong West St 52", "Marina Blvd"}[i%3],
		})
	}

	one, err := newResolver(t, WithWorkers(1)).Resolve(context.Background(), txs)
	require.NoError(t, err)
	many, err := newResolver(t, WithWorkers(8)).Resolve(context.Background(), txs)
	require.NoError(t, err)

	assert.Equal(t, one.Matches, many.Matches)
	assert.Equal(t, one.Unmatched, many.Unmatched)
	assert.Equal(t, one.Stats, many.Stats)
}

func TestResolve_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newResolver(t).Resolve(ctx, []model.RawTransaction{{ID: "a"}})
	assert.Error(t, err)
}

func TestReference(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	ref, ok := r.Reference("r3")
	require.True(t, ok)
	assert.Equal(t, "THE SAIL MARINA BOULEVARD", ref.Address)
	_, ok = r.Reference("nope")
	assert.False(t, ok)
}

func TestStats_MatchRateEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Stats{}.MatchRate())
}
