// Package fuzzy scores string similarity with an order-insensitive token-sort
// ratio and finds the best candidate in a pre-tokenized reference set.
package fuzzy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indel counts a substitution as one deletion plus one insertion, which makes
// the distance comparable to the combined length of both strings.
var indel = levenshtein.NewParams().SubCost(2)

// Ratio returns the normalized indel similarity of a and b in [0, 100].
func Ratio(a, b string) float64 {
	return 100 * ratio(a, utf8.RuneCountInString(a), b, utf8.RuneCountInString(b))
}

// TokenSortRatio is Ratio over the whitespace tokens of a and b, each sorted
// alphabetically and rejoined with single spaces.
func TokenSortRatio(a, b string) float64 {
	return Ratio(SortTokens(a), SortTokens(b))
}

// SortTokens splits s on whitespace, sorts the tokens, and rejoins them.
func SortTokens(s string) string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func ratio(a string, la int, b string, lb int) float64 {
	total := la + lb
	if total == 0 {
		return 1
	}
	if a == b {
		return 1
	}
	d := levenshtein.Distance(a, b, indel)
	return 1 - float64(d)/float64(total)
}

// lengthBound is the highest ratio two strings of these lengths can reach.
func lengthBound(la, lb int) float64 {
	total := la + lb
	if total == 0 {
		return 1
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(total)
}

type candidate struct {
	sorted string
	runes  int
}

// Matcher holds a candidate set tokenized once at construction. It is
// read-only afterwards and safe for concurrent BestMatch calls.
type Matcher struct {
	candidates []candidate
}

// NewMatcher pre-tokenizes candidates. Candidate order is the tie-break order.
func NewMatcher(candidates []string) *Matcher {
	m := &Matcher{candidates: make([]candidate, len(candidates))}
	for i, c := range candidates {
		s := SortTokens(c)
		m.candidates[i] = candidate{sorted: s, runes: utf8.RuneCountInString(s)}
	}
	return m
}

// Len returns the number of candidates.
func (m *Matcher) Len() int {
	return len(m.candidates)
}

// BestMatch returns the index and score in [0, 1] of the highest-scoring
// candidate for query. Ties go to the earliest candidate. ok is false when no
// candidate reaches threshold; the score is then the best among candidates
// whose length allowed them to be compared.
func (m *Matcher) BestMatch(query string, threshold float64) (index int, score float64, ok bool) {
	q := SortTokens(query)
	lq := utf8.RuneCountInString(q)

	best := -1
	bestScore := 0.0
	for i, c := range m.candidates {
		bound := lengthBound(lq, c.runes)
		if bound < threshold {
			continue
		}
		if best >= 0 && bound <= bestScore {
			continue
		}
		s := ratio(q, lq, c.sorted, c.runes)
		if best < 0 || s > bestScore {
			best, bestScore = i, s
			if s == 1 {
				break
			}
		}
	}

	if best < 0 || bestScore < threshold {
		return -1, bestScore, false
	}
	return best, bestScore, true
}
