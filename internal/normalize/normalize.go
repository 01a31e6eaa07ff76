// Package normalize canonicalizes free-text addresses so that superficially
// different spellings of the same place compare equal.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer applies a fixed rule table. It is immutable after New and safe
// for concurrent use.
type Normalizer struct {
	table      map[string]string
	separators string
}

// New validates rules and builds a Normalizer. It rejects tables that could
// make normalization non-idempotent: an expansion containing a token that is
// itself an abbreviation, or a key that can never survive tokenization.
func New(rules Rules) (*Normalizer, error) {
	n := &Normalizer{
		table:      make(map[string]string, len(rules.Substitutions)+len(rules.Ambiguous)),
		separators: rules.Separators,
	}
	if n.separators == "" {
		n.separators = DefaultSeparators
	}

	for k, v := range rules.Substitutions {
		n.table[k] = v
	}
	for k, candidates := range rules.Ambiguous {
		if len(candidates) == 0 {
			return nil, eris.Errorf("normalize: ambiguous token %q has no candidates", k)
		}
		if _, dup := n.table[k]; dup {
			return nil, eris.Errorf("normalize: token %q is both a substitution and ambiguous", k)
		}
		n.table[k] = candidates[0]
	}

	keys := make([]string, 0, len(n.table))
	for k := range n.table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if toks := n.tokens(k); len(toks) != 1 || toks[0] != k {
			return nil, eris.Errorf("normalize: key %q is not a single normalized token", k)
		}
		exp := n.table[k]
		toks := n.tokens(exp)
		if len(toks) == 0 || strings.Join(toks, " ") != exp {
			return nil, eris.Errorf("normalize: expansion %q of %q is not in normalized form", exp, k)
		}
		for _, t := range toks {
			if _, ok := n.table[t]; ok {
				return nil, eris.Errorf("normalize: expansion %q of %q contains abbreviation %q", exp, k, t)
			}
		}
	}
	return n, nil
}

// Default returns a Normalizer over DefaultRules.
func Default() *Normalizer {
	n, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize returns the canonical form of raw: accents folded, uppercased,
// separators and trailing periods dropped, whitespace collapsed, and every
// token in the rule table expanded. Unknown tokens pass through unchanged.
func (n *Normalizer) Normalize(raw string) string {
	toks := n.tokens(raw)
	for i, t := range toks {
		if exp, ok := n.table[t]; ok {
			toks[i] = exp
		}
	}
	return strings.Join(toks, " ")
}

// Key joins parts into one normalized match key, skipping empty parts.
func (n *Normalizer) Key(parts ...string) string {
	return n.Normalize(strings.Join(parts, " "))
}

// Expansion returns the expansion for token, if any.
func (n *Normalizer) Expansion(token string) (string, bool) {
	exp, ok := n.table[token]
	return exp, ok
}

func (n *Normalizer) tokens(s string) []string {
	s = strings.ToUpper(fold(s))
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(n.separators, r) || unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)

	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimRight(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// fold strips diacritics. A transformer chain holds state, so one is built
// per call.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
