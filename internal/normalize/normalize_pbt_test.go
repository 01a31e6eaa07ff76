package normalize

import (
	"strings"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func addressGen() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf(
		"10", "406", "#12-34", "Blk", "Ang", "mo", "KIO", "ave", "Ave.", "St", "st.",
		"Rd,", "C'wealth", "Bt", "Jln", "Café", "Nth", "  ", "\t", "(East)", "...", "ST",
		"STREET", "Lor", "Upp", "Tg", "Pagar", "Marina", "Blvd",
	)).Map(func(parts []string) string {
		return strings.Join(parts, " ")
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	n := Default()
	properties := gopter.NewProperties(nil)

	properties.Property("normalize is idempotent on address-like input", prop.ForAll(
		func(s string) bool {
			once := n.Normalize(s)
			return n.Normalize(once) == once
		},
		addressGen(),
	))

	properties.Property("normalize is idempotent on alpha strings", prop.ForAll(
		func(s string) bool {
			once := n.Normalize(s)
			return n.Normalize(once) == once
		},
		gen.AlphaString(),
	))

	properties.Property("normalize is idempotent on latin text", prop.ForAll(
		func(s string) bool {
			once := n.Normalize(s)
			return n.Normalize(once) == once
		},
		gen.OneGenOf(
			gen.UnicodeString(unicode.Latin),
			gen.OneConstOf("ﬁne st", "Straße", "ǅurđević rd", "ﬀ Upp Cross St", "ß"),
		),
	))

	properties.Property("output has no doubled or edge whitespace", prop.ForAll(
		func(s string) bool {
			out := n.Normalize(s)
			return out == strings.TrimSpace(out) && !strings.Contains(out, "  ")
		},
		addressGen(),
	))

	properties.TestingRun(t)
}
