package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	n := Default()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"uppercase and expand", "10 Ang Mo Kio Ave 4", "10 ANG MO KIO AVENUE 4"},
		{"already expanded", "10 ANG MO KIO AVENUE 4", "10 ANG MO KIO AVENUE 4"},
		{"whitespace collapse", "  12   Jurong\tWest  St 52 ", "12 JURONG WEST STREET 52"},
		{"trailing periods", "Bt. Batok St. 21", "BUKIT BATOK STREET 21"},
		{"separators", "Blk 123, Bedok Nth Rd (East)", "BLK 123 BEDOK NORTH ROAD EAST"},
		{"unit number kept", "#12-34 Tampines Ave 5", "12-34 TAMPINES AVENUE 5"},
		{"apostrophe abbreviation", "C'wealth Cres", "COMMONWEALTH CRESCENT"},
		{"diacritics folded", "Café Jln Besar", "CAFE JALAN BESAR"},
		{"unknown tokens pass through", "Zzyzx Qwerty", "ZZYZX QWERTY"},
		{"empty", "", ""},
		{"only punctuation", " , ; ... ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalize_AmbiguousUsesPriority(t *testing.T) {
	t.Parallel()
	n := Default()
	// ST resolves to STREET even where SAINT is the intended reading.
	assert.Equal(t, "STREET GEORGE'S ROAD", n.Normalize("St George's Rd"))
	exp, ok := n.Expansion("ST")
	require.True(t, ok)
	assert.Equal(t, "STREET", exp)
}

func TestNormalize_ScenarioExactAfterNormalization(t *testing.T) {
	t.Parallel()
	n := Default()
	assert.Equal(t, n.Normalize("10 ANG MO KIO AVE 4"), n.Normalize("10 Ang Mo Kio Avenue 4"))
}

func TestKey(t *testing.T) {
	t.Parallel()
	n := Default()
	assert.Equal(t, "406 ANG MO KIO AVENUE 10", n.Key("406", "Ang Mo Kio Ave 10"))
	assert.Equal(t, "THE SAIL MARINA BOULEVARD", n.Key("The Sail", "", "Marina Blvd"))
	assert.Equal(t, "", n.Key("", " "))
}

func TestNew_RejectsNonIdempotentTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules Rules
	}{
		{"expansion is abbreviation", Rules{Substitutions: map[string]string{"AVE": "AV", "AV": "AVENUE"}}},
		{"lowercase expansion", Rules{Substitutions: map[string]string{"RD": "road"}}},
		{"expansion with separator", Rules{Substitutions: map[string]string{"RD": "ROAD,"}}},
		{"key with space", Rules{Substitutions: map[string]string{"BT B": "BUKIT BATOK"}}},
		{"empty expansion", Rules{Substitutions: map[string]string{"RD": ""}}},
		{"empty ambiguous list", Rules{Ambiguous: map[string][]string{"ST": {}}}},
		{"key in both tables", Rules{
			Substitutions: map[string]string{"ST": "STREET"},
			Ambiguous:     map[string][]string{"ST": {"SAINT"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestNew_CustomTable(t *testing.T) {
	t.Parallel()
	n, err := New(Rules{
		Substitutions: map[string]string{"RD": "ROAD"},
		Ambiguous:     map[string][]string{"ST": {"SAINT", "STREET"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SAINT ANDREW'S ROAD", n.Normalize("st andrew's rd"))
	// AVE is not in this table.
	assert.Equal(t, "ORCHARD AVE", n.Normalize("orchard ave"))
}

func TestDefaultRulesValid(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultRules())
	require.NoError(t, err)
}

func TestLoadRules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
substitutions:
  rd: road
  Ave: Avenue
ambiguous:
  st: [saint, street]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "ROAD", rules.Substitutions["RD"])
	assert.Equal(t, "AVENUE", rules.Substitutions["AVE"])
	assert.Equal(t, []string{"SAINT", "STREET"}, rules.Ambiguous["ST"])
	assert.Equal(t, DefaultSeparators, rules.Separators)

	n, err := New(rules)
	require.NoError(t, err)
	assert.Equal(t, "SAINT MICHAEL'S ROAD", n.Normalize("St Michael's Rd"))
}

func TestLoadRules_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("substitutions: [not, a, map]"), 0o644))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
