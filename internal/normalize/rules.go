package normalize

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules is the substitution table applied token by token. It is passed to New
// explicitly so callers and tests can swap vocabularies.
type Rules struct {
	// Substitutions maps an abbreviation to its expansion.
	Substitutions map[string]string `yaml:"substitutions"`
	// Ambiguous maps an abbreviation with several plausible expansions to a
	// priority list. The first entry always wins.
	Ambiguous map[string][]string `yaml:"ambiguous"`
	// Separators are characters replaced by a space before tokenizing.
	Separators string `yaml:"separators"`
}

// DefaultSeparators splits on punctuation that never carries meaning in a
// Singapore street address. Hyphen, slash and apostrophe are kept for unit
// numbers ("#12-34"), split blocks ("10/12") and "C'WEALTH".
const DefaultSeparators = `,;:()[]{}"!?#*`

// DefaultRules returns the built-in Singapore street vocabulary.
func DefaultRules() Rules {
	return Rules{
		Substitutions: map[string]string{
			"AVE":      "AVENUE",
			"AV":       "AVENUE",
			"RD":       "ROAD",
			"DR":       "DRIVE",
			"CRES":     "CRESCENT",
			"CTRL":     "CENTRAL",
			"NTH":      "NORTH",
			"STH":      "SOUTH",
			"UPP":      "UPPER",
			"LOR":      "LORONG",
			"JLN":      "JALAN",
			"BT":       "BUKIT",
			"KG":       "KAMPONG",
			"TG":       "TANJONG",
			"PK":       "PARK",
			"PL":       "PLACE",
			"TER":      "TERRACE",
			"CL":       "CLOSE",
			"LN":       "LANE",
			"GDNS":     "GARDENS",
			"HTS":      "HEIGHTS",
			"C'WEALTH": "COMMONWEALTH",
			"BLVD":     "BOULEVARD",
			"CTR":      "CENTRE",
			"MKT":      "MARKET",
			"CT":       "COURT",
			"SQ":       "SQUARE",
			"HWY":      "HIGHWAY",
			"EXPWY":    "EXPRESSWAY",
			"IND":      "INDUSTRIAL",
			"MT":       "MOUNT",
		},
		Ambiguous: map[string][]string{
			// "ST" is STREET in the transaction data far more often than SAINT.
			"ST":  {"STREET", "SAINT"},
			"STN": {"STATION", "STREET NORTH"},
		},
		Separators: DefaultSeparators,
	}
}

// LoadRules reads a YAML rule file. Keys are uppercased; missing separators
// fall back to DefaultSeparators.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "normalize: read rules %s", path)
	}
	var raw Rules
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Rules{}, eris.Wrapf(err, "normalize: parse rules %s", path)
	}

	out := Rules{
		Substitutions: make(map[string]string, len(raw.Substitutions)),
		Ambiguous:     make(map[string][]string, len(raw.Ambiguous)),
		Separators:    raw.Separators,
	}
	for k, v := range raw.Substitutions {
		out.Substitutions[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	for k, v := range raw.Ambiguous {
		list := make([]string, len(v))
		for i, s := range v {
			list[i] = strings.ToUpper(s)
		}
		out.Ambiguous[strings.ToUpper(k)] = list
	}
	if out.Separators == "" {
		out.Separators = DefaultSeparators
	}
	return out, nil
}
