package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// PropertyType tags a transaction with its housing segment.
type PropertyType string

const (
	ResidentialPublic    PropertyType = "residential-public"    // HDB resale flats
	ResidentialPrivate   PropertyType = "residential-private"   // Condominiums and landed
	ResidentialExecutive PropertyType = "residential-executive" // Executive condominiums
)

// PropertyTypes lists every known property type in canonical order.
func PropertyTypes() []PropertyType {
	return []PropertyType{ResidentialPublic, ResidentialPrivate, ResidentialExecutive}
}

var propertyTypeAliases = map[string]PropertyType{
	"residential-public":    ResidentialPublic,
	"public":                ResidentialPublic,
	"hdb":                   ResidentialPublic,
	"residential-private":   ResidentialPrivate,
	"private":               ResidentialPrivate,
	"condo":                 ResidentialPrivate,
	"residential-executive": ResidentialExecutive,
	"executive":             ResidentialExecutive,
	"ec":                    ResidentialExecutive,
}

// ParsePropertyType resolves a property type tag, accepting short aliases.
func ParsePropertyType(s string) (PropertyType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	if pt, ok := propertyTypeAliases[key]; ok {
		return pt, nil
	}
	return "", eris.Errorf("model: unknown property type %q", s)
}

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case ResidentialPublic, ResidentialPrivate, ResidentialExecutive:
		return true
	}
	return false
}

// Category names an amenity kind, e.g. "hawker_centre".
type Category string

// Tier is a period-relative price class.
type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"
)

// MatchType records how a transaction was linked to a reference.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchFuzzy     MatchType = "fuzzy"
	MatchUnmatched MatchType = "unmatched"
)
