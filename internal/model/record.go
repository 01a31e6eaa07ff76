package model

import (
	"strconv"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/geoenrich/internal/geo"
)

// RawTransaction is one validated sale record. It is never mutated after ingest.
type RawTransaction struct {
	ID             string            `json:"id"` // "<dataset>:<row>"
	Dataset        string            `json:"dataset"`
	Row            int               `json:"row"`
	PropertyType   PropertyType      `json:"property_type"`
	Address        string            `json:"address"`
	Block          string            `json:"block,omitempty"`
	Street         string            `json:"street,omitempty"`
	Project        string            `json:"project,omitempty"`
	Date           time.Time         `json:"date"`
	Price          float64           `json:"price"`
	FloorArea      float64           `json:"floor_area,omitempty"`
	LeaseStartYear int               `json:"lease_start_year,omitempty"`
	Attrs          map[string]string `json:"attrs,omitempty"`
}

// GeocodedReference maps one address to authoritative coordinates.
type GeocodedReference struct {
	ID       string     `json:"id"`
	Address  string     `json:"address"`
	Location geo.LatLon `json:"location"`
}

// MatchResult links a transaction to a reference. ReferenceID is empty when
// Type is MatchUnmatched.
type MatchResult struct {
	TransactionID string    `json:"transaction_id"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Type          MatchType `json:"type"`
	Score         float64   `json:"score"`
	Query         string    `json:"query"`
	Matched       string    `json:"matched,omitempty"`
}

// IsMatched reports whether the result carries a reference.
func (m MatchResult) IsMatched() bool {
	return m.Type == MatchExact || m.Type == MatchFuzzy
}

// AmenityPoint is a point of interest of one category.
type AmenityPoint struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Category Category   `json:"category"`
	Location geo.LatLon `json:"location"`
}

// AdministrativeArea is a named region. Order is its position in the source
// file and is the default tie-break between overlapping areas.
type AdministrativeArea struct {
	Name     string
	Order    int
	Geometry *geom.MultiPolygon
}

// RadiusCount is the number of amenities within Radius meters.
type RadiusCount struct {
	Radius float64 `json:"radius"`
	Count  int     `json:"count"`
}

// CategoryFeature holds the proximity features of one amenity category.
// Nearest is nil only when the category has no amenities at all.
type CategoryFeature struct {
	Category Category      `json:"category"`
	Nearest  *float64      `json:"nearest,omitempty"`
	Counts   []RadiusCount `json:"counts"`
}

// EnrichedProperty is one unique geocoded location with its features.
// Area is empty when the location falls in no administrative area.
type EnrichedProperty struct {
	ReferenceID string            `json:"reference_id"`
	Location    geo.LatLon        `json:"location"`
	Area        string            `json:"area,omitempty"`
	Features    []CategoryFeature `json:"features"`
}

// Feature returns the features of category c.
func (p *EnrichedProperty) Feature(c Category) (CategoryFeature, bool) {
	for _, f := range p.Features {
		if f.Category == c {
			return f, true
		}
	}
	return CategoryFeature{}, false
}

// TemporalSegment is the period bucket and tier of one transaction.
type TemporalSegment struct {
	Period      string `json:"period"`
	PeriodStart int    `json:"period_start"`
	Tier        Tier   `json:"tier"`
}

// UnifiedRecord is one geocoded transaction joined to its location features,
// temporal segment, and auxiliary metrics. A missing Aux key means null.
type UnifiedRecord struct {
	Transaction RawTransaction    `json:"transaction"`
	Match       MatchResult       `json:"match"`
	Property    *EnrichedProperty `json:"property"`
	Segment     TemporalSegment   `json:"segment"`
	Aux         map[string]any    `json:"aux,omitempty"`
}

// Attr resolves a join-key attribute by name. Built-in names cover the
// transaction, its location and segment; anything else falls through to the
// transaction's pass-through attributes.
func (r *UnifiedRecord) Attr(name string) (string, bool) {
	t := &r.Transaction
	switch name {
	case "transaction_id":
		return t.ID, true
	case "dataset":
		return t.Dataset, true
	case "property_type":
		return string(t.PropertyType), true
	case "address":
		return t.Address, t.Address != ""
	case "block":
		return t.Block, t.Block != ""
	case "street":
		return t.Street, t.Street != ""
	case "project":
		return t.Project, t.Project != ""
	case "year":
		return strconv.Itoa(t.Date.Year()), true
	case "reference_id":
		return r.Match.ReferenceID, r.Match.ReferenceID != ""
	case "area":
		if r.Property == nil || r.Property.Area == "" {
			return "", false
		}
		return r.Property.Area, true
	case "period":
		return r.Segment.Period, r.Segment.Period != ""
	case "tier":
		return string(r.Segment.Tier), r.Segment.Tier != ""
	}
	v, ok := t.Attrs[name]
	return v, ok && v != ""
}
