// Package ingest validates raw feed rows into typed records. Rows that do not
// conform are dropped and reported as *ValidationError values; they never
// reach the enrichment stages.
package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
)

// Validation reasons.
const (
	ReasonMissing      = "missing"
	ReasonDate         = "unparseable date"
	ReasonPrice        = "invalid price"
	ReasonNumber       = "invalid number"
	ReasonCoordinates  = "invalid coordinates"
	ReasonCategory     = "unknown category"
	ReasonPropertyType = "unknown property type"
)

// ValidationError describes one rejected row.
type ValidationError struct {
	Dataset string
	Row     int
	Field   string
	Reason  string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("ingest: %s row %d: %s %s", e.Dataset, e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("ingest: %s row %d: %s %s (%q)", e.Dataset, e.Row, e.Field, e.Reason, e.Value)
}

// Column aliases, in lookup order.
var (
	addressCols   = []string{"address", "full_address", "search_address"}
	blockCols     = []string{"block", "blk", "blk_no"}
	streetCols    = []string{"street_name", "street"}
	projectCols   = []string{"project_name", "project"}
	dateCols      = []string{"month", "date", "contract_date", "sale_date", "transaction_date"}
	priceCols     = []string{"resale_price", "price", "transacted_price"}
	floorAreaCols = []string{"floor_area_sqm", "floor_area", "area_sqm"}
	leaseCols     = []string{"lease_commence_date", "lease_start_year"}
	typeCols      = []string{"property_type", "type"}
	latCols       = []string{"lat", "latitude"}
	lonCols       = []string{"lon", "lng", "long", "longitude"}
	idCols        = []string{"id", "ref_id", "reference_id"}
	nameCols      = []string{"name", "amenity_name"}
	categoryCols  = []string{"category", "amenity_type", "kind"}
)

var consumed = func() map[string]bool {
	m := make(map[string]bool)
	for _, cols := range [][]string{addressCols, blockCols, streetCols, projectCols, dateCols, priceCols, floorAreaCols, leaseCols, typeCols} {
		for _, c := range cols {
			m[c] = true
		}
	}
	return m
}()

func reject(dataset string, row int, field, reason, value string) *ValidationError {
	return &ValidationError{Dataset: dataset, Row: row, Field: field, Reason: reason, Value: value}
}

// Transactions validates sale rows. pt is the dataset's property type; a row
// may override it with a property_type column. Row numbers are 1-based data
// rows and form the transaction id "<dataset>:<row>".
func Transactions(dataset string, pt model.PropertyType, rows []fetcher.Row) ([]model.RawTransaction, []*ValidationError) {
	var (
		out  []model.RawTransaction
		errs []*ValidationError
	)
	for i, row := range rows {
		tx, verr := transaction(dataset, pt, i+1, row)
		if verr != nil {
			errs = append(errs, verr)
			continue
		}
		out = append(out, tx)
	}
	logResult(dataset, len(rows), len(out), errs)
	return out, errs
}

func transaction(dataset string, pt model.PropertyType, n int, row fetcher.Row) (model.RawTransaction, *ValidationError) {
	tx := model.RawTransaction{
		ID:           dataset + ":" + strconv.Itoa(n),
		Dataset:      dataset,
		Row:          n,
		PropertyType: pt,
		Block:        row.Get(blockCols...),
		Street:       row.Get(streetCols...),
		Project:      row.Get(projectCols...),
	}

	if raw := row.Get(typeCols...); raw != "" {
		parsed, err := model.ParsePropertyType(raw)
		if err != nil {
			return tx, reject(dataset, n, "property_type", ReasonPropertyType, raw)
		}
		tx.PropertyType = parsed
	}
	if !tx.PropertyType.Valid() {
		return tx, reject(dataset, n, "property_type", ReasonPropertyType, string(tx.PropertyType))
	}

	tx.Address = row.Get(addressCols...)
	if tx.Address == "" {
		lead := tx.Block
		if tx.PropertyType != model.ResidentialPublic {
			lead = tx.Project
		}
		tx.Address = strings.TrimSpace(lead + " " + tx.Street)
	}
	if tx.Address == "" {
		return tx, reject(dataset, n, "address", ReasonMissing, "")
	}

	rawDate := row.Get(dateCols...)
	if rawDate == "" {
		return tx, reject(dataset, n, "date", ReasonMissing, "")
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return tx, reject(dataset, n, "date", ReasonDate, rawDate)
	}
	tx.Date = date

	rawPrice := row.Get(priceCols...)
	if rawPrice == "" {
		return tx, reject(dataset, n, "price", ReasonMissing, "")
	}
	if tx.Price, err = ParsePrice(rawPrice); err != nil {
		return tx, reject(dataset, n, "price", ReasonPrice, rawPrice)
	}

	if raw := row.Get(floorAreaCols...); raw != "" {
		if tx.FloorArea, err = parseNumber(raw); err != nil {
			return tx, reject(dataset, n, "floor_area", ReasonNumber, raw)
		}
	}
	if raw := row.Get(leaseCols...); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1000 || year > 9999 {
			return tx, reject(dataset, n, "lease_start_year", ReasonNumber, raw)
		}
		tx.LeaseStartYear = year
	}

	for k, v := range row {
		if consumed[k] || strings.TrimSpace(v) == "" {
			continue
		}
		if tx.Attrs == nil {
			tx.Attrs = make(map[string]string)
		}
		tx.Attrs[k] = strings.TrimSpace(v)
	}
	return tx, nil
}

// References validates geocoded reference rows. Rows without an id column get
// "<dataset>:<row>".
func References(dataset string, rows []fetcher.Row) ([]model.GeocodedReference, []*ValidationError) {
	var (
		out  []model.GeocodedReference
		errs []*ValidationError
	)
	for i, row := range rows {
		n := i + 1
		ref := model.GeocodedReference{ID: row.Get(idCols...), Address: row.Get(addressCols...)}
		if ref.ID == "" {
			ref.ID = dataset + ":" + strconv.Itoa(n)
		}
		if ref.Address == "" {
			errs = append(errs, reject(dataset, n, "address", ReasonMissing, ""))
			continue
		}
		loc, verr := location(dataset, n, row)
		if verr != nil {
			errs = append(errs, verr)
			continue
		}
		ref.Location = loc
		out = append(out, ref)
	}
	logResult(dataset, len(rows), len(out), errs)
	return out, errs
}

// Amenities validates amenity rows. Categories are normalized to lower snake
// case; rows whose category is not in categories are rejected.
func Amenities(dataset string, rows []fetcher.Row, categories []model.Category) ([]model.AmenityPoint, []*ValidationError) {
	known := make(map[model.Category]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}

	var (
		out  []model.AmenityPoint
		errs []*ValidationError
	)
	for i, row := range rows {
		n := i + 1
		raw := row.Get(categoryCols...)
		if raw == "" {
			errs = append(errs, reject(dataset, n, "category", ReasonMissing, ""))
			continue
		}
		cat := NormalizeCategory(raw)
		if !known[cat] {
			errs = append(errs, reject(dataset, n, "category", ReasonCategory, raw))
			continue
		}
		loc, verr := location(dataset, n, row)
		if verr != nil {
			errs = append(errs, verr)
			continue
		}
		a := model.AmenityPoint{ID: row.Get(idCols...), Name: row.Get(nameCols...), Category: cat, Location: loc}
		if a.ID == "" {
			a.ID = dataset + ":" + strconv.Itoa(n)
		}
		out = append(out, a)
	}
	logResult(dataset, len(rows), len(out), errs)
	return out, errs
}

// NormalizeCategory maps "Hawker Centre" and "hawker-centre" to
// "hawker_centre".
func NormalizeCategory(s string) model.Category {
	return model.Category(fetcher.NormalizeHeader(s))
}

func location(dataset string, n int, row fetcher.Row) (geo.LatLon, *ValidationError) {
	rawLat, rawLon := row.Get(latCols...), row.Get(lonCols...)
	if rawLat == "" || rawLon == "" {
		return geo.LatLon{}, reject(dataset, n, "location", ReasonMissing, "")
	}
	lat, err1 := parseCoord(rawLat)
	lon, err2 := parseCoord(rawLon)
	p := geo.LatLon{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || !p.Valid() {
		return geo.LatLon{}, reject(dataset, n, "location", ReasonCoordinates, rawLat+","+rawLon)
	}
	return p, nil
}

func logResult(dataset string, total, valid int, errs []*ValidationError) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("dataset", dataset))
	for _, e := range errs {
		log.Debug("row rejected",
			zap.Int("row", e.Row),
			zap.String("field", e.Field),
			zap.String("reason", e.Reason),
			zap.String("value", e.Value),
		)
	}
	if len(errs) > 0 {
		log.Warn("rows rejected", zap.Int("rejected", len(errs)), zap.Int("total", total))
	}
	log.Info("validated rows", zap.Int("valid", valid), zap.Int("total", total))
}

// ReasonCount is the number of rows of a dataset rejected for one reason.
type ReasonCount struct {
	Dataset string `json:"dataset"`
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Count   int    `json:"count"`
}

// Summary groups validation errors by dataset, field and reason.
func Summary(errs []*ValidationError) []ReasonCount {
	type key struct{ dataset, field, reason string }
	counts := make(map[key]int)
	for _, e := range errs {
		counts[key{e.Dataset, e.Field, e.Reason}]++
	}
	out := make([]ReasonCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, ReasonCount{Dataset: k.dataset, Field: k.field, Reason: k.reason, Count: c})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Dataset != out[b].Dataset {
			return out[a].Dataset < out[b].Dataset
		}
		if out[a].Field != out[b].Field {
			return out[a].Field < out[b].Field
		}
		return out[a].Reason < out[b].Reason
	})
	return out
}
