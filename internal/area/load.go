// Package area loads administrative polygons and assigns points to them.
package area

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/model"
)

// Load reads areas from a GeoJSON (.geojson, .json) or shapefile (.shp, .zip)
// path. nameField names the property holding the area name.
func Load(path, nameField string) ([]model.AdministrativeArea, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return LoadGeoJSON(path, nameField)
	case ".shp", ".zip":
		return LoadShapefile(path, nameField)
	}
	return nil, eris.Errorf("area: unsupported area file %q", path)
}

// LoadGeoJSON reads a FeatureCollection of Polygon and MultiPolygon features.
// Features with other geometry types are skipped. A feature without the name
// property falls back to its id.
func LoadGeoJSON(path, nameField string) ([]model.AdministrativeArea, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "area: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "area: decode %s", path)
	}

	log := zap.L().With(zap.String("component", "area"), zap.String("path", path))
	var areas []model.AdministrativeArea
	for i, f := range fc.Features {
		mp := toMultiPolygon(f.Geometry)
		if mp == nil {
			log.Debug("skipping non-polygon feature", zap.Int("feature", i))
			continue
		}
		name := propertyString(f.Properties, nameField)
		if name == "" {
			name = f.ID
		}
		if name == "" {
			name = fmt.Sprintf("area_%d", i)
		}
		areas = append(areas, model.AdministrativeArea{Name: name, Order: len(areas), Geometry: mp})
	}
	log.Info("loaded areas", zap.Int("areas", len(areas)))
	return areas, nil
}

// LoadShapefile reads polygon records. A .zip path is extracted to a
// temporary directory first.
func LoadShapefile(path, nameField string) ([]model.AdministrativeArea, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "geoenrich-areas-*")
		if err != nil {
			return nil, eris.Wrap(err, "area: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		files, err := fetcher.ExtractZIP(path, dir)
		if err != nil {
			return nil, eris.Wrap(err, "area: extract shapefile bundle")
		}
		shpPath := ""
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), ".shp") {
				shpPath = f
				break
			}
		}
		if shpPath == "" {
			return nil, eris.Errorf("area: no .shp file in %s", path)
		}
		path = shpPath
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "area: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, nameField)
	if nameIdx < 0 {
		return nil, eris.Errorf("area: field %q not found in %s", nameField, path)
	}

	log := zap.L().With(zap.String("component", "area"), zap.String("path", path))
	var areas []model.AdministrativeArea
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}
		mp := shapePolygon(poly)
		if mp == nil {
			log.Debug("skipping empty polygon record", zap.Int("record", n))
			continue
		}
		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			name = fmt.Sprintf("area_%d", n)
		}
		areas = append(areas, model.AdministrativeArea{Name: name, Order: len(areas), Geometry: mp})
	}
	log.Info("loaded areas", zap.Int("areas", len(areas)))
	return areas, nil
}

// fieldIndex returns the index of a named attribute field, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// shapePolygon converts a shapefile polygon to a MultiPolygon. Clockwise rings
// start a new polygon; counter-clockwise rings inside the current shell are
// its holes.
func shapePolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var (
		current *geom.Polygon
		shell   ring
	)
	flush := func() {
		if current != nil && current.NumLinearRings() > 0 {
			if err := mp.Push(current); err != nil {
				zap.L().Debug("area: skipping malformed polygon", zap.Error(err))
			}
		}
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		// A counter-clockwise ring is a hole only when it lies inside the
		// current shell; otherwise it is a mis-oriented shell of its own.
		if signedArea(flat) < 0 || current == nil || !inRing(flat[0], flat[1], shell) {
			flush()
			current = geom.NewPolygon(geom.XY)
			shell = flatRing(flat)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("area: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// toMultiPolygon flattens Polygon and MultiPolygon geometries to XY.
func toMultiPolygon(g geom.T) *geom.MultiPolygon {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, src := range polys {
		dst := geom.NewPolygon(geom.XY)
		for r := 0; r < src.NumLinearRings(); r++ {
			coords := src.LinearRing(r).Coords()
			flat := make([]float64, 0, len(coords)*2)
			for _, c := range coords {
				flat = append(flat, c[0], c[1])
			}
			if err := dst.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				continue
			}
		}
		if dst.NumLinearRings() == 0 {
			continue
		}
		if err := mp.Push(dst); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring; negative means clockwise.
func flatRing(flat []float64) ring {
	r := make(ring, len(flat)/2)
	for i := range r {
		r[i] = [2]float64{flat[2*i], flat[2*i+1]}
	}
	return r
}

func signedArea(flat []float64) float64 {
	n := len(flat) / 2
	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

func propertyString(props map[string]interface{}, key string) string {
	if props == nil || key == "" {
		return ""
	}
	v, ok := props[key]
	if !ok {
		for k, val := range props {
			if strings.EqualFold(k, key) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
