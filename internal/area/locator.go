package area

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
)

// Ordering is the explicit polygon order used to break ties when a point falls
// in more than one area.
type Ordering string

const (
	// OrderSource keeps the order areas appear in the source file.
	OrderSource Ordering = "source"
	// OrderName sorts by area name, then source order.
	OrderName Ordering = "name"
	// OrderArea puts the smallest polygon first, then source order.
	OrderArea Ordering = "area"
)

// ParseOrdering validates an ordering name. Empty means OrderSource.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderSource, nil
	case OrderSource, OrderName, OrderArea:
		return o, nil
	}
	return "", eris.Errorf("area: unknown ordering %q", s)
}

// AmbiguityError reports a point inside several areas. It is logged and
// counted; the first candidate in the configured ordering is used.
type AmbiguityError struct {
	Point      geo.LatLon
	Chosen     string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("area: point %s falls in %d areas %v, chose %q",
		e.Point, len(e.Candidates), e.Candidates, e.Chosen)
}

// Assignment is the result of locating one point. Area is empty when the
// point is in no area.
type Assignment struct {
	Area       string
	Candidates []string
}

// Assigned reports whether the point fell in at least one area.
func (a Assignment) Assigned() bool {
	return a.Area != ""
}

// Ambiguity returns an *AmbiguityError when the point matched several areas.
func (a Assignment) Ambiguity(p geo.LatLon) *AmbiguityError {
	if len(a.Candidates) < 2 {
		return nil
	}
	return &AmbiguityError{Point: p, Chosen: a.Area, Candidates: a.Candidates}
}

type ring [][2]float64 // lon, lat

type polygon struct {
	shell ring
	holes []ring
}

type indexed struct {
	name  string
	rank  int
	polys []polygon
}

// Locator assigns points to areas. It is read-only after NewLocator.
type Locator struct {
	areas    []indexed
	tree     rtree.RTreeG[int]
	ordering Ordering
}

// NewLocator ranks areas by ordering and indexes their bounding boxes.
func NewLocator(areas []model.AdministrativeArea, ordering Ordering) (*Locator, error) {
	ordering, err := ParseOrdering(string(ordering))
	if err != nil {
		return nil, err
	}

	sizes := make(map[int]float64, len(areas))
	for i, a := range areas {
		sizes[i] = planarArea(a.Geometry)
	}
	idx := make([]int, len(areas))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool {
		a, b := areas[idx[x]], areas[idx[y]]
		switch ordering {
		case OrderName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case OrderArea:
			if sa, sb := sizes[idx[x]], sizes[idx[y]]; sa != sb {
				return sa < sb
			}
		}
		return a.Order < b.Order
	})

	l := &Locator{ordering: ordering}
	for rank, i := range idx {
		a := areas[i]
		if a.Geometry == nil {
			continue
		}
		ia := indexed{name: a.Name, rank: rank}
		lo := [2]float64{math.Inf(1), math.Inf(1)}
		hi := [2]float64{math.Inf(-1), math.Inf(-1)}
		for p := 0; p < a.Geometry.NumPolygons(); p++ {
			src := a.Geometry.Polygon(p)
			if src.NumLinearRings() == 0 {
				continue
			}
			var poly polygon
			for r := 0; r < src.NumLinearRings(); r++ {
				rg := toRing(src.LinearRing(r).Coords())
				if r == 0 {
					poly.shell = rg
					for _, c := range rg {
						lo[0], lo[1] = math.Min(lo[0], c[0]), math.Min(lo[1], c[1])
						hi[0], hi[1] = math.Max(hi[0], c[0]), math.Max(hi[1], c[1])
					}
				} else {
					poly.holes = append(poly.holes, rg)
				}
			}
			ia.polys = append(ia.polys, poly)
		}
		if len(ia.polys) == 0 {
			continue
		}
		l.tree.Insert(lo, hi, len(l.areas))
		l.areas = append(l.areas, ia)
	}
	return l, nil
}

// Len returns the number of indexed areas.
func (l *Locator) Len() int {
	return len(l.areas)
}

// Ordering returns the tie-break ordering in effect.
func (l *Locator) Ordering() Ordering {
	return l.ordering
}

// Locate returns every area containing p, first in the configured ordering.
func (l *Locator) Locate(p geo.LatLon) Assignment {
	pt := [2]float64{p.Lon, p.Lat}
	var hits []int
	l.tree.Search(pt, pt, func(_, _ [2]float64, i int) bool {
		if l.areas[i].contains(p.Lon, p.Lat) {
			hits = append(hits, i)
		}
		return true
	})
	if len(hits) == 0 {
		return Assignment{}
	}
	sort.Slice(hits, func(a, b int) bool { return l.areas[hits[a]].rank < l.areas[hits[b]].rank })

	out := Assignment{Area: l.areas[hits[0]].name}
	if len(hits) > 1 {
		out.Candidates = make([]string, len(hits))
		for i, h := range hits {
			out.Candidates[i] = l.areas[h].name
		}
	}
	return out
}

func (a *indexed) contains(x, y float64) bool {
	for _, poly := range a.polys {
		if !inRing(x, y, poly.shell) {
			continue
		}
		inHole := false
		for _, h := range poly.holes {
			if inRing(x, y, h) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// inRing is an even-odd ray cast.
func inRing(x, y float64, r ring) bool {
	inside := false
	j := len(r) - 1
	for i := 0; i < len(r); i++ {
		xi, yi := r[i][0], r[i][1]
		xj, yj := r[j][0], r[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

func toRing(coords []geom.Coord) ring {
	r := make(ring, len(coords))
	for i, c := range coords {
		r[i] = [2]float64{c[0], c[1]}
	}
	return r
}

// planarArea is the absolute shell-minus-holes area in square degrees, only
// used to rank areas by size.
func planarArea(mp *geom.MultiPolygon) float64 {
	if mp == nil {
		return 0
	}
	total := 0.0
	for p := 0; p < mp.NumPolygons(); p++ {
		poly := mp.Polygon(p)
		for r := 0; r < poly.NumLinearRings(); r++ {
			coords := poly.LinearRing(r).Coords()
			flat := make([]float64, 0, len(coords)*2)
			for _, c := range coords {
				flat = append(flat, c[0], c[1])
			}
			a := math.Abs(signedArea(flat))
			if r == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}
