// Package spatial answers nearest-distance and radius-count queries over
// amenity points. The tree prunes in projected meters; every reported
// distance is a haversine distance.
package spatial

import (
	"math"

	"github.com/tidwall/rtree"

	"github.com/sells-group/geoenrich/internal/geo"
)

// slack bounds the relative disagreement between projected and great-circle
// distance over a city extent.
const slack = 0.01

// Index is a read-only point index for one amenity category.
type Index struct {
	proj   geo.Projector
	points []geo.LatLon
	tree   rtree.RTreeG[int]
}

// Build indexes points on the projector's plane.
func Build(proj geo.Projector, points []geo.LatLon) *Index {
	ix := &Index{proj: proj, points: points}
	for i, p := range points {
		xy := proj.Project(p)
		pt := [2]float64{xy.X, xy.Y}
		ix.tree.Insert(pt, pt, i)
	}
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	return len(ix.points)
}

// NearestDistance returns the haversine distance in meters to the closest
// point. ok is false only when the index is empty.
func (ix *Index) NearestDistance(p geo.LatLon) (dist float64, ok bool) {
	if len(ix.points) == 0 {
		return 0, false
	}
	q := ix.proj.Project(p)
	best := math.Inf(1)

	ix.tree.Nearby(
		func(lo, hi [2]float64, _ int, _ bool) float64 {
			return boxDist(q, lo, hi)
		},
		func(_, _ [2]float64, i int, planar float64) bool {
			if planar*(1-slack) > best {
				return false
			}
			if d := geo.Haversine(p, ix.points[i]); d < best {
				best = d
			}
			return true
		},
	)
	return best, true
}

// CountWithin returns the number of points within radius meters of p.
func (ix *Index) CountWithin(p geo.LatLon, radius float64) int {
	return ix.CountsWithin(p, []float64{radius})[0]
}

// CountsWithin counts points within each radius using one tree search at the
// largest radius. Counts never decrease as the radius grows.
func (ix *Index) CountsWithin(p geo.LatLon, radii []float64) []int {
	counts := make([]int, len(radii))
	if len(ix.points) == 0 || len(radii) == 0 {
		return counts
	}
	maxR := 0.0
	for _, r := range radii {
		maxR = math.Max(maxR, r)
	}

	q := ix.proj.Project(p)
	reach := maxR*(1+slack) + 1
	ix.tree.Search(
		[2]float64{q.X - reach, q.Y - reach},
		[2]float64{q.X + reach, q.Y + reach},
		func(_, _ [2]float64, i int) bool {
			d := geo.Haversine(p, ix.points[i])
			for j, r := range radii {
				if d <= r {
					counts[j]++
				}
			}
			return true
		},
	)
	return counts
}

// boxDist is the planar distance from q to the rectangle [lo, hi].
func boxDist(q geo.XY, lo, hi [2]float64) float64 {
	dx := 0.0
	if q.X < lo[0] {
		dx = lo[0] - q.X
	} else if q.X > hi[0] {
		dx = q.X - hi[0]
	}
	dy := 0.0
	if q.Y < lo[1] {
		dy = lo[1] - q.Y
	} else if q.Y > hi[1] {
		dy = q.Y - hi[1]
	}
	return math.Hypot(dx, dy)
}
