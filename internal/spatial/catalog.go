package spatial

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/geo"
	"github.com/sells-group/geoenrich/internal/model"
)

// ErrEmptyCategory marks a configured category with no amenity points. It is a
// data-coverage fact: nearest distances are null and counts are zero.
var ErrEmptyCategory = eris.New("spatial: category has no amenities")

// Catalog holds one Index per configured category.
type Catalog struct {
	categories []model.Category
	indexes    map[model.Category]*Index
	ignored    int
}

// BuildCatalog groups amenities by category and builds an index for each of
// categories. Amenities in other categories are ignored and counted.
func BuildCatalog(proj geo.Projector, amenities []model.AmenityPoint, categories []model.Category) *Catalog {
	log := zap.L().With(zap.String("component", "spatial"))

	grouped := make(map[model.Category][]geo.LatLon, len(categories))
	for _, c := range categories {
		grouped[c] = nil
	}
	c := &Catalog{
		categories: append([]model.Category(nil), categories...),
		indexes:    make(map[model.Category]*Index, len(categories)),
	}
	for _, a := range amenities {
		pts, ok := grouped[a.Category]
		if !ok {
			c.ignored++
			continue
		}
		grouped[a.Category] = append(pts, a.Location)
	}

	for _, cat := range c.categories {
		c.indexes[cat] = Build(proj, grouped[cat])
		if len(grouped[cat]) == 0 {
			log.Warn("amenity category is empty", zap.String("category", string(cat)))
			continue
		}
		log.Debug("built amenity index",
			zap.String("category", string(cat)),
			zap.Int("points", len(grouped[cat])),
		)
	}
	if c.ignored > 0 {
		log.Debug("amenities outside configured categories ignored", zap.Int("count", c.ignored))
	}
	return c
}

// Categories returns the configured categories in order.
func (c *Catalog) Categories() []model.Category {
	return c.categories
}

// Index returns the index for cat, or nil when cat is not configured.
func (c *Catalog) Index(cat model.Category) *Index {
	return c.indexes[cat]
}

// Check returns ErrEmptyCategory when cat has no points.
func (c *Catalog) Check(cat model.Category) error {
	ix := c.indexes[cat]
	if ix == nil || ix.Len() == 0 {
		return ErrEmptyCategory
	}
	return nil
}

// EmptyCategories lists configured categories with no points.
func (c *Catalog) EmptyCategories() []model.Category {
	var out []model.Category
	for _, cat := range c.categories {
		if c.Check(cat) != nil {
			out = append(out, cat)
		}
	}
	return out
}

// Ignored returns the number of amenities outside the configured categories.
func (c *Catalog) Ignored() int {
	return c.ignored
}
