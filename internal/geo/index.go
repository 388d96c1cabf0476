package geo

import (
	"sort"

	"github.com/dhconnelly/rtreego"

	"github.com/lox/co2map/internal/models"
)

const (
	treeMinChildren = 25
	treeMaxChildren = 50

	// pointTolerance gives each point a tiny box so it can live in the tree.
	pointTolerance = 1e-9
)

type indexedPoint struct {
	pos  int
	rect rtreego.Rect
}

func (p *indexedPoint) Bounds() rtreego.Rect { return p.rect }

// Index is an R-tree over one year's points. Within gives the same result as
// Filter, using the tree only to skip points outside the polygon's bounds.
type Index struct {
	tree   *rtreego.Rtree
	points []models.GeoPoint
}

func NewIndex(points []models.GeoPoint) *Index {
	tree := rtreego.NewTree(2, treeMinChildren, treeMaxChildren)
	for i, p := range points {
		pt := rtreego.Point{p.Longitude, p.Latitude}
		tree.Insert(&indexedPoint{pos: i, rect: pt.ToRect(pointTolerance)})
	}
	return &Index{tree: tree, points: points}
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// Within returns the indexed points inside ring, in original order.
func (ix *Index) Within(ring *Ring) []models.GeoPoint {
	b := ring.Bounds()
	rect, err := rtreego.NewRect(
		rtreego.Point{b.MinLon - pointTolerance, b.MinLat - pointTolerance},
		[]float64{b.MaxLon - b.MinLon + 2*pointTolerance, b.MaxLat - b.MinLat + 2*pointTolerance},
	)
	if err != nil {
		return Filter(ix.points, ring)
	}

	hits := ix.tree.SearchIntersect(rect)
	positions := make([]int, 0, len(hits))
	for _, h := range hits {
		positions = append(positions, h.(*indexedPoint).pos)
	}
	sort.Ints(positions)

	out := make([]models.GeoPoint, 0)
	for _, pos := range positions {
		p := ix.points[pos]
		if ring.Contains(p.Longitude, p.Latitude) {
			out = append(out, p)
		}
	}
	return out
}
