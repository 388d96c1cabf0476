// Package geo holds the planar point-in-polygon filter. Coordinates are raw
// degrees treated as a flat (longitude, latitude) plane.
package geo

import (
	"errors"

	"github.com/lox/co2map/internal/models"
)

// ErrDegenerate is returned for rings with fewer than three distinct vertices.
var ErrDegenerate = errors.New("polygon has fewer than 3 vertices")

// Containment decides whether a (lon, lat) position lies inside a shape.
type Containment interface {
	Contains(lon, lat float64) bool
}

// Bounds is an axis-aligned box in (lon, lat) space.
type Bounds struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

func (b Bounds) contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Ring is a prepared simple polygon ring using the even-odd rule. Points on an
// edge or vertex are outside.
type Ring struct {
	vertices []models.Vertex
	bounds   Bounds
}

// NewRing prepares p for containment tests. A closing vertex equal to the
// first one is dropped before counting.
func NewRing(p models.Polygon) (*Ring, error) {
	vs := Normalize(p).Vertices
	if len(vs) < 3 {
		return nil, ErrDegenerate
	}

	b := Bounds{MinLon: vs[0].Lon, MaxLon: vs[0].Lon, MinLat: vs[0].Lat, MaxLat: vs[0].Lat}
	for _, v := range vs[1:] {
		b.MinLon = min(b.MinLon, v.Lon)
		b.MaxLon = max(b.MaxLon, v.Lon)
		b.MinLat = min(b.MinLat, v.Lat)
		b.MaxLat = max(b.MaxLat, v.Lat)
	}
	return &Ring{vertices: vs, bounds: b}, nil
}

// Normalize returns a copy of p without a repeated closing vertex.
func Normalize(p models.Polygon) models.Polygon {
	vs := append([]models.Vertex(nil), p.Vertices...)
	if n := len(vs); n > 1 && vs[0] == vs[n-1] {
		vs = vs[:n-1]
	}
	return models.Polygon{Vertices: vs}
}

// Bounds returns the ring's bounding box.
func (r *Ring) Bounds() Bounds { return r.bounds }

func (r *Ring) Contains(lon, lat float64) bool {
	if !r.bounds.contains(lon, lat) {
		return false
	}

	vs := r.vertices
	inside := false
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		a, b := vs[j], vs[i]
		if onSegment(a, b, lon, lat) {
			return false
		}
		if (b.Lat > lat) != (a.Lat > lat) {
			x := (a.Lon-b.Lon)*(lat-b.Lat)/(a.Lat-b.Lat) + b.Lon
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b models.Vertex, lon, lat float64) bool {
	cross := (b.Lon-a.Lon)*(lat-a.Lat) - (b.Lat-a.Lat)*(lon-a.Lon)
	if cross != 0 {
		return false
	}
	return lon >= min(a.Lon, b.Lon) && lon <= max(a.Lon, b.Lon) &&
		lat >= min(a.Lat, b.Lat) && lat <= max(a.Lat, b.Lat)
}

// FilterWithin returns the points strictly inside polygon, in input order.
// Degenerate polygons contain nothing. points is not modified.
func FilterWithin(points []models.GeoPoint, polygon models.Polygon) []models.GeoPoint {
	ring, err := NewRing(polygon)
	if err != nil {
		return []models.GeoPoint{}
	}
	return Filter(points, ring)
}

// Filter returns the points c contains, in input order.
func Filter(points []models.GeoPoint, c Containment) []models.GeoPoint {
	out := make([]models.GeoPoint, 0)
	for _, p := range points {
		if c.Contains(p.Longitude, p.Latitude) {
			out = append(out, p)
		}
	}
	return out
}
