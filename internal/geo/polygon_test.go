package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/co2map/internal/models"
)

func square() models.Polygon {
	return models.Polygon{Vertices: []models.Vertex{
		{Lon: 0, Lat: 0}, {Lon: 0, Lat: 10}, {Lon: 10, Lat: 10}, {Lon: 10, Lat: 0},
	}}
}

func pt(lon, lat float64) models.GeoPoint {
	return models.GeoPoint{Longitude: lon, Latitude: lat, Value: 400, Year: 2019}
}

func TestFilterWithin_Square(t *testing.T) {
	points := []models.GeoPoint{pt(5, 5), pt(20, 20)}

	got := FilterWithin(points, square())
	assert.Equal(t, []models.GeoPoint{pt(5, 5)}, got)
}

func TestFilterWithin_DegeneratePolygon(t *testing.T) {
	points := []models.GeoPoint{pt(0, 0), pt(1, 1), pt(5, 5)}

	for _, poly := range []models.Polygon{
		{},
		{Vertices: []models.Vertex{{Lon: 0, Lat: 0}}},
		{Vertices: []models.Vertex{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 10}}},
		// closed two-vertex ring: three positions, two distinct
		{Vertices: []models.Vertex{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 10}, {Lon: 0, Lat: 0}}},
	} {
		got := FilterWithin(points, poly)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestFilterWithin_BoundaryIsOutside(t *testing.T) {
	points := []models.GeoPoint{
		pt(0, 5),   // left edge
		pt(5, 10),  // top edge
		pt(10, 10), // vertex
		pt(10, 3),  // right edge
		pt(5, 0),   // bottom edge
		pt(0.0001, 5),
	}

	got := FilterWithin(points, square())
	assert.Equal(t, []models.GeoPoint{pt(0.0001, 5)}, got)
}

func TestFilterWithin_ClosedRingMatchesOpenRing(t *testing.T) {
	closed := square()
	closed.Vertices = append(closed.Vertices, closed.Vertices[0])
	points := []models.GeoPoint{pt(1, 1), pt(9, 9), pt(-1, 5), pt(5, 11)}

	assert.Equal(t, FilterWithin(points, square()), FilterWithin(points, closed))
}

func TestFilterWithin_Concave(t *testing.T) {
	// U shape open at the top between x=3 and x=7.
	u := models.Polygon{Vertices: []models.Vertex{
		{Lon: 0, Lat: 0}, {Lon: 10, Lat: 0}, {Lon: 10, Lat: 10}, {Lon: 7, Lat: 10},
		{Lon: 7, Lat: 3}, {Lon: 3, Lat: 3}, {Lon: 3, Lat: 10}, {Lon: 0, Lat: 10},
	}}
	points := []models.GeoPoint{pt(1, 8), pt(5, 8), pt(5, 1), pt(9, 9)}

	got := FilterWithin(points, u)
	assert.Equal(t, []models.GeoPoint{pt(1, 8), pt(5, 1), pt(9, 9)}, got)
}

func TestFilterWithin_PreservesOrderAndInput(t *testing.T) {
	points := []models.GeoPoint{pt(9, 9), pt(50, 50), pt(1, 1), pt(5, 5)}
	before := append([]models.GeoPoint(nil), points...)

	got := FilterWithin(points, square())
	assert.Equal(t, []models.GeoPoint{pt(9, 9), pt(1, 1), pt(5, 5)}, got)
	assert.Equal(t, before, points)
}

func TestNewRing(t *testing.T) {
	_, err := NewRing(models.Polygon{Vertices: []models.Vertex{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 1}}})
	assert.ErrorIs(t, err, ErrDegenerate)

	ring, err := NewRing(square())
	require.NoError(t, err)
	assert.Equal(t, Bounds{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}, ring.Bounds())
}

func TestIndexWithin_MatchesFilter(t *testing.T) {
	var points []models.GeoPoint
	for lon := -5.0; lon <= 15; lon += 0.5 {
		for lat := -5.0; lat <= 15; lat += 0.5 {
			points = append(points, pt(lon, lat))
		}
	}
	tri := models.Polygon{Vertices: []models.Vertex{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 2}, {Lon: 4, Lat: 9}}}
	ring, err := NewRing(tri)
	require.NoError(t, err)

	ix := NewIndex(points)
	assert.Equal(t, len(points), ix.Len())
	assert.Equal(t, FilterWithin(points, tri), ix.Within(ring))
}
