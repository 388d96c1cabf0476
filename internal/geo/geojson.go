package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lox/co2map/internal/models"
)

var ErrNoPolygon = errors.New("no polygon geometry in GeoJSON")

// ParsePolygon accepts a Polygon geometry, a Feature wrapping one, or a
// FeatureCollection. For collections the last polygon feature wins, matching
// a draw layer where each new shape replaces the previous one.
func ParsePolygon(data []byte) (models.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return models.Polygon{}, fmt.Errorf("decode geojson: %w", err)
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return models.Polygon{}, fmt.Errorf("decode feature: %w", err)
		}
		return polygonFromGeometry(f.Geometry)
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return models.Polygon{}, fmt.Errorf("decode feature collection: %w", err)
		}
		for i := len(fc.Features) - 1; i >= 0; i-- {
			if _, ok := fc.Features[i].Geometry.(orb.Polygon); ok {
				return polygonFromGeometry(fc.Features[i].Geometry)
			}
		}
		return models.Polygon{}, ErrNoPolygon
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return models.Polygon{}, fmt.Errorf("decode geometry: %w", err)
		}
		return polygonFromGeometry(g.Geometry())
	}
}

func polygonFromGeometry(g orb.Geometry) (models.Polygon, error) {
	poly, ok := g.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return models.Polygon{}, ErrNoPolygon
	}
	if len(poly) > 1 {
		return models.Polygon{}, errors.New("polygons with holes are not supported")
	}

	vs := make([]models.Vertex, 0, len(poly[0]))
	for _, pt := range poly[0] {
		vs = append(vs, models.Vertex{Lon: pt.Lon(), Lat: pt.Lat()})
	}
	return models.Polygon{Vertices: vs}, nil
}

// OrbPolygon converts p to a single closed ring.
func OrbPolygon(p models.Polygon) orb.Polygon {
	vs := Normalize(p).Vertices
	ring := make(orb.Ring, 0, len(vs)+1)
	for _, v := range vs {
		ring = append(ring, orb.Point{v.Lon, v.Lat})
	}
	if len(vs) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// PointFeature encodes a measurement as a GeoJSON Point feature.
func PointFeature(p models.GeoPoint, color string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
	f.Properties["co2"] = p.Value
	f.Properties["year"] = p.Year
	f.Properties["color"] = color
	return f
}

// OverlayCollection holds the selection polygon, when there is one, followed
// by every point inside it colored by year.
func OverlayCollection(polygon *models.Polygon, points []models.GeoPoint, colorFor func(year int) string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if polygon != nil {
		f := geojson.NewFeature(OrbPolygon(*polygon))
		f.Properties["role"] = "selection"
		fc.Append(f)
	}
	for _, p := range points {
		fc.Append(PointFeature(p, colorFor(p.Year)))
	}
	return fc
}
