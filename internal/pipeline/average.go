package pipeline

import "github.com/lox/co2map/internal/models"

// Average returns the arithmetic mean of the points' values. It returns false
// for an empty input so "no data" stays distinct from a zero mean.
func Average(points []models.GeoPoint) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points)), true
}
