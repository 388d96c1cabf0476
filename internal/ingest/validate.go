package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/lox/co2map/internal/models"
)

const (
	RejectLatitudeInvalid  = "latitude_invalid"
	RejectLongitudeInvalid = "longitude_invalid"
	RejectCO2Invalid       = "co2_invalid"
)

// ValidateRecord converts a raw row into a GeoPoint. It returns false when any
// of latitude, longitude or co2 is missing, empty or not a finite number.
func ValidateRecord(raw models.RawRecord, year int) (models.GeoPoint, bool) {
	p, reason := checkRecord(raw, year)
	return p, reason == ""
}

// RejectReason reports why ValidateRecord would drop raw, or "" if it is valid.
func RejectReason(raw models.RawRecord) string {
	_, reason := checkRecord(raw, 0)
	return reason
}

func checkRecord(raw models.RawRecord, year int) (models.GeoPoint, string) {
	lat, ok := parseFinite(raw[models.ColumnLatitude])
	if !ok {
		return models.GeoPoint{}, RejectLatitudeInvalid
	}
	lon, ok := parseFinite(raw[models.ColumnLongitude])
	if !ok {
		return models.GeoPoint{}, RejectLongitudeInvalid
	}
	// Negative readings are kept; there is no agreed plausibility bound.
	co2, ok := parseFinite(raw[models.ColumnCO2])
	if !ok {
		return models.GeoPoint{}, RejectCO2Invalid
	}
	return models.GeoPoint{Latitude: lat, Longitude: lon, Value: co2, Year: year}, ""
}

func parseFinite(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// ParseFloat also accepts hex floats; only decimal text is valid here.
	if strings.ContainsAny(s, "xX") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
