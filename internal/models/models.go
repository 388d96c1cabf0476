package models

// Column names every input row must carry.
const (
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
	ColumnCO2       = "co2"
)

// RawRecord is one CSV row keyed by header name.
type RawRecord map[string]string

// GeoPoint is a validated measurement. Value is the CO2 reading in ppm.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Value     float64 `json:"co2"`
	Year      int     `json:"year"`
}

// Vertex is a polygon corner in (longitude, latitude) order.
type Vertex struct {
	Lon float64
	Lat float64
}

// Polygon is a single simple ring. The closing vertex may or may not repeat
// the first one.
type Polygon struct {
	Vertices []Vertex
}

// YearDataset maps each configured year to its raw rows.
type YearDataset map[int][]RawRecord

// YearAverage maps each year to its mean reading; nil means no points fell
// inside the polygon for that year.
type YearAverage map[int]*float64

// Dataset describes where one year of measurements is loaded from.
type Dataset struct {
	Year   int
	Source string // local path, http(s):// or ftp:// URL
	Color  string // hex, e.g. "#36a2eb"
}
