package render

import "strconv"

// LegendEntry is one row of the map legend.
type LegendEntry struct {
	Year  int    `json:"year"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Legend lists the years in display order with their colors.
func Legend(years []int, palette Palette) []LegendEntry {
	out := make([]LegendEntry, 0, len(years))
	for _, y := range years {
		out = append(out, LegendEntry{
			Year:  y,
			Label: strconv.Itoa(y) + " CO2",
			Color: palette.ColorFor(y),
		})
	}
	return out
}
