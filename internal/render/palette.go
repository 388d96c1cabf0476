package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// DefaultYearColors are the colors used when a dataset does not set one.
var DefaultYearColors = map[int]string{
	2019: "#36a2eb", // blue
	2023: "#ff6384", // red
}

// fallbackColors is cycled by year for years with no configured color.
var fallbackColors = []string{
	"#4bc0c0",
	"#ff9f40",
	"#9966ff",
	"#ffcd56",
	"#c9cbcf",
}

// Palette maps years to marker and bar colors. ColorFor is total: every year
// gets a color, the same one each time.
type Palette struct {
	colors map[int]string
}

// NewPalette builds a palette from configured colors layered over the defaults.
func NewPalette(configured map[int]string) Palette {
	colors := make(map[int]string, len(DefaultYearColors)+len(configured))
	for y, c := range DefaultYearColors {
		colors[y] = c
	}
	for y, c := range configured {
		if c != "" {
			colors[y] = c
		}
	}
	return Palette{colors: colors}
}

func (p Palette) ColorFor(year int) string {
	if c, ok := p.colors[year]; ok {
		return c
	}
	i := year % len(fallbackColors)
	if i < 0 {
		i += len(fallbackColors)
	}
	return fallbackColors[i]
}

// RGBA parses the year's hex color.
func (p Palette) RGBA(year int) color.RGBA {
	c, err := ParseHex(p.ColorFor(year))
	if err != nil {
		return color.RGBA{128, 128, 128, 255}
	}
	return c
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
