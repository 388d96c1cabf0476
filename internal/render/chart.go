package render

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/lox/co2map/internal/models"
)

const (
	ChartWidth  = 640
	ChartHeight = 400

	noDataLabel = "no data"
)

// ChartBar is one year's bar as shown on the chart.
type ChartBar struct {
	Year    int
	Value   float64
	HasData bool
	Color   string
}

// ChartBars orders averages by years. Years without data keep HasData false
// so they are labelled rather than drawn as a zero-height bar.
func ChartBars(averages models.YearAverage, years []int, palette Palette) []ChartBar {
	bars := make([]ChartBar, 0, len(years))
	for _, y := range years {
		bar := ChartBar{Year: y, Color: palette.ColorFor(y)}
		if v := averages[y]; v != nil {
			bar.Value = *v
			bar.HasData = true
		}
		bars = append(bars, bar)
	}
	return bars
}

// Label is the x-axis label for the bar.
func (b ChartBar) Label() string {
	if !b.HasData {
		return fmt.Sprintf("%d (%s)", b.Year, noDataLabel)
	}
	return strconv.Itoa(b.Year)
}

// RenderChart draws the per-year comparison as a PNG bar chart. When no year
// has data a placeholder image is returned instead of an empty chart.
func RenderChart(averages models.YearAverage, years []int, palette Palette) ([]byte, error) {
	bars := ChartBars(averages, years, palette)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		if b.HasData {
			lo = math.Min(lo, b.Value)
			hi = math.Max(hi, b.Value)
		}
	}
	if math.IsInf(lo, 1) {
		return RenderPlaceholder(ChartWidth, ChartHeight, "No CO2 data in selected area")
	}

	yRange := paddedRange(lo, hi)

	values := make([]chart.Value, 0, len(bars))
	for _, b := range bars {
		v := chart.Value{Label: b.Label(), Value: b.Value}
		if b.HasData {
			fill := drawing.ColorFromHex(strings.TrimPrefix(b.Color, "#"))
			v.Style = chart.Style{FillColor: fill.WithAlpha(200), StrokeColor: fill, StrokeWidth: 1}
		} else {
			v.Value = yRange.Min
			v.Style = chart.Style{FillColor: drawing.ColorTransparent, StrokeColor: drawing.ColorTransparent}
		}
		values = append(values, v)
	}

	graph := chart.BarChart{
		Title:      "Average CO2 (ppm) in selected area",
		Width:      ChartWidth,
		Height:     ChartHeight,
		BarWidth:   80,
		BarSpacing: 60,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		YAxis: chart.YAxis{
			Range: yRange,
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return strconv.FormatFloat(f, 'f', 1, 64)
				}
				return ""
			},
		},
		Bars: values,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// paddedRange leaves headroom around the bars so small year-over-year
// differences in ppm stay visible.
func paddedRange(lo, hi float64) *chart.ContinuousRange {
	pad := (hi - lo) * 0.5
	if pad < 1 {
		pad = 1
	}
	return &chart.ContinuousRange{Min: math.Floor(lo - pad), Max: math.Ceil(hi + pad)}
}
