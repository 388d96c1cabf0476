package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/co2map/internal/models"
)

const (
	OverlayWidth  = 800
	OverlayHeight = 600

	overlayMargin = 40
	markerRadius  = 3
)

var (
	backgroundColor = color.RGBA{250, 250, 250, 255}
	outlineColor    = color.RGBA{51, 136, 255, 255}
	textColor       = color.RGBA{40, 40, 40, 255}
	mutedColor      = color.RGBA{120, 120, 120, 255}
)

// RenderOverlay draws the polygon outline and one colored marker per point on
// a plain equirectangular canvas framed to the polygon, with a year legend.
func RenderOverlay(polygon models.Polygon, points []models.GeoPoint, years []int, palette Palette) ([]byte, error) {
	if len(polygon.Vertices) == 0 {
		return RenderPlaceholder(OverlayWidth, OverlayHeight, "Draw a polygon to see measurements")
	}

	img := image.NewRGBA(image.Rect(0, 0, OverlayWidth, OverlayHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	proj := newProjection(polygon)

	vs := polygon.Vertices
	for i := range vs {
		a, b := vs[i], vs[(i+1)%len(vs)]
		ax, ay := proj.xy(a.Lon, a.Lat)
		bx, by := proj.xy(b.Lon, b.Lat)
		drawLine(img, ax, ay, bx, by, outlineColor)
	}

	for _, p := range points {
		x, y := proj.xy(p.Longitude, p.Latitude)
		drawDot(img, x, y, markerRadius, palette.RGBA(p.Year))
	}

	counts := make(map[int]int, len(years))
	for _, p := range points {
		counts[p.Year]++
	}
	drawLegend(img, years, counts, palette)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPlaceholder returns a blank PNG carrying a single message.
func RenderPlaceholder(width, height int, message string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	w := font.MeasureString(face, message).Round()
	drawText(img, message, (width-w)/2, height/2, mutedColor, face)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

type projection struct {
	minLon, maxLat float64
	scale          float64
	offX, offY     float64
}

func newProjection(polygon models.Polygon) projection {
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	for _, v := range polygon.Vertices {
		minLon, maxLon = math.Min(minLon, v.Lon), math.Max(maxLon, v.Lon)
		minLat, maxLat = math.Min(minLat, v.Lat), math.Max(maxLat, v.Lat)
	}

	w := float64(OverlayWidth - 2*overlayMargin)
	h := float64(OverlayHeight - 2*overlayMargin)
	spanLon := math.Max(maxLon-minLon, 1e-9)
	spanLat := math.Max(maxLat-minLat, 1e-9)
	scale := math.Min(w/spanLon, h/spanLat)

	return projection{
		minLon: minLon,
		maxLat: maxLat,
		scale:  scale,
		offX:   overlayMargin + (w-spanLon*scale)/2,
		offY:   overlayMargin + (h-spanLat*scale)/2,
	}
}

func (p projection) xy(lon, lat float64) (int, int) {
	x := p.offX + (lon-p.minLon)*p.scale
	y := p.offY + (p.maxLat-lat)*p.scale
	return int(math.Round(x)), int(math.Round(y))
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawDot(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.SetRGBA(cx+x, cy+y, c)
			}
		}
	}
}

func drawLegend(img *image.RGBA, years []int, counts map[int]int, palette Palette) {
	face := basicfont.Face7x13
	x, y := 12, 18
	for _, year := range years {
		drawDot(img, x+4, y-4, 5, palette.RGBA(year))
		label := strconv.Itoa(year) + " (" + strconv.Itoa(counts[year]) + " points)"
		drawText(img, label, x+16, y, textColor, face)
		y += 18
	}
}

// drawText draws text with its baseline at (x, y).
func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
