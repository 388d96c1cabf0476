// Package pipeline runs validate -> filter -> average for every configured
// year against one polygon.
package pipeline

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/co2map/internal/geo"
	"github.com/lox/co2map/internal/ingest"
	"github.com/lox/co2map/internal/metrics"
	"github.com/lox/co2map/internal/models"
)

// Reasons a run did nothing.
const (
	SkipMissingYear = "missing_year"
	SkipNoPolygon   = "no_polygon"
)

var (
	ErrNotLoaded      = errors.New("datasets not loaded")
	ErrMissingYear    = errors.New("dataset missing a requested year")
	ErrInvalidPolygon = errors.New("polygon needs at least 3 distinct vertices")
)

// YearDiagnostics counts what happened to one year's rows.
type YearDiagnostics struct {
	Year        int            `json:"year"`
	Rows        int            `json:"rows"`
	Valid       int            `json:"valid"`
	Dropped     int            `json:"dropped"`
	Inside      int            `json:"inside"`
	DropReasons map[string]int `json:"drop_reasons,omitempty"`
}

// Result is the output of one run. Every field is freshly allocated.
type Result struct {
	RunID       string             `json:"run_id"`
	Years       []int              `json:"years"`
	Polygon     *models.Polygon    `json:"-"`
	Averages    models.YearAverage `json:"averages"`
	Points      []models.GeoPoint  `json:"-"`
	Diagnostics []YearDiagnostics  `json:"diagnostics"`
	Skipped     string             `json:"skipped,omitempty"`
	Generation  uint64             `json:"generation,omitempty"`
}

// Runner executes the pipeline over raw rows.
type Runner struct {
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger.Named("pipeline")}
}

// Run validates, filters and averages each year in order. It never fails:
// when a year is missing or there is no usable polygon it logs and returns a
// Result with Skipped set and no averages.
func (r *Runner) Run(dataset models.YearDataset, years []int, polygon *models.Polygon) Result {
	start := time.Now()
	res := newResult(years, polygon)

	if reason := r.precheck(dataset, years, polygon); reason != "" {
		res.Skipped = reason
		metrics.PipelineRuns.WithLabelValues("skipped").Inc()
		return res
	}

	for _, year := range years {
		rows := dataset[year]
		diag := YearDiagnostics{Year: year, Rows: len(rows)}

		points := make([]models.GeoPoint, 0, len(rows))
		for _, raw := range rows {
			p, ok := ingest.ValidateRecord(raw, year)
			if !ok {
				diag.countDrop(ingest.RejectReason(raw))
				continue
			}
			points = append(points, p)
		}
		diag.Valid = len(points)

		within := geo.FilterWithin(points, *polygon)
		res.add(year, within, diag)
	}

	r.finish(res, start)
	return res
}

func (r *Runner) precheck(dataset models.YearDataset, years []int, polygon *models.Polygon) string {
	for _, year := range years {
		if _, ok := dataset[year]; !ok {
			r.logger.Warn("dataset missing year, skipping run", zap.Int("year", year))
			return SkipMissingYear
		}
	}
	if polygon == nil || len(polygon.Vertices) == 0 {
		r.logger.Debug("no polygon drawn, skipping run")
		return SkipNoPolygon
	}
	if len(geo.Normalize(*polygon).Vertices) < 3 {
		r.logger.Info("degenerate polygon, skipping run", zap.Int("vertices", len(polygon.Vertices)))
		return SkipNoPolygon
	}
	return ""
}

func (r *Runner) finish(res Result, start time.Time) {
	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	for _, d := range res.Diagnostics {
		for reason, n := range d.DropReasons {
			metrics.RecordsDropped.WithLabelValues(strconv.Itoa(d.Year), reason).Add(float64(n))
		}
		fields := []zap.Field{
			zap.String("run_id", res.RunID),
			zap.Int("year", d.Year),
			zap.Int("rows", d.Rows),
			zap.Int("dropped", d.Dropped),
			zap.Int("inside", d.Inside),
		}
		if avg := res.Averages[d.Year]; avg != nil {
			r.logger.Info("year summarized", append(fields, zap.Float64("average", *avg))...)
		} else {
			r.logger.Warn("no data inside polygon", fields...)
		}
	}
}

func newResult(years []int, polygon *models.Polygon) Result {
	res := Result{
		RunID:       uuid.NewString(),
		Years:       append([]int(nil), years...),
		Averages:    make(models.YearAverage, len(years)),
		Points:      make([]models.GeoPoint, 0),
		Diagnostics: make([]YearDiagnostics, 0, len(years)),
	}
	if polygon != nil {
		p := models.Polygon{Vertices: append([]models.Vertex(nil), polygon.Vertices...)}
		res.Polygon = &p
	}
	return res
}

func (res *Result) add(year int, within []models.GeoPoint, diag YearDiagnostics) {
	diag.Inside = len(within)
	res.Points = append(res.Points, within...)
	if avg, ok := Average(within); ok {
		res.Averages[year] = &avg
	} else {
		res.Averages[year] = nil
	}
	res.Diagnostics = append(res.Diagnostics, diag)
}

func (d *YearDiagnostics) countDrop(reason string) {
	d.Dropped++
	if d.DropReasons == nil {
		d.DropReasons = make(map[string]int)
	}
	d.DropReasons[reason]++
}
