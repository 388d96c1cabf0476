package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/co2map/internal/geo"
	"github.com/lox/co2map/internal/ingest"
	"github.com/lox/co2map/internal/metrics"
	"github.com/lox/co2map/internal/models"
)

type preparedYear struct {
	index *geo.Index
	diag  YearDiagnostics
}

// Prepared is a loaded dataset validated once and indexed per year, so
// repeated draws only pay for filtering. Run gives the same averages and
// points as Runner.Run over the raw rows.
type Prepared struct {
	runner *Runner
	years  []int
	byYear map[int]preparedYear
}

// Prepare validates every row of the requested years. Dropped-row counts are
// reported to metrics here, once per load.
func (r *Runner) Prepare(dataset models.YearDataset, years []int) (*Prepared, error) {
	p := &Prepared{
		runner: r,
		years:  append([]int(nil), years...),
		byYear: make(map[int]preparedYear, len(years)),
	}

	for _, year := range years {
		rows, ok := dataset[year]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrMissingYear, year)
		}

		diag := YearDiagnostics{Year: year, Rows: len(rows)}
		points := make([]models.GeoPoint, 0, len(rows))
		for _, raw := range rows {
			pt, ok := ingest.ValidateRecord(raw, year)
			if !ok {
				diag.countDrop(ingest.RejectReason(raw))
				continue
			}
			points = append(points, pt)
		}
		diag.Valid = len(points)

		for reason, n := range diag.DropReasons {
			metrics.RecordsDropped.WithLabelValues(strconv.Itoa(year), reason).Add(float64(n))
		}
		r.logger.Info("year prepared",
			zap.Int("year", year), zap.Int("rows", diag.Rows), zap.Int("valid", diag.Valid), zap.Int("dropped", diag.Dropped))

		p.byYear[year] = preparedYear{index: geo.NewIndex(points), diag: diag}
	}
	return p, nil
}

// Years returns the configured years in run order.
func (p *Prepared) Years() []int { return append([]int(nil), p.years...) }

// Diagnostics returns the per-year validation counts.
func (p *Prepared) Diagnostics() []YearDiagnostics {
	out := make([]YearDiagnostics, 0, len(p.years))
	for _, y := range p.years {
		out = append(out, p.byYear[y].diag)
	}
	return out
}

// Run filters and averages every prepared year against polygon.
func (p *Prepared) Run(polygon *models.Polygon) Result {
	start := time.Now()
	res := newResult(p.years, polygon)

	var ring *geo.Ring
	if polygon != nil {
		ring, _ = geo.NewRing(*polygon)
	}
	if ring == nil {
		p.runner.logger.Debug("no usable polygon, skipping run")
		res.Skipped = SkipNoPolygon
		metrics.PipelineRuns.WithLabelValues("skipped").Inc()
		return res
	}

	for _, year := range p.years {
		py := p.byYear[year]
		diag := py.diag
		diag.DropReasons = copyCounts(diag.DropReasons)
		res.add(year, py.index.Within(ring), diag)
	}

	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	return res
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
