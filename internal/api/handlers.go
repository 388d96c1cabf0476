package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/lox/co2map/internal/geo"
	"github.com/lox/co2map/internal/insight"
	"github.com/lox/co2map/internal/models"
	"github.com/lox/co2map/internal/pipeline"
	"github.com/lox/co2map/internal/render"
	"github.com/lox/co2map/internal/store"
)

const maxPolygonBytes = 1 << 20

// SummaryResponse is the body of /api/summary and PUT /api/polygon.
type SummaryResponse struct {
	pipeline.Result
	HasPolygon bool                 `json:"has_polygon"`
	Legend     []render.LegendEntry `json:"legend"`
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status   string                     `json:"status"`
	Error    string                     `json:"error,omitempty"`
	Datasets []pipeline.YearDiagnostics `json:"datasets,omitempty"`
	Loads    []LoadRunView              `json:"recent_loads,omitempty"`
}

type LoadRunView struct {
	Year       int    `json:"year"`
	Source     string `json:"source"`
	StartedAt  string `json:"started_at"`
	Success    bool   `json:"success"`
	Attempts   int64  `json:"attempts,omitempty"`
	Records    int64  `json:"records,omitempty"`
	HTTPStatus int64  `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	legend, err := json.Marshal(render.Legend(s.years, s.palette))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		Years  []int
		Legend template.JS
	}{s.years, template.JS(legend)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}

func (s *Server) handlePutPolygon(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolygonBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	polygon, err := geo.ParsePolygon(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.session.Draw(polygon)
	switch {
	case errors.Is(err, pipeline.ErrInvalidPolygon):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, pipeline.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("polygon drawn",
		zap.String("run_id", res.RunID),
		zap.Int("vertices", len(polygon.Vertices)),
		zap.Int("points", len(res.Points)))
	writeJSON(w, http.StatusOK, s.summary(res))
}

func (s *Server) handleDeletePolygon(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.summary(res))
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	res, ok := s.current(w)
	if !ok {
		return
	}

	fc := geo.OverlayCollection(res.Polygon, res.Points, s.palette.ColorFor)

	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		s.logger.Warn("write overlay", zap.Error(err))
	}
}

func (s *Server) handleLegend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, render.Legend(s.years, s.palette))
}

func (s *Server) handleChartImage(w http.ResponseWriter, r *http.Request) {
	res, ok := s.currentResult()
	if !ok {
		s.servePlaceholder(w, render.ChartWidth, render.ChartHeight, "Datasets are still loading")
		return
	}

	data, err := render.RenderChart(res.Averages, s.years, s.palette)
	if err != nil {
		s.logger.Error("render chart", zap.Error(err))
		http.Error(w, "chart unavailable", http.StatusInternalServerError)
		return
	}
	servePNG(w, http.StatusOK, data)
}

func (s *Server) handleOverlayImage(w http.ResponseWriter, r *http.Request) {
	res, ok := s.currentResult()
	if !ok {
		s.servePlaceholder(w, render.OverlayWidth, render.OverlayHeight, "Datasets are still loading")
		return
	}

	var polygon models.Polygon
	if res.Polygon != nil {
		polygon = *res.Polygon
	}
	data, err := render.RenderOverlay(polygon, res.Points, s.years, s.palette)
	if err != nil {
		s.logger.Error("render overlay", zap.Error(err))
		http.Error(w, "overlay unavailable", http.StatusInternalServerError)
		return
	}
	servePNG(w, http.StatusOK, data)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	if s.narrator == nil {
		writeError(w, http.StatusNotFound, "insight disabled: "+insight.ErrDisabled.Error())
		return
	}
	res, ok := s.current(w)
	if !ok {
		return
	}
	if res.Skipped != "" {
		writeError(w, http.StatusConflict, "draw a polygon first")
		return
	}

	summary := insight.Summary{Years: res.Years, Averages: res.Averages, Inside: make(map[int]int, len(res.Diagnostics))}
	for _, d := range res.Diagnostics {
		summary.Inside[d.Year] = d.Inside
	}

	text, err := s.narrator.Narrate(r.Context(), summary)
	if err != nil {
		s.logger.Warn("narrate", zap.String("run_id", res.RunID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": res.RunID, "text": text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	if data := s.session.Data(); data != nil {
		health.Datasets = data.Diagnostics()
	} else if err := s.loadError(); err != nil {
		health.Status = "error"
		health.Error = err.Error()
	} else {
		health.Status = "loading"
	}

	if s.store != nil {
		runs, err := s.store.GetRecentLoadRuns(10)
		if err != nil {
			health.Status = "error"
			health.Error = err.Error()
		}
		for _, run := range runs {
			health.Loads = append(health.Loads, loadRunView(run))
		}
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// currentResult returns the latest result, rerunning the active polygon if
// its result was superseded before publishing. ok is false until data is
// loaded.
func (s *Server) currentResult() (pipeline.Result, bool) {
	data := s.session.Data()
	if data == nil {
		return pipeline.Result{}, false
	}
	if res, ok := s.session.Latest(); ok {
		return res, true
	}
	return data.Run(s.session.Polygon()), true
}

// current is currentResult for JSON endpoints; it writes 503 when nothing is
// loaded.
func (s *Server) current(w http.ResponseWriter) (pipeline.Result, bool) {
	res, ok := s.currentResult()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, pipeline.ErrNotLoaded.Error())
	}
	return res, ok
}

func (s *Server) summary(res pipeline.Result) SummaryResponse {
	return SummaryResponse{
		Result:     res,
		HasPolygon: res.Polygon != nil,
		Legend:     render.Legend(s.years, s.palette),
	}
}

func (s *Server) servePlaceholder(w http.ResponseWriter, width, height int, msg string) {
	data, err := render.RenderPlaceholder(width, height, msg)
	if err != nil {
		http.Error(w, msg, http.StatusServiceUnavailable)
		return
	}
	servePNG(w, http.StatusServiceUnavailable, data)
}

func loadRunView(run store.LoadRun) LoadRunView {
	return LoadRunView{
		Year:       run.Year,
		Source:     run.Source,
		StartedAt:  run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Success:    run.Success,
		Attempts:   run.Attempts.Int64,
		Records:    run.RecordsParsed.Int64,
		HTTPStatus: run.HTTPStatus.Int64,
		Error:      run.ErrorMessage.String,
	}
}

func servePNG(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
