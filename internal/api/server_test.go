package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/co2map/internal/api"
	"github.com/lox/co2map/internal/insight"
	"github.com/lox/co2map/internal/models"
	"github.com/lox/co2map/internal/pipeline"
	"github.com/lox/co2map/internal/render"
	"github.com/lox/co2map/internal/store"
)

var years = []int{2019, 2023}

const squareGeoJSON = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon",
	"coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}}`

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func testDataset() models.YearDataset {
	return models.YearDataset{
		2019: {
			{"latitude": "5", "longitude": "5", "co2": "400"},
			{"latitude": "50", "longitude": "50", "co2": "999"},
			{"latitude": "", "longitude": "5", "co2": "410"},
		},
		2023: {
			{"latitude": "20", "longitude": "20", "co2": "420"},
		},
	}
}

type testServer struct {
	srv     *api.Server
	session *pipeline.Session
	handler http.Handler
}

func newTestServer(t *testing.T, loaded bool) *testServer {
	t.Helper()
	session := pipeline.NewSession(nil)
	if loaded {
		data, err := pipeline.NewRunner(nil).Prepare(testDataset(), years)
		require.NoError(t, err)
		session.SetData(data)
	}
	srv := api.NewServer(session, setupTestStore(t), ":0", years, render.NewPalette(nil), nil)
	return &testServer{srv: srv, session: session, handler: srv.Handler()}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

type summaryBody struct {
	RunID       string              `json:"run_id"`
	Years       []int               `json:"years"`
	Averages    map[string]*float64 `json:"averages"`
	Skipped     string              `json:"skipped"`
	HasPolygon  bool                `json:"has_polygon"`
	Diagnostics []struct {
		Year    int `json:"year"`
		Rows    int `json:"rows"`
		Dropped int `json:"dropped"`
		Inside  int `json:"inside"`
	} `json:"diagnostics"`
	Legend []render.LegendEntry `json:"legend"`
}

func decodeSummary(t *testing.T, w *httptest.ResponseRecorder) summaryBody {
	t.Helper()
	var body summaryBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPutPolygon(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeSummary(t, w)
	assert.True(t, body.HasPolygon)
	assert.Empty(t, body.Skipped)
	assert.Equal(t, years, body.Years)
	require.NotNil(t, body.Averages["2019"])
	assert.Equal(t, 400.0, *body.Averages["2019"])
	assert.Contains(t, body.Averages, "2023")
	assert.Nil(t, body.Averages["2023"])

	require.Len(t, body.Diagnostics, 2)
	assert.Equal(t, 3, body.Diagnostics[0].Rows)
	assert.Equal(t, 1, body.Diagnostics[0].Dropped)
	assert.Equal(t, 1, body.Diagnostics[0].Inside)
	assert.Len(t, body.Legend, 2)

	summary := decodeSummary(t, ts.do(http.MethodGet, "/api/summary", ""))
	assert.Equal(t, body.RunID, summary.RunID)
}

func TestPutPolygon_Errors(t *testing.T) {
	tests := []struct {
		name   string
		loaded bool
		body   string
		want   int
	}{
		{"not geojson", true, `not json`, http.StatusBadRequest},
		{"point geometry", true, `{"type":"Point","coordinates":[1,2]}`, http.StatusBadRequest},
		{"two vertices", true, `{"type":"Polygon","coordinates":[[[0,0],[1,1],[0,0]]]}`, http.StatusUnprocessableEntity},
		{"not loaded", false, squareGeoJSON, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.loaded)
			w := ts.do(http.MethodPut, "/api/polygon", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestDegeneratePolygonKeepsPreviousSelection(t *testing.T) {
	ts := newTestServer(t, true)
	first := decodeSummary(t, ts.do(http.MethodPut, "/api/polygon", squareGeoJSON))

	w := ts.do(http.MethodPut, "/api/polygon", `{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	summary := decodeSummary(t, ts.do(http.MethodGet, "/api/summary", ""))
	assert.Equal(t, first.RunID, summary.RunID)
	assert.True(t, summary.HasPolygon)
}

func TestDeletePolygon(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)

	w := ts.do(http.MethodDelete, "/api/polygon", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	summary := decodeSummary(t, ts.do(http.MethodGet, "/api/summary", ""))
	assert.False(t, summary.HasPolygon)
	assert.Equal(t, pipeline.SkipNoPolygon, summary.Skipped)
}

func TestSummary_NotLoaded(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(http.MethodGet, "/api/summary", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOverlayGeoJSON(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)

	w := ts.do(http.MethodGet, "/api/overlay", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, "Point", fc.Features[1].Geometry.Type)
	assert.JSONEq(t, `[5,5]`, string(fc.Features[1].Geometry.Coordinates))
	assert.Equal(t, "#36a2eb", fc.Features[1].Properties["color"])
	assert.Equal(t, 400.0, fc.Features[1].Properties["co2"])
}

func TestImages(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		draw   bool
		loaded bool
		code   int
	}{
		{"chart without polygon", "/chart.png", false, true, http.StatusOK},
		{"chart with polygon", "/chart.png", true, true, http.StatusOK},
		{"chart loading", "/chart.png", false, false, http.StatusServiceUnavailable},
		{"overlay with polygon", "/overlay.png", true, true, http.StatusOK},
		{"overlay loading", "/overlay.png", false, false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.loaded)
			if tt.draw {
				ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)
			}
			w := ts.do(http.MethodGet, tt.path, "")
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
			_, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
			assert.NoError(t, err)
		})
	}
}

func TestLegendEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(http.MethodGet, "/api/legend", "")
	require.Equal(t, http.StatusOK, w.Code)

	var legend []render.LegendEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &legend))
	assert.Equal(t, []render.LegendEntry{
		{Year: 2019, Label: "2019 CO2", Color: "#36a2eb"},
		{Year: 2023, Label: "2023 CO2", Color: "#ff6384"},
	}, legend)
}

type fakeNarrator struct {
	got insight.Summary
	err error
}

func (f *fakeNarrator) Narrate(_ context.Context, s insight.Summary) (string, error) {
	f.got = s
	if f.err != nil {
		return "", f.err
	}
	return "CO2 rose.", nil
}

func TestInsight(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(http.MethodGet, "/api/insight", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	n := &fakeNarrator{}
	ts.srv.SetNarrator(n)

	w = ts.do(http.MethodGet, "/api/insight", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)
	w = ts.do(http.MethodGet, "/api/insight", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "CO2 rose.")
	assert.Equal(t, years, n.got.Years)
	assert.Equal(t, 1, n.got.Inside[2019])
	assert.Equal(t, 0, n.got.Inside[2023])

	n.err = errors.New("upstream down")
	w = ts.do(http.MethodGet, "/api/insight", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealth(t *testing.T) {
	t.Run("loaded", func(t *testing.T) {
		ts := newTestServer(t, true)
		w := ts.do(http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)

		var h api.HealthStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, "ok", h.Status)
		require.Len(t, h.Datasets, 2)
		assert.Equal(t, 2019, h.Datasets[0].Year)
		assert.Equal(t, 2, h.Datasets[0].Valid)
	})

	t.Run("loading", func(t *testing.T) {
		ts := newTestServer(t, false)
		w := ts.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"loading"`)
	})

	t.Run("load failed", func(t *testing.T) {
		ts := newTestServer(t, false)
		ts.srv.SetLoadError(errors.New("2023: status 404"))
		w := ts.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "2023: status 404")
	})
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "<title>CO2 map: 2019 vs 2023</title>")
	assert.Contains(t, body, `id="map"`)
	assert.Contains(t, body, `"color":"#36a2eb"`)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(http.MethodPut, "/api/polygon", squareGeoJSON)

	w := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "co2map_pipeline_runs_total")
}
