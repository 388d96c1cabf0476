package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/co2map/internal/insight"
	"github.com/lox/co2map/internal/metrics"
	"github.com/lox/co2map/internal/pipeline"
	"github.com/lox/co2map/internal/render"
	"github.com/lox/co2map/internal/store"
)

// Narrator writes a short description of a summary.
type Narrator interface {
	Narrate(ctx context.Context, s insight.Summary) (string, error)
}

type Server struct {
	session *pipeline.Session
	store   *store.Store
	addr    string
	years   []int
	palette render.Palette
	tmpl    *template.Template
	logger  *zap.Logger

	narrator Narrator

	mu      sync.RWMutex
	loadErr error
}

func NewServer(session *pipeline.Session, st *store.Store, addr string, years []int, palette render.Palette, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		session: session,
		store:   st,
		addr:    addr,
		years:   append([]int(nil), years...),
		palette: palette,
		tmpl:    newTemplates(),
		logger:  logger.Named("api"),
	}
}

// SetNarrator enables /api/insight.
func (s *Server) SetNarrator(n Narrator) {
	s.narrator = n
}

// SetLoadError records why the datasets could not be loaded, for /health.
func (s *Server) SetLoadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func (s *Server) loadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/chart.png", s.handleChartImage)
	r.Get("/overlay.png", s.handleOverlayImage)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
		r.Put("/polygon", s.handlePutPolygon)
		r.Delete("/polygon", s.handleDeletePolygon)
		r.Get("/summary", s.handleSummary)
		r.Get("/overlay", s.handleOverlay)
		r.Get("/legend", s.handleLegend)
		r.Get("/insight", s.handleInsight)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
