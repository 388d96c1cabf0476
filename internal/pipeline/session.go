package pipeline

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lox/co2map/internal/geo"
	"github.com/lox/co2map/internal/models"
)

// Session holds the single active polygon and the result computed for it.
// Drawing replaces the polygon; a result computed for an older polygon is
// never published over a newer one.
type Session struct {
	logger *zap.Logger

	mu         sync.Mutex
	data       *Prepared
	polygon    *models.Polygon
	generation uint64
	latest     *Result
}

func NewSession(logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{logger: logger.Named("session")}
}

// SetData publishes the loaded dataset. If a polygon is already active it is
// rerun against the new data.
func (s *Session) SetData(data *Prepared) {
	s.mu.Lock()
	s.data = data
	polygon := s.polygon
	s.mu.Unlock()

	if polygon != nil {
		if _, err := s.Draw(*polygon); err != nil {
			s.logger.Warn("rerun after data load", zap.Error(err))
		}
	}
}

// Loaded reports whether data has been published.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil
}

// Data returns the published dataset, or nil.
func (s *Session) Data() *Prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Draw makes polygon the active one, clearing any previous polygon and
// result, and runs the pipeline. Degenerate polygons are rejected without
// touching the session.
func (s *Session) Draw(polygon models.Polygon) (Result, error) {
	if _, err := geo.NewRing(polygon); err != nil {
		return Result{}, ErrInvalidPolygon
	}
	p := models.Polygon{Vertices: append([]models.Vertex(nil), polygon.Vertices...)}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.polygon = &p
	s.latest = nil
	data := s.data
	s.mu.Unlock()

	if data == nil {
		return Result{}, ErrNotLoaded
	}

	res := data.Run(&p)
	res.Generation = gen

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug("discarding superseded result", zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return res, nil
	}
	s.latest = &res
	return res, nil
}

// Clear removes the active polygon and its result.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.polygon = nil
	s.latest = nil
}

// Polygon returns a copy of the active polygon, or nil.
func (s *Session) Polygon() *models.Polygon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polygon == nil {
		return nil
	}
	p := models.Polygon{Vertices: append([]models.Vertex(nil), s.polygon.Vertices...)}
	return &p
}

// Latest returns the result for the active polygon, if one has been computed.
func (s *Session) Latest() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Result{}, false
	}
	return *s.latest, true
}
