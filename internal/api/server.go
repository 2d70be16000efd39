// Package api serves the HTTP command and query surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/airline-simulator/internal/sim/state"
	"github.com/signalsfoundry/airline-simulator/model"
)

// Service is the command gateway the handlers call. *scheduler.Commands
// satisfies it.
type Service interface {
	AssignRoute(ctx context.Context, req scheduler.AssignRequest) (model.RouteAssignment, error)
	RemoveAssignment(ctx context.Context, aircraftID, routeID string) (model.RouteAssignment, error)
	SetTimeMultiplier(ctx context.Context, m float64) error
	TimeMultiplier() float64
	Assignments() []model.RouteAssignment
	Economics() core.EconomicsSnapshot
	ActiveFlights() []publish.FlightRecord
	Snapshot() (publish.Snapshot, bool)
}

// Server holds the handler dependencies.
type Server struct {
	svc Service
	log logging.Logger
}

type options struct {
	middleware []func(http.Handler) http.Handler
	ws         http.HandlerFunc
}

// Option customises the router.
type Option func(*options)

// WithWebsocket mounts the snapshot stream at /ws.
func WithWebsocket(h http.HandlerFunc) Option {
	return func(o *options) { o.ws = h }
}

// WithMiddleware installs an extra middleware ahead of every route.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw) }
}

// New constructs the HTTP router wired to the command gateway.
func New(svc Service, log logging.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{svc: svc, log: log}
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(s.requestLogger)
	r.Use(o.middleware...)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if o.ws != nil {
		r.Get("/ws", o.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/time-multiplier", s.handleGetMultiplier)
		r.Put("/time-multiplier", s.handleSetMultiplier)
		r.Get("/assignments", s.handleListAssignments)
		r.Post("/assignments", s.handleAssign)
		r.Delete("/assignments/{aircraftID}", s.handleRemove)
		r.Get("/economics", s.handleEconomics)
		r.Get("/flights", s.handleFlights)
		r.Get("/snapshot", s.handleSnapshot)
	})
	return r
}

func (s *Server) handleGetMultiplier(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"multiplier": s.svc.TimeMultiplier()})
}

func (s *Server) handleSetMultiplier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Multiplier *float64 `json:"multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Multiplier == nil {
		writeJSONError(w, http.StatusBadRequest, state.ReasonValidation, "body must be {\"multiplier\": <1-20>}")
		return
	}
	if err := s.svc.SetTimeMultiplier(r.Context(), *req.Multiplier); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"multiplier": s.svc.TimeMultiplier()})
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Assignments())
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req scheduler.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, state.ReasonValidation, "bad request")
		return
	}
	asg, err := s.svc.AssignRoute(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asg)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	aircraftID := chi.URLParam(r, "aircraftID")
	routeID := r.URL.Query().Get("route_id")
	removed, err := s.svc.RemoveAssignment(r.Context(), aircraftID, routeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleEconomics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Economics())
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ActiveFlights())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.svc.Snapshot()
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "", "no tick has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.requestLog(r).Error(r.Context(), "request failed", logging.Err(err))
		msg = ""
	}
	writeJSONError(w, status, state.Reason(err), msg)
}

func (s *Server) requestLog(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return s.log
}

// ===== helpers =====

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, reason, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	body := map[string]string{"error": msg}
	if reason != "" {
		body["reason"] = reason
	}
	writeJSON(w, status, body)
}

// requestLogger attaches a request id and a scoped logger to the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log)
		ctx = logging.ContextWithLogger(ctx, log)
		w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
