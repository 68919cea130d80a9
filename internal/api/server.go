// Package api serves the lot, driver and visit endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/metrics"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/session"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/units"
	"github.com/banshee-data/occupancy.report/internal/version"
	"github.com/banshee-data/occupancy.report/internal/visit"
)

var logf = monitoring.Component("api")

// History is the subset of the history store the handlers use.
type History interface {
	RecordParkingStart(userID int, p session.Parking) error
	RecordParkingEnd(userID int, end time.Time) error
	OccupancyEvents(lot string, limit int) ([]db.OccupancyEvent, error)
	ParkingSessions(userID int, limit int) ([]db.ParkingSession, error)
	Visits(lot string, limit int) ([]visit.Visit, error)
	OverstayCount(userID int) (int, error)
}

// Options wires the server to the live state. Registry, Drivers and
// Sessions are required; the rest may be nil.
type Options struct {
	Registry *lot.Registry
	Drivers  *session.Directory
	Sessions *session.Instrumented
	// Pipelines route manual spot updates through the observers. A lot
	// without one is updated directly.
	Pipelines []*pipeline.Pipeline
	Visits    *visit.Tracker
	History   History
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Clock     timeutil.Clock
	// Units and Timezone control how history is rendered.
	Units    string
	Timezone string
}

type Server struct {
	opts      Options
	pipelines map[*lot.Lot]*pipeline.Pipeline
}

func NewServer(opts Options) *Server {
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("api")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Units == "" {
		opts.Units = units.CM
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	s := &Server{opts: opts, pipelines: make(map[*lot.Lot]*pipeline.Pipeline)}
	for _, p := range opts.Pipelines {
		s.pipelines[p.Lot()] = p
	}
	return s
}

// Router returns the chi router with the middleware stack applied.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(httputil.Recovery)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logging)
	r.Use(httputil.Tracing(s.opts.Tracer))
	r.Use(httputil.CORS)

	r.Get("/health", s.health)
	if s.opts.Metrics != nil {
		r.Get("/metrics", s.opts.Metrics.Handler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/lots", func(r chi.Router) {
			r.Get("/", s.listLots)
			r.Get("/nearby", s.nearbyLots)
			r.Get("/{name}", s.getLot)
			r.Get("/{name}/events", s.lotEvents)
			r.Put("/{name}/spots/{id}", s.updateSpot)
		})
		r.Route("/drivers", func(r chi.Router) {
			r.Post("/", s.registerDriver)
			r.Get("/overstays", s.listOverstays)
			r.Get("/{id}", s.getDriver)
			r.Put("/{id}/position", s.moveDriver)
			r.Post("/{id}/park", s.park)
			r.Post("/{id}/leave", s.leave)
			r.Get("/{id}/sessions", s.driverSessions)
		})
		r.Route("/visits", func(r chi.Router) {
			r.Get("/", s.listVisits)
			r.Get("/open", s.openVisits)
			r.Get("/summary", s.visitSummary)
		})
	})
	return r
}

// Handler mounts the router at / on mux, alongside any /debug/ routes
// already registered there.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	mux.Handle("/", s.Router())
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "occupancy-report",
		"version": version.Version,
		"lots":    s.opts.Registry.Len(),
		"meta":    httputil.ExtractMeta(r.Context()),
	})
}

// writeDomainError maps package errors onto status codes.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lot.ErrUnknownSpot),
		errors.Is(err, lot.ErrUnknownLot),
		errors.Is(err, session.ErrUnknownDriver):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, lot.ErrSpotTaken),
		errors.Is(err, lot.ErrNotHolder),
		errors.Is(err, lot.ErrAmbiguousLot),
		errors.Is(err, lot.ErrDuplicateLot),
		errors.Is(err, lot.ErrDuplicateSpot),
		errors.Is(err, errNoFreeSpot):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, errBadInput),
		errors.Is(err, lot.ErrInvalidHolder):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logf("internal error: %v", err)
	}
	httputil.WriteError(ctx, w, status, err.Error())
}

var errBadInput = errors.New("bad input")

func badInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadInput, fmt.Sprintf(format, args...))
}
