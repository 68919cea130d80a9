package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/metrics"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/session"
	"github.com/banshee-data/occupancy.report/internal/telemetry"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/visit"
)

// site is the live state of every configured lot and the observers that
// follow it.
type site struct {
	registry  *lot.Registry
	pipelines []*pipeline.Pipeline
	byLot     map[*lot.Lot]*pipeline.Pipeline
	drivers   *session.Directory
	sessions  *session.Instrumented
	visits    *visit.Tracker
	metrics   *metrics.Metrics
	history   *db.DB
}

// newSite builds lots from cfg, one pipeline per lot, and subscribes the
// visit tracker, history store and metrics to every pipeline. history is
// required; readings may be nil.
func newSite(cfg *config.SiteConfig, history *db.DB, tel *telemetry.Provider, clock timeutil.Clock, readings io.Writer) (*site, error) {
	sessions, err := session.NewInstrumented(tel.Tracer(), tel.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create session instruments: %w", err)
	}
	s := &site{
		registry: lot.NewRegistry(&lot.Census{}),
		byLot:    make(map[*lot.Lot]*pipeline.Pipeline),
		drivers: session.NewDirectory(session.Options{
			RequireFunds: cfg.GetRequireFunds(),
			Clock:        clock,
		}),
		sessions: sessions,
		metrics:  metrics.New(),
		history:  history,
	}
	minVisit, rate := cfg.GetMinVisit(), cfg.GetHourlyRate()
	s.visits = visit.NewTracker(visit.Config{
		MinVisit:   &minVisit,
		HourlyRate: &rate,
		Clock:      clock,
	}, history, s.metrics)

	for _, lc := range cfg.Lots {
		l, err := s.registry.NewLot(lc)
		if err != nil {
			return nil, fmt.Errorf("failed to create lot %q: %w", lc.Name, err)
		}
		p := pipeline.New(l, pipeline.Options{
			Window:    cfg.GetDebounceWindow(),
			Clock:     clock,
			Telemetry: readings,
		})
		p.AddObserver(s.visits)
		p.AddObserver(history)
		p.AddObserver(s.metrics)
		s.pipelines = append(s.pipelines, p)
		s.byLot[l] = p
	}
	s.metrics.SeedSpots(s.registry.Lots())
	return s, nil
}

// serialPipeline returns the pipeline serial lines are routed to: the
// configured serial lot, or the first lot when none is named. A name shared
// by lots at different coordinates is an ErrAmbiguousLot. With no lots at
// all it returns nil.
func (s *site) serialPipeline(cfg *config.SiteConfig) (*pipeline.Pipeline, error) {
	if cfg.Serial.Lot != "" {
		l, err := s.registry.Get(cfg.Serial.Lot)
		if err != nil {
			return nil, fmt.Errorf("serial lot: %w", err)
		}
		return s.byLot[l], nil
	}
	if len(s.pipelines) == 0 {
		return nil, nil
	}
	return s.pipelines[0], nil
}

// routeSerial feeds every line from m into router until ctx is done or m
// closes the subscription.
func routeSerial(ctx context.Context, m serialmux.SerialMuxInterface, router serialmux.Router, defaultSpot int, counts *metrics.Metrics) {
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)
	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			kind, err := serialmux.HandleEvent(router, defaultSpot, payload)
			if counts != nil {
				counts.SerialLines.WithLabelValues(kind).Inc()
			}
			if err != nil {
				log.Printf("error handling serial line %q: %v", payload, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

type overstayKey struct {
	userID int
	since  time.Time
}

// overstaySweeper reports each overstay once: the first sweep that sees a
// driver past the limit logs it, counts it and stores it.
type overstaySweeper struct {
	drivers *session.Directory
	metrics *metrics.Metrics
	history *db.DB
	clock   timeutil.Clock

	mu       sync.Mutex
	reported map[overstayKey]bool
}

func newOverstaySweeper(s *site, clock timeutil.Clock) *overstaySweeper {
	return &overstaySweeper{
		drivers:  s.drivers,
		metrics:  s.metrics,
		history:  s.history,
		clock:    clock,
		reported: make(map[overstayKey]bool),
	}
}

// Sweep returns the overstays seen for the first time.
func (o *overstaySweeper) Sweep() []session.Overstay {
	now := o.clock.Now()
	current := o.drivers.Overstays(now)

	o.mu.Lock()
	defer o.mu.Unlock()

	var fresh []session.Overstay
	still := make(map[overstayKey]bool, len(current))
	for _, ov := range current {
		key := overstayKey{userID: ov.UserID, since: ov.Parking.Since}
		still[key] = true
		if o.reported[key] {
			continue
		}
		fresh = append(fresh, ov)
		log.Printf("overstay: user %d in %s spot %d is %v over the limit",
			ov.UserID, ov.Parking.Lot.Name(), ov.Parking.SpotID, ov.Over.Round(time.Second))
		o.metrics.Overstays.WithLabelValues(ov.Parking.Lot.Name()).Inc()
		if o.history != nil {
			if err := o.history.RecordOverstay(ov, now); err != nil {
				log.Printf("failed to record overstay for user %d: %v", ov.UserID, err)
			}
		}
	}
	o.reported = still
	return fresh
}
