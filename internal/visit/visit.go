// Package visit turns committed spot transitions into priced visits.
package visit

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

var logf = monitoring.Component("visit")

const (
	DefaultMinVisit   = 3 * time.Second
	DefaultHourlyRate = 20.0
	DefaultKeep       = 1000
)

// Visit is one sensor-observed stay in a spot.
type Visit struct {
	ID       string        `json:"id"`
	Lot      string        `json:"lot"`
	SpotID   int           `json:"spot_id"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Fee      float64       `json:"fee"`
}

// Sink receives completed visits.
type Sink interface {
	RecordVisit(Visit) error
}

// Config controls pricing and filtering. A nil MinVisit or HourlyRate and a
// zero Keep take defaults. An explicit zero rate means free parking.
type Config struct {
	MinVisit   *time.Duration
	HourlyRate *float64
	// Keep bounds the number of completed visits held in memory.
	Keep  int
	Clock timeutil.Clock
}

type spotKey struct {
	lot  string
	spot int
}

// Tracker opens a visit when a spot commits Occupied and closes it when the
// spot commits Vacant. Unknown neither opens nor closes a visit.
type Tracker struct {
	cfg      Config
	minVisit time.Duration
	rate     float64
	sinks    []Sink

	mu      sync.Mutex
	open    map[spotKey]time.Time
	history []Visit
}

// NewTracker returns a tracker delivering completed visits to sinks.
func NewTracker(cfg Config, sinks ...Sink) *Tracker {
	minVisit, rate := DefaultMinVisit, DefaultHourlyRate
	if cfg.MinVisit != nil {
		minVisit = *cfg.MinVisit
	}
	if cfg.HourlyRate != nil {
		rate = *cfg.HourlyRate
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tracker{
		cfg:      cfg,
		minVisit: minVisit,
		rate:     rate,
		sinks:    sinks,
		open:     make(map[spotKey]time.Time),
	}
}

// Price returns the fee for a stay of d.
func (t *Tracker) Price(d time.Duration) float64 {
	return d.Hours() * t.rate
}

// SpotChanged implements pipeline.Observer.
func (t *Tracker) SpotChanged(tr pipeline.Transition) {
	key := spotKey{lot: tr.Lot, spot: tr.SpotID}
	switch tr.To {
	case occupancy.Occupied:
		t.mu.Lock()
		if _, ok := t.open[key]; !ok {
			t.open[key] = tr.At
		}
		t.mu.Unlock()
	case occupancy.Vacant:
		t.close(key, tr.At)
	}
}

func (t *Tracker) close(key spotKey, end time.Time) {
	t.mu.Lock()
	start, ok := t.open[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.open, key)
	d := end.Sub(start)
	if d < t.minVisit {
		t.mu.Unlock()
		logf("%s spot %d: ignoring %v visit", key.lot, key.spot, d)
		return
	}
	v := Visit{
		ID:       uuid.NewString(),
		Lot:      key.lot,
		SpotID:   key.spot,
		Start:    start,
		End:      end,
		Duration: d,
		Fee:      t.Price(d),
	}
	t.history = append(t.history, v)
	if over := len(t.history) - t.cfg.Keep; over > 0 {
		t.history = append([]Visit(nil), t.history[over:]...)
	}
	t.mu.Unlock()

	for _, s := range t.sinks {
		if err := s.RecordVisit(v); err != nil {
			logf("failed to record visit %s: %v", v.ID, err)
		}
	}
}

// Current is a visit still in progress.
type Current struct {
	Lot     string        `json:"lot"`
	SpotID  int           `json:"spot_id"`
	Start   time.Time     `json:"start"`
	Elapsed time.Duration `json:"elapsed"`
	Fee     float64       `json:"fee"`
}

// Open lists visits in progress with their fee so far.
func (t *Tracker) Open() []Current {
	now := t.cfg.Clock.Now()
	t.mu.Lock()
	out := make([]Current, 0, len(t.open))
	for k, start := range t.open {
		elapsed := now.Sub(start)
		out = append(out, Current{
			Lot:     k.lot,
			SpotID:  k.spot,
			Start:   start,
			Elapsed: elapsed,
			Fee:     max(0, t.Price(elapsed)),
		})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lot != out[j].Lot {
			return out[i].Lot < out[j].Lot
		}
		return out[i].SpotID < out[j].SpotID
	})
	return out
}

// History returns completed visits, oldest first.
func (t *Tracker) History() []Visit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Visit(nil), t.history...)
}

// Summary aggregates completed visits.
type Summary struct {
	Count          int           `json:"count"`
	Revenue        float64       `json:"revenue"`
	MeanDuration   time.Duration `json:"mean_duration"`
	MedianDuration time.Duration `json:"median_duration"`
}

// Summarize aggregates the given visits.
func Summarize(visits []Visit) Summary {
	s := Summary{Count: len(visits)}
	if len(visits) == 0 {
		return s
	}
	secs := make([]float64, len(visits))
	for i, v := range visits {
		secs[i] = v.Duration.Seconds()
		s.Revenue += v.Fee
	}
	sort.Float64s(secs)
	s.MeanDuration = seconds(stat.Mean(secs, nil))
	s.MedianDuration = seconds(stat.Quantile(0.5, stat.Empirical, secs, nil))
	return s
}

// Summary aggregates the tracker's history.
func (t *Tracker) Summary() Summary {
	return Summarize(t.History())
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
