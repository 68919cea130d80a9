// Package pipeline connects range readings to a lot: each reading is
// debounced per spot and committed states are written to the lot and fanned
// out to observers.
package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

var logf = monitoring.Component("pipeline")

// DefaultWindow is the number of agreeing readings needed to change a spot.
const DefaultWindow = 3

// Transition is a committed change of a spot's state.
type Transition struct {
	Lot    string
	SpotID int
	From   occupancy.State
	To     occupancy.State
	// Distance is the reading that committed the change, NaN when the
	// source reported occupancy directly or the sensor failed.
	Distance float64
	At       time.Time
}

// Observer is notified of every committed transition. Observers run on the
// caller's goroutine with the pipeline locked and must not call back into it.
type Observer interface {
	SpotChanged(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) SpotChanged(t Transition) { f(t) }

// Options configure a Pipeline.
type Options struct {
	// Window is the debounce window; 0 uses DefaultWindow.
	Window int
	Clock  timeutil.Clock
	// Telemetry, if set, receives one JSON line per reading.
	Telemetry io.Writer
}

// Pipeline debounces readings for the spots of one lot.
type Pipeline struct {
	lot       *lot.Lot
	window    int
	clock     timeutil.Clock
	telemetry io.Writer

	mu         sync.Mutex
	debouncers map[int]*occupancy.Debouncer
	observers  []Observer
}

// New returns a pipeline writing into l.
func New(l *lot.Lot, opts Options) *Pipeline {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Pipeline{
		lot:        l,
		window:     opts.Window,
		clock:      opts.Clock,
		telemetry:  opts.Telemetry,
		debouncers: make(map[int]*occupancy.Debouncer),
	}
}

// Lot returns the lot the pipeline writes into.
func (p *Pipeline) Lot() *lot.Lot { return p.lot }

// AddObserver registers o for future transitions.
func (p *Pipeline) AddObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Observe classifies a distance reading against the spot's baseline.
func (p *Pipeline) Observe(spotID int, distance float64) (occupancy.State, error) {
	spot, err := p.lot.Spot(spotID)
	if err != nil {
		return occupancy.Unknown, err
	}
	occupied := occupancy.Classify(distance, spot.Baseline)
	return p.commit(spotID, distance, func(d *occupancy.Debouncer) (occupancy.State, bool) {
		return d.Observe(occupied)
	})
}

// ObserveOccupied feeds a reading that was already classified, as sent by
// remote sensor nodes.
func (p *Pipeline) ObserveOccupied(spotID int, occupied bool) (occupancy.State, error) {
	if _, err := p.lot.Spot(spotID); err != nil {
		return occupancy.Unknown, err
	}
	return p.commit(spotID, math.NaN(), func(d *occupancy.Debouncer) (occupancy.State, bool) {
		return d.Observe(occupied)
	})
}

// ObserveFailure records a reading that could not be taken. Enough failures
// in a row degrade the spot to Unknown.
func (p *Pipeline) ObserveFailure(spotID int, cause error) (occupancy.State, error) {
	if _, err := p.lot.Spot(spotID); err != nil {
		return occupancy.Unknown, err
	}
	logf("spot %d reading failed: %v", spotID, cause)
	return p.commit(spotID, math.NaN(), func(d *occupancy.Debouncer) (occupancy.State, bool) {
		return d.Fail()
	})
}

// Override sets a spot's state without debouncing, for manual corrections.
// Observers see it as an ordinary transition.
func (p *Pipeline) Override(spotID int, occupied bool) (occupancy.State, error) {
	if _, err := p.lot.Spot(spotID); err != nil {
		return occupancy.Unknown, err
	}
	state := occupancy.FromBool(occupied)
	return p.commit(spotID, math.NaN(), func(d *occupancy.Debouncer) (occupancy.State, bool) {
		return d.Force(state)
	})
}

// State returns the debounced state of a spot.
func (p *Pipeline) State(spotID int) occupancy.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.debouncers[spotID]; ok {
		return d.State()
	}
	return occupancy.Unknown
}

func (p *Pipeline) commit(spotID int, distance float64, feed func(*occupancy.Debouncer) (occupancy.State, bool)) (occupancy.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.debouncers[spotID]
	if !ok {
		d = occupancy.NewDebouncer(p.window)
		p.debouncers[spotID] = d
	}
	from := d.State()
	state, changed := feed(d)
	p.emit(spotID, state, distance)
	if !changed {
		return state, nil
	}

	if err := p.lot.SetSpotState(spotID, state); err != nil {
		return state, fmt.Errorf("failed to commit spot %d: %w", spotID, err)
	}
	logf("%s spot %d committed %s", p.lot.Name(), spotID, state)

	t := Transition{
		Lot:      p.lot.Name(),
		SpotID:   spotID,
		From:     from,
		To:       state,
		Distance: distance,
		At:       p.clock.Now(),
	}
	for _, o := range p.observers {
		o.SpotChanged(t)
	}
	return state, nil
}

type telemetryLine struct {
	Spot     int      `json:"spot"`
	Occupied bool     `json:"occupied"`
	State    string   `json:"state"`
	Distance *float64 `json:"distance_cm,omitempty"`
}

func (p *Pipeline) emit(spotID int, state occupancy.State, distance float64) {
	if p.telemetry == nil {
		return
	}
	line := telemetryLine{
		Spot:     spotID,
		Occupied: state == occupancy.Occupied,
		State:    state.String(),
	}
	if !math.IsNaN(distance) {
		line.Distance = &distance
	}
	if err := json.NewEncoder(p.telemetry).Encode(line); err != nil {
		logf("failed to write telemetry: %v", err)
	}
}
