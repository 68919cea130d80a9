// Package occupancy turns distance samples into a stable occupied/vacant
// state for a single parking spot.
package occupancy

import (
	"encoding/json"
	"fmt"
)

// State is the committed occupancy of a spot.
type State int

const (
	// Unknown means no state has been committed yet, or the sensor has
	// stopped producing usable readings.
	Unknown State = iota
	Vacant
	Occupied
)

func (s State) String() string {
	switch s {
	case Vacant:
		return "vacant"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the names written by MarshalJSON.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "unknown":
		*s = Unknown
	case "vacant":
		*s = Vacant
	case "occupied":
		*s = Occupied
	default:
		return fmt.Errorf("unknown occupancy state %q", name)
	}
	return nil
}

// FromBool maps a boolean occupancy reading to a State.
func FromBool(occupied bool) State {
	if occupied {
		return Occupied
	}
	return Vacant
}

// Classify reports whether a sample indicates a vehicle: anything closer than
// the calibrated empty-spot baseline. A sample equal to the baseline is not
// occupied.
func Classify(sample, baseline float64) bool {
	return sample < baseline
}

// Debouncer commits a state change only after Window consecutive samples
// agree, so that a single noisy echo cannot flip a spot.
type Debouncer struct {
	window    int
	state     State
	candidate State
	run       int
	failures  int
}

// NewDebouncer returns a Debouncer in the Unknown state. A window below one
// is treated as one (commit on every sample).
func NewDebouncer(window int) *Debouncer {
	if window < 1 {
		window = 1
	}
	return &Debouncer{window: window}
}

// Window returns the number of agreeing samples needed to commit.
func (d *Debouncer) Window() int { return d.window }

// State returns the committed state.
func (d *Debouncer) State() State { return d.state }

// Observe feeds one classified sample and returns the committed state and
// whether this sample changed it.
func (d *Debouncer) Observe(occupied bool) (State, bool) {
	d.failures = 0
	next := FromBool(occupied)
	if next == d.candidate {
		d.run++
	} else {
		d.candidate = next
		d.run = 1
	}
	if d.run >= d.window && d.state != next {
		d.state = next
		return d.state, true
	}
	return d.state, false
}

// Sample classifies a distance against baseline and observes the result.
func (d *Debouncer) Sample(distance, baseline float64) (State, bool) {
	return d.Observe(Classify(distance, baseline))
}

// Fail records a reading that could not be taken. Window consecutive
// failures degrade the committed state to Unknown. A failure also breaks any
// run of agreeing samples.
func (d *Debouncer) Fail() (State, bool) {
	d.candidate = Unknown
	d.run = 0
	d.failures++
	if d.failures >= d.window && d.state != Unknown {
		d.state = Unknown
		return d.state, true
	}
	return d.state, false
}

// Force commits state immediately, as for an operator override. The next
// samples must again agree Window times to move away from it.
func (d *Debouncer) Force(state State) (State, bool) {
	d.failures = 0
	d.candidate = state
	d.run = d.window
	if d.state == state {
		return d.state, false
	}
	d.state = state
	return d.state, true
}
