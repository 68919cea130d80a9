// Package lot holds the parking lots known to the process and the live state
// of their spots.
package lot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// DefaultCapacity is the spot capacity used when a lot does not set one.
const DefaultCapacity = 100

var (
	ErrUnknownSpot      = errors.New("unknown spot")
	ErrDuplicateSpot    = errors.New("duplicate spot id")
	ErrCapacityExceeded = errors.New("lot capacity exceeded")
	ErrSpotTaken        = errors.New("spot already assigned to another driver")
	ErrNotHolder        = errors.New("spot not assigned to this driver")
	ErrInvalidHolder    = errors.New("holder user id must be positive")
	ErrInvalidLot       = errors.New("invalid lot")
)

// Config describes a lot at setup.
type Config struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	// Fee is the flat charge in dollars for parking in the lot.
	Fee float64 `json:"fee"`
	// TimeLimit is the maximum stay in minutes; 0 means unlimited.
	TimeLimit   int          `json:"time_limit_minutes"`
	Coordinates r2.Point     `json:"coordinates"`
	Capacity    int          `json:"capacity,omitempty"`
	Spots       []SpotConfig `json:"spots"`
}

// Lot is a named collection of spots with pricing and location. The
// descriptive fields are fixed at construction; spot state is guarded by one
// mutex per lot.
type Lot struct {
	name        string
	address     string
	fee         float64
	timeLimit   int
	coordinates r2.Point
	capacity    int

	mu    sync.RWMutex
	spots []Spot
}

func newLot(cfg Config) (*Lot, error) {
	if cfg.Fee < 0 {
		return nil, fmt.Errorf("%w: negative fee %v", ErrInvalidLot, cfg.Fee)
	}
	if cfg.TimeLimit < 0 {
		return nil, fmt.Errorf("%w: negative time limit %d", ErrInvalidLot, cfg.TimeLimit)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Lot{
		name:        cfg.Name,
		address:     cfg.Address,
		fee:         cfg.Fee,
		timeLimit:   cfg.TimeLimit,
		coordinates: cfg.Coordinates,
		capacity:    capacity,
		spots:       make([]Spot, 0, len(cfg.Spots)),
	}
	for _, sc := range cfg.Spots {
		if err := l.AddSpot(sc); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Lot) Name() string          { return l.name }
func (l *Lot) Address() string       { return l.address }
func (l *Lot) Fee() float64          { return l.fee }
func (l *Lot) TimeLimit() int        { return l.timeLimit }
func (l *Lot) Coordinates() r2.Point { return l.coordinates }
func (l *Lot) Capacity() int         { return l.capacity }

// TotalSpots returns the number of configured spots.
func (l *Lot) TotalSpots() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.spots)
}

// AddSpot appends a spot in the Unknown state. It fails rather than
// truncating when the lot is full.
func (l *Lot) AddSpot(cfg SpotConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.spots) >= l.capacity {
		return fmt.Errorf("%w: %s holds at most %d spots", ErrCapacityExceeded, l.name, l.capacity)
	}
	if l.indexLocked(cfg.ID) >= 0 {
		return fmt.Errorf("%w: %d in %s", ErrDuplicateSpot, cfg.ID, l.name)
	}
	l.spots = append(l.spots, Spot{
		ID:       cfg.ID,
		Sensor:   cfg.Sensor,
		Baseline: cfg.Baseline,
	})
	return nil
}

func (l *Lot) indexLocked(id int) int {
	for i := range l.spots {
		if l.spots[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateSpotStatus records the classifier's verdict for a spot. Unknown IDs
// leave every spot untouched and return ErrUnknownSpot.
func (l *Lot) UpdateSpotStatus(id int, occupied bool) error {
	return l.SetSpotState(id, occupancy.FromBool(occupied))
}

// SetSpotState is UpdateSpotStatus for the full tri-state, so that a failing
// sensor can mark its spot Unknown.
func (l *Lot) SetSpotState(id int, state occupancy.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %d in %s", ErrUnknownSpot, id, l.name)
	}
	l.spots[i].State = state
	return nil
}

// Spot returns a copy of the spot with the given ID.
func (l *Lot) Spot(id int) (Spot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.indexLocked(id)
	if i < 0 {
		return Spot{}, fmt.Errorf("%w: %d in %s", ErrUnknownSpot, id, l.name)
	}
	return l.spots[i], nil
}

// Spots returns copies of all spots in configuration order.
func (l *Lot) Spots() []Spot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Spot, len(l.spots))
	copy(out, l.spots)
	return out
}

// OccupiedCount returns how many spots the sensors report as occupied.
func (l *Lot) OccupiedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, s := range l.spots {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// Claim assigns the spot to a driver. The check and the assignment happen
// under the lot lock, so of two concurrent claims on a free spot exactly one
// succeeds. Claiming a spot already held by the same user is an error too.
// Holder 0 marks a free spot, so userID must be positive.
func (l *Lot) Claim(id, userID int) error {
	if userID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidHolder, userID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %d in %s", ErrUnknownSpot, id, l.name)
	}
	if l.spots[i].Holder != 0 {
		return fmt.Errorf("%w: spot %d in %s", ErrSpotTaken, id, l.name)
	}
	l.spots[i].Holder = userID
	return nil
}

// Release clears the driver assignment on a spot. Sensor occupancy is not
// touched.
func (l *Lot) Release(id, userID int) error {
	if userID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidHolder, userID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %d in %s", ErrUnknownSpot, id, l.name)
	}
	if l.spots[i].Holder != userID {
		return fmt.Errorf("%w: spot %d in %s", ErrNotHolder, id, l.name)
	}
	l.spots[i].Holder = 0
	return nil
}

func (l *Lot) String() string {
	return fmt.Sprintf("%s (%g, %g)", l.name, l.coordinates.X, l.coordinates.Y)
}
