package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"
)

// Directory keeps the drivers known to the process by user ID.
type Directory struct {
	opts Options

	mu      sync.RWMutex
	drivers map[int]*Driver
}

// NewDirectory returns an empty directory whose drivers share opts.
func NewDirectory(opts Options) *Directory {
	return &Directory{opts: opts, drivers: make(map[int]*Driver)}
}

// Register adds a driver. Registering an existing user ID returns the
// existing driver unchanged.
func (dir *Directory) Register(userID int, balance float64, position r2.Point) (*Driver, bool) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if d, ok := dir.drivers[userID]; ok {
		return d, false
	}
	d := NewDriver(userID, balance, position, dir.opts)
	dir.drivers[userID] = d
	return d, true
}

// Get returns the driver with userID.
func (dir *Directory) Get(userID int) (*Driver, error) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	d, ok := dir.drivers[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDriver, userID)
	}
	return d, nil
}

// Drivers returns every driver ordered by user ID.
func (dir *Directory) Drivers() []*Driver {
	dir.mu.RLock()
	out := make([]*Driver, 0, len(dir.drivers))
	for _, d := range dir.drivers {
		out = append(out, d)
	}
	dir.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

// Overstay is a parked driver who has exceeded the lot time limit.
type Overstay struct {
	UserID  int
	Parking Parking
	Over    time.Duration
}

// Overstays lists drivers parked longer than their lot allows at now.
func (dir *Directory) Overstays(now time.Time) []Overstay {
	var out []Overstay
	for _, d := range dir.Drivers() {
		if p, over, ok := d.Overstay(now); ok {
			out = append(out, Overstay{UserID: d.userID, Parking: p, Over: over})
		}
	}
	return out
}
