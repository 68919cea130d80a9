package lot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrUnknownLot   = errors.New("unknown lot")
	ErrAmbiguousLot = errors.New("lot name is shared by several lots")
	ErrDuplicateLot = errors.New("lot with this name and location already exists")
)

// Census counts every lot ever constructed by the registries sharing it. It
// only goes up and is used for diagnostics. Create one at process start.
type Census struct {
	n atomic.Int64
}

// Constructed returns the number of lots built so far.
func (c *Census) Constructed() int64 { return c.n.Load() }

func (c *Census) record() { c.n.Add(1) }

// Registry holds lots in insertion order. Name plus coordinates is the key;
// names alone may repeat.
type Registry struct {
	census *Census

	mu   sync.RWMutex
	lots []*Lot
}

// NewRegistry returns an empty registry that records constructions in census.
// A nil census gets a private one.
func NewRegistry(census *Census) *Registry {
	if census == nil {
		census = &Census{}
	}
	return &Registry{census: census}
}

// Census returns the registry's lot census.
func (r *Registry) Census() *Census { return r.census }

// NewLot builds a lot from cfg and adds it to the registry.
func (r *Registry) NewLot(cfg Config) (*Lot, error) {
	l, err := newLot(cfg)
	if err != nil {
		return nil, err
	}
	r.census.record()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.lots {
		if existing.name == l.name && existing.coordinates == l.coordinates {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLot, l)
		}
	}
	r.lots = append(r.lots, l)
	return l, nil
}

// Lots returns the lots in insertion order.
func (r *Registry) Lots() []*Lot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Lot, len(r.lots))
	copy(out, r.lots)
	return out
}

// Len returns the number of registered lots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lots)
}

// Get returns the only lot with the given name.
func (r *Registry) Get(name string) (*Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Lot
	for _, l := range r.lots {
		if l.name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %q", ErrAmbiguousLot, name)
		}
		found = l
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLot, name)
	}
	return found, nil
}
