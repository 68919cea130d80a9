// Package session models a driver's parking state: where they are, what
// they can spend and which spot they are parked in.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

var (
	ErrInvalidTransition   = errors.New("invalid parking transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownDriver       = errors.New("unknown driver")
)

// Parking records where a driver is parked.
type Parking struct {
	Lot    *lot.Lot
	SpotID int
	Since  time.Time
}

// Options control parking policy.
type Options struct {
	// RequireFunds rejects ParkIn when the balance is below the fee.
	// Off by default: balances may go negative.
	RequireFunds bool
	Clock        timeutil.Clock
}

// Driver is a user who parks. A nil parking record means Unparked.
type Driver struct {
	userID int
	opts   Options

	mu       sync.Mutex
	balance  float64
	position r2.Point
	parking  *Parking
}

// NewDriver returns an unparked driver.
func NewDriver(userID int, balance float64, position r2.Point, opts Options) *Driver {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Driver{
		userID:   userID,
		opts:     opts,
		balance:  balance,
		position: position,
	}
}

func (d *Driver) UserID() int { return d.userID }

// Balance returns the current balance in dollars.
func (d *Driver) Balance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance
}

// Position returns the driver's last known coordinates.
func (d *Driver) Position() r2.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// MoveTo updates the driver's coordinates.
func (d *Driver) MoveTo(p r2.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = p
}

// Parking returns a copy of the current parking record and whether the
// driver is parked.
func (d *Driver) Parking() (Parking, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.parking == nil {
		return Parking{}, false
	}
	return *d.parking, true
}

// ParkIn parks the driver in spotID of l and deducts the lot fee. It is
// valid only while unparked. The spot is claimed before any balance change,
// so a failed claim leaves the driver untouched.
func (d *Driver) ParkIn(l *lot.Lot, spotID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.parking != nil {
		return fmt.Errorf("%w: user %d already parked in %s spot %d",
			ErrInvalidTransition, d.userID, d.parking.Lot.Name(), d.parking.SpotID)
	}
	fee := l.Fee()
	if d.opts.RequireFunds && d.balance < fee {
		return fmt.Errorf("%w: balance %.2f below fee %.2f", ErrInsufficientBalance, d.balance, fee)
	}
	if err := l.Claim(spotID, d.userID); err != nil {
		return err
	}
	d.balance -= fee
	d.parking = &Parking{Lot: l, SpotID: spotID, Since: d.opts.Clock.Now()}
	return nil
}

// LeaveParkingLot returns the driver to Unparked and releases the spot
// assignment. The fee is not refunded. Spot occupancy is left to the sensor
// pipeline: callers that need the registry to show the spot free must
// sequence that update themselves.
func (d *Driver) LeaveParkingLot() (Parking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.parking == nil {
		return Parking{}, fmt.Errorf("%w: user %d is not parked", ErrInvalidTransition, d.userID)
	}
	p := *d.parking
	if err := p.Lot.Release(p.SpotID, d.userID); err != nil {
		return Parking{}, err
	}
	d.parking = nil
	return p, nil
}

// Overstay reports how long past the lot time limit the driver has been
// parked at now. Lots with no time limit never overstay.
func (d *Driver) Overstay(now time.Time) (Parking, time.Duration, bool) {
	p, ok := d.Parking()
	if !ok || p.Lot.TimeLimit() == 0 {
		return Parking{}, 0, false
	}
	limit := time.Duration(p.Lot.TimeLimit()) * time.Minute
	over := now.Sub(p.Since) - limit
	if over <= 0 {
		return Parking{}, 0, false
	}
	return p, over, true
}
