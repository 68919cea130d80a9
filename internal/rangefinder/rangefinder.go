// Package rangefinder drives a trigger/echo ultrasonic ranging sensor
// (HC-SR04 style) and converts one echo pulse into a distance.
package rangefinder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

const (
	// SpeedOfSound is the speed of sound in cm per microsecond.
	SpeedOfSound = 0.0343

	// SettleTime is how long the trigger is held low before a pulse.
	SettleTime = 2 * time.Microsecond
	// PulseWidth is how long the trigger is held high.
	PulseWidth = 10 * time.Microsecond

	// DefaultTimeout bounds each echo edge wait. 30ms is roughly a 5m
	// round trip, beyond the range of hobby ultrasonic sensors.
	DefaultTimeout = 30 * time.Millisecond

	// OutOfRange is returned alongside ErrSensorTimeout when no echo was
	// received.
	OutOfRange = 400.0
)

// ErrSensorTimeout is returned when the echo line never rose or never fell
// within the timeout.
var ErrSensorTimeout = errors.New("sensor timeout: no echo received")

// Trigger is the sensor's trigger input, driven by us.
type Trigger interface {
	Set(high bool) error
}

// Echo is the sensor's echo output, read by us.
type Echo interface {
	Level() (bool, error)
}

// Sensor measures distance using one trigger and one echo line.
type Sensor struct {
	Trigger Trigger
	Echo    Echo
	Clock   timeutil.Clock
	// Timeout bounds each edge wait; zero means DefaultTimeout.
	Timeout time.Duration
}

// New returns a Sensor on the given lines using the real clock.
func New(trigger Trigger, echo Echo) *Sensor {
	return &Sensor{
		Trigger: trigger,
		Echo:    echo,
		Clock:   timeutil.RealClock{},
		Timeout: DefaultTimeout,
	}
}

// Distance converts a round-trip echo duration into centimetres.
func Distance(echo time.Duration) float64 {
	micros := float64(echo) / float64(time.Microsecond)
	return micros * SpeedOfSound / 2
}

// Measure runs one ranging cycle and returns the distance in centimetres.
// It blocks for the pulse and the echo, never longer than twice the timeout.
func (s *Sensor) Measure(ctx context.Context) (float64, error) {
	if err := s.pulse(); err != nil {
		return OutOfRange, err
	}
	width, err := s.pulseIn(ctx)
	if err != nil {
		return OutOfRange, err
	}
	return Distance(width), nil
}

func (s *Sensor) clock() timeutil.Clock {
	if s.Clock == nil {
		return timeutil.RealClock{}
	}
	return s.Clock
}

func (s *Sensor) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *Sensor) pulse() error {
	c := s.clock()
	if err := s.Trigger.Set(false); err != nil {
		return fmt.Errorf("failed to clear trigger: %w", err)
	}
	c.Sleep(SettleTime)
	if err := s.Trigger.Set(true); err != nil {
		return fmt.Errorf("failed to raise trigger: %w", err)
	}
	c.Sleep(PulseWidth)
	if err := s.Trigger.Set(false); err != nil {
		return fmt.Errorf("failed to drop trigger: %w", err)
	}
	return nil
}

// pulseIn waits for the echo line to go high and returns how long it stayed
// high.
func (s *Sensor) pulseIn(ctx context.Context) (time.Duration, error) {
	c := s.clock()

	if _, err := s.waitFor(ctx, true); err != nil {
		return 0, fmt.Errorf("waiting for echo start: %w", err)
	}
	start := c.Now()
	if _, err := s.waitFor(ctx, false); err != nil {
		return 0, fmt.Errorf("waiting for echo end: %w", err)
	}
	return c.Since(start), nil
}

func (s *Sensor) waitFor(ctx context.Context, level bool) (time.Duration, error) {
	c := s.clock()
	limit := s.timeout()
	begin := c.Now()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		got, err := s.Echo.Level()
		if err != nil {
			return 0, fmt.Errorf("failed to read echo: %w", err)
		}
		if got == level {
			return c.Since(begin), nil
		}
		if c.Since(begin) >= limit {
			return 0, ErrSensorTimeout
		}
	}
}
