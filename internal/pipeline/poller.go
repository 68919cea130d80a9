package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// DefaultPollInterval matches the sensor node's 200ms loop delay.
const DefaultPollInterval = 200 * time.Millisecond

// Measurer takes one distance reading in centimetres.
type Measurer interface {
	Measure(ctx context.Context) (float64, error)
}

// Poller reads one local sensor on a fixed interval and feeds its pipeline.
type Poller struct {
	Pipeline *Pipeline
	SpotID   int
	Sensor   Measurer
	Interval time.Duration
	Clock    timeutil.Clock
}

// Poll takes a single reading. Sensor errors are fed to the pipeline as
// failures and are not returned.
func (p *Poller) Poll(ctx context.Context) error {
	distance, err := p.Sensor.Measure(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		_, err = p.Pipeline.ObserveFailure(p.SpotID, err)
		return err
	}
	_, err = p.Pipeline.Observe(p.SpotID, distance)
	return err
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logf("spot %d poll error: %v", p.SpotID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}
