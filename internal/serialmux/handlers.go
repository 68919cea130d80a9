package serialmux

import (
	"fmt"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

var logf = monitoring.Component("serialmux")

// Router receives decoded readings. *pipeline.Pipeline satisfies it.
type Router interface {
	Observe(spotID int, distance float64) (occupancy.State, error)
	ObserveOccupied(spotID int, occupied bool) (occupancy.State, error)
}

// HandleEvent routes one line into r. Lines without a spot are attributed
// to defaultSpot. It returns the event type so callers can count lines;
// unknown lines are logged and dropped.
func HandleEvent(r Router, defaultSpot int, payload string) (string, error) {
	reading, kind, err := ParseReading(payload)
	if err != nil {
		return kind, err
	}

	spot := defaultSpot
	if reading.Spot != nil {
		spot = *reading.Spot
	}

	switch kind {
	case EventTypeOccupancy:
		if _, err := r.ObserveOccupied(spot, *reading.Occupied); err != nil {
			return kind, fmt.Errorf("failed to handle occupancy event: %w", err)
		}
	case EventTypeDistance:
		if _, err := r.Observe(spot, *reading.Distance); err != nil {
			return kind, fmt.Errorf("failed to handle distance event: %w", err)
		}
	default:
		logf("unknown event type: %s", payload)
	}
	return kind, nil
}
