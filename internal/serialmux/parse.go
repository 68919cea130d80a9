package serialmux

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventTypeOccupancy = "occupancy"
	EventTypeDistance  = "distance"
	EventTypeUnknown   = "unknown"
)

// Reading is one line reported by a sensor node. Spot is nil when the node
// reports for a single spot and leaves attribution to the receiver.
type Reading struct {
	Spot     *int     `json:"spot,omitempty"`
	Occupied *bool    `json:"occupied,omitempty"`
	Distance *float64 `json:"distance_cm,omitempty"`
}

// ClassifyPayload returns the event type of a line without fully decoding
// it: occupancy lines carry an "occupied" field, distance lines carry
// "distance_cm". Anything else, including non-JSON chatter, is unknown.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(payload, `"occupied"`) {
		return EventTypeOccupancy
	}
	if strings.Contains(payload, `"distance_cm"`) {
		return EventTypeDistance
	}
	return EventTypeUnknown
}

// ParseReading decodes a line and checks that it matches its event type.
func ParseReading(payload string) (Reading, string, error) {
	kind := ClassifyPayload(payload)
	if kind == EventTypeUnknown {
		return Reading{}, kind, nil
	}

	var r Reading
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &r); err != nil {
		return Reading{}, kind, fmt.Errorf("failed to unmarshal %s line: %w", kind, err)
	}
	switch kind {
	case EventTypeOccupancy:
		if r.Occupied == nil {
			return Reading{}, kind, fmt.Errorf("occupancy line has null occupied field")
		}
	case EventTypeDistance:
		if r.Distance == nil {
			return Reading{}, kind, fmt.Errorf("distance line has null distance_cm field")
		}
		if *r.Distance <= 0 {
			return Reading{}, kind, fmt.Errorf("distance line has non-positive distance_cm %g", *r.Distance)
		}
		if r.Spot == nil {
			return Reading{}, kind, fmt.Errorf("distance line is missing spot")
		}
	}
	return r, kind, nil
}
