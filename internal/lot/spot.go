package lot

import "github.com/banshee-data/occupancy.report/internal/occupancy"

// SensorBinding names the two lines a spot's ranging sensor is wired to.
// Device is optional: when set, it is the serial adapter whose modem lines
// carry the trigger and echo.
type SensorBinding struct {
	TriggerPin int    `json:"trigger_pin"`
	EchoPin    int    `json:"echo_pin"`
	Device     string `json:"device,omitempty"`
}

// SpotConfig describes a spot at lot setup.
type SpotConfig struct {
	ID       int           `json:"id"`
	Sensor   SensorBinding `json:"sensor"`
	Baseline float64       `json:"baseline_cm"`
}

// Spot is a snapshot of a single parking space. Spots are owned by their Lot;
// callers only ever see copies.
type Spot struct {
	ID       int             `json:"id"`
	Sensor   SensorBinding   `json:"sensor"`
	Baseline float64         `json:"baseline_cm"`
	State    occupancy.State `json:"state"`
	// Holder is the user ID of the driver assigned to the spot, 0 if none.
	Holder int `json:"holder,omitempty"`
}

// Occupied reports whether the sensor has committed the spot as occupied.
func (s Spot) Occupied() bool {
	return s.State == occupancy.Occupied
}
