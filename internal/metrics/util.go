package metrics

import (
	"strconv"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

func itoa(i int) string { return strconv.Itoa(i) }

func stateValue(s occupancy.State) float64 {
	switch s {
	case occupancy.Occupied:
		return 1
	case occupancy.Vacant:
		return 0
	default:
		return -1
	}
}
