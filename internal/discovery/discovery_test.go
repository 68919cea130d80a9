package discovery

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/lot"
)

func TestEuclideanDistance(t *testing.T) {
	points := []r2.Point{
		{X: 0, Y: 0},
		{X: 10, Y: 0},
		{X: -3, Y: 4},
		{X: 2.5, Y: -7.25},
		{X: 1e6, Y: -1e6},
	}
	for _, a := range points {
		assert.Equal(t, 0.0, EuclideanDistance(a, a))
		for _, b := range points {
			assert.Equal(t, EuclideanDistance(a, b), EuclideanDistance(b, a), "%v %v", a, b)
		}
	}
	assert.Equal(t, 5.0, EuclideanDistance(r2.Point{}, r2.Point{X: -3, Y: 4}))
}

func newLots(t *testing.T, cfgs ...lot.Config) []*lot.Lot {
	t.Helper()
	r := lot.NewRegistry(nil)
	for _, c := range cfgs {
		_, err := r.NewLot(c)
		require.NoError(t, err)
	}
	return r.Lots()
}

func TestRankLotsByDistance_CampusGarage(t *testing.T) {
	lots := newLots(t, lot.Config{Name: "Campus Garage", Coordinates: r2.Point{X: 10, Y: 0}})

	var got []float64
	for _, d := range RankLotsByDistance(r2.Point{}, lots) {
		got = append(got, d)
	}
	assert.Equal(t, []float64{10.0}, got)
}

func TestRankLotsByDistance_OrderAndTies(t *testing.T) {
	lots := newLots(t,
		lot.Config{Name: "far", Coordinates: r2.Point{X: 20}},
		lot.Config{Name: "tie-a", Coordinates: r2.Point{Y: 5}},
		lot.Config{Name: "near", Coordinates: r2.Point{X: 1}},
		lot.Config{Name: "tie-b", Coordinates: r2.Point{X: -5}},
	)

	var names []string
	for l := range RankLotsByDistance(r2.Point{}, lots) {
		names = append(names, l.Name())
	}
	assert.Equal(t, []string{"near", "tie-a", "tie-b", "far"}, names)
}

func TestRankLotsByDistance_IncludesFullLotsAndStopsEarly(t *testing.T) {
	lots := newLots(t,
		lot.Config{Name: "full", Coordinates: r2.Point{X: 1}, Spots: []lot.SpotConfig{{ID: 1}}},
		lot.Config{Name: "empty", Coordinates: r2.Point{X: 2}},
	)
	require.NoError(t, lots[0].UpdateSpotStatus(1, true))

	var first string
	n := 0
	for l := range RankLotsByDistance(r2.Point{}, lots) {
		first = l.Name()
		n++
		break
	}
	assert.Equal(t, "full", first)
	assert.Equal(t, 1, n)

	assert.Len(t, Nearest(r2.Point{}, lots, 0), 2)
	got := Nearest(r2.Point{}, lots, 1)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Distance)
}

func TestRankLotsByDistance_Empty(t *testing.T) {
	for range RankLotsByDistance(r2.Point{}, nil) {
		t.Fatal("no lots should be yielded")
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "$2.50", FormatFee(2.5))
	assert.Equal(t, "$1,250.00", FormatFee(1250))
	assert.Equal(t, "2 hours and 0 minutes", FormatTimeLimit(120))
	assert.Equal(t, "1 hours and 30 minutes", FormatTimeLimit(90))
	assert.Equal(t, "no time limit", FormatTimeLimit(0))
}

func TestWriteListing(t *testing.T) {
	lots := newLots(t,
		lot.Config{
			Name: "Campus Garage", Address: "123 College Ave",
			Fee: 2.50, TimeLimit: 120, Coordinates: r2.Point{X: 10, Y: 5},
			Spots: []lot.SpotConfig{{ID: 1, Baseline: 40}},
		},
	)

	var buf bytes.Buffer
	require.NoError(t, WriteListing(&buf, r2.Point{X: 10, Y: 0}, lots))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "-- List of Parking Lots/Garages in your area --\n"))
	assert.Contains(t, out, "Campus Garage: 123 College Ave\n")
	assert.Contains(t, out, "Fee: $2.50 for 2 hours and 0 minutes\n")
	assert.Contains(t, out, "Distance: 5.00\n")
	assert.Contains(t, out, "Spots: 0 of 1 occupied\n")
}
