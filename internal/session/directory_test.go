package session

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

func TestDirectory_RegisterAndGet(t *testing.T) {
	dir := NewDirectory(Options{})

	d, created := dir.Register(7, 10, r2.Point{X: 1})
	require.True(t, created)

	again, created := dir.Register(7, 99, r2.Point{})
	assert.False(t, created)
	assert.Same(t, d, again)
	assert.Equal(t, 10.0, again.Balance())

	got, err := dir.Get(7)
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = dir.Get(8)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestDirectory_DriversOrdered(t *testing.T) {
	dir := NewDirectory(Options{})
	for _, id := range []int{5, 1, 3} {
		dir.Register(id, 0, r2.Point{})
	}
	var ids []int
	for _, d := range dir.Drivers() {
		ids = append(ids, d.UserID())
	}
	assert.Equal(t, []int{1, 3, 5}, ids)
}

func TestDirectory_Overstays(t *testing.T) {
	clock := timeutil.NewManualClock(epoch)
	dir := NewDirectory(Options{Clock: clock})
	l, err := lot.NewRegistry(nil).NewLot(lot.Config{
		Name:      "Short Stay",
		TimeLimit: 30,
		Spots:     []lot.SpotConfig{{ID: 1}, {ID: 2}},
	})
	require.NoError(t, err)

	early, _ := dir.Register(1, 10, r2.Point{})
	require.NoError(t, early.ParkIn(l, 1))

	clock.Advance(20 * time.Minute)
	late, _ := dir.Register(2, 10, r2.Point{})
	require.NoError(t, late.ParkIn(l, 2))

	dir.Register(3, 10, r2.Point{})

	got := dir.Overstays(epoch.Add(40 * time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].UserID)
	assert.Equal(t, 10*time.Minute, got[0].Over)
	assert.Equal(t, 1, got[0].Parking.SpotID)
}
