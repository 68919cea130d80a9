package lot

import (
	"errors"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

func threeSpotLot(t *testing.T) *Lot {
	t.Helper()
	l, err := NewRegistry(nil).NewLot(Config{
		Name:        "North Deck",
		Address:     "1 Main St",
		Fee:         4,
		TimeLimit:   60,
		Coordinates: r2.Point{X: 1, Y: 2},
		Spots: []SpotConfig{
			{ID: 1, Sensor: SensorBinding{TriggerPin: 2, EchoPin: 4}, Baseline: 40},
			{ID: 2, Sensor: SensorBinding{TriggerPin: 5, EchoPin: 6}, Baseline: 40},
			{ID: 3, Sensor: SensorBinding{TriggerPin: 7, EchoPin: 8}, Baseline: 40},
		},
	})
	require.NoError(t, err)
	return l
}

func TestLot_Accessors(t *testing.T) {
	l := threeSpotLot(t)

	assert.Equal(t, "North Deck", l.Name())
	assert.Equal(t, "1 Main St", l.Address())
	assert.Equal(t, 4.0, l.Fee())
	assert.Equal(t, 60, l.TimeLimit())
	assert.Equal(t, r2.Point{X: 1, Y: 2}, l.Coordinates())
	assert.Equal(t, DefaultCapacity, l.Capacity())
	assert.Equal(t, 3, l.TotalSpots())

	for _, s := range l.Spots() {
		assert.Equal(t, occupancy.Unknown, s.State, "new spots start unknown")
	}
}

func TestLot_UpdateSpotStatus_LastWriteWins(t *testing.T) {
	l := threeSpotLot(t)
	require.NoError(t, l.UpdateSpotStatus(2, false))
	require.NoError(t, l.UpdateSpotStatus(3, true))

	require.NoError(t, l.UpdateSpotStatus(1, true))
	require.NoError(t, l.UpdateSpotStatus(1, false))

	s, err := l.Spot(1)
	require.NoError(t, err)
	assert.False(t, s.Occupied())

	s2, _ := l.Spot(2)
	s3, _ := l.Spot(3)
	assert.Equal(t, occupancy.Vacant, s2.State)
	assert.Equal(t, occupancy.Occupied, s3.State)
	assert.Equal(t, 1, l.OccupiedCount())
}

func TestLot_UpdateSpotStatus_UnknownSpot(t *testing.T) {
	l := threeSpotLot(t)
	require.NoError(t, l.UpdateSpotStatus(2, true))
	before := l.Spots()

	err := l.UpdateSpotStatus(999, true)
	assert.True(t, errors.Is(err, ErrUnknownSpot))

	if diff := cmp.Diff(before, l.Spots()); diff != "" {
		t.Errorf("spots changed after unknown spot update (-before +after):\n%s", diff)
	}
}

func TestLot_SetSpotStateUnknown(t *testing.T) {
	l := threeSpotLot(t)
	require.NoError(t, l.UpdateSpotStatus(1, true))
	require.NoError(t, l.SetSpotState(1, occupancy.Unknown))

	s, _ := l.Spot(1)
	assert.Equal(t, occupancy.Unknown, s.State)
	assert.False(t, s.Occupied())
}

func TestLot_Capacity(t *testing.T) {
	l, err := NewRegistry(nil).NewLot(Config{Name: "Tiny", Capacity: 2})
	require.NoError(t, err)

	require.NoError(t, l.AddSpot(SpotConfig{ID: 1}))
	require.NoError(t, l.AddSpot(SpotConfig{ID: 2}))
	err = l.AddSpot(SpotConfig{ID: 3})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, l.TotalSpots())
}

func TestLot_ConfigOverCapacityFails(t *testing.T) {
	_, err := NewRegistry(nil).NewLot(Config{
		Name:     "Tiny",
		Capacity: 1,
		Spots:    []SpotConfig{{ID: 1}, {ID: 2}},
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestLot_DuplicateSpot(t *testing.T) {
	l := threeSpotLot(t)
	assert.ErrorIs(t, l.AddSpot(SpotConfig{ID: 2}), ErrDuplicateSpot)
	assert.Equal(t, 3, l.TotalSpots())
}

func TestLot_InvalidConfig(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.NewLot(Config{Name: "Bad", Fee: -1})
	assert.ErrorIs(t, err, ErrInvalidLot)
	_, err = r.NewLot(Config{Name: "Bad", TimeLimit: -5})
	assert.ErrorIs(t, err, ErrInvalidLot)
	assert.Equal(t, 0, r.Len())
}

func TestLot_ClaimRelease(t *testing.T) {
	l := threeSpotLot(t)

	require.NoError(t, l.Claim(1, 42))
	assert.ErrorIs(t, l.Claim(1, 7), ErrSpotTaken)
	assert.ErrorIs(t, l.Claim(1, 42), ErrSpotTaken)
	assert.ErrorIs(t, l.Claim(99, 7), ErrUnknownSpot)

	s, _ := l.Spot(1)
	assert.Equal(t, 42, s.Holder)
	assert.Equal(t, occupancy.Unknown, s.State, "claims do not touch sensor state")

	assert.ErrorIs(t, l.Release(1, 7), ErrNotHolder)
	require.NoError(t, l.Release(1, 42))
	require.NoError(t, l.Claim(1, 7))
}

func TestLot_ClaimRejectsNonPositiveUser(t *testing.T) {
	l := threeSpotLot(t)

	for _, id := range []int{0, -3} {
		assert.ErrorIs(t, l.Claim(1, id), ErrInvalidHolder, "user %d", id)
		assert.ErrorIs(t, l.Release(1, id), ErrInvalidHolder, "user %d", id)
	}
	s, _ := l.Spot(1)
	assert.Zero(t, s.Holder)
	require.NoError(t, l.Claim(1, 7))
}

func TestLot_ConcurrentClaimSingleWinner(t *testing.T) {
	l := threeSpotLot(t)

	const drivers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 1; i <= drivers; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()
			if err := l.Claim(2, user); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
