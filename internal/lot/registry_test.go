package lot

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InsertionOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"C", "A", "B"} {
		_, err := r.NewLot(Config{Name: name})
		require.NoError(t, err)
	}

	var names []string
	for _, l := range r.Lots() {
		names = append(names, l.Name())
	}
	assert.Equal(t, []string{"C", "A", "B"}, names)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_DuplicateKey(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.NewLot(Config{Name: "Garage", Coordinates: r2.Point{X: 1, Y: 1}})
	require.NoError(t, err)

	_, err = r.NewLot(Config{Name: "Garage", Coordinates: r2.Point{X: 1, Y: 1}})
	assert.ErrorIs(t, err, ErrDuplicateLot)

	// Same name elsewhere is a different lot.
	_, err = r.NewLot(Config{Name: "Garage", Coordinates: r2.Point{X: 9, Y: 9}})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(nil)
	want, err := r.NewLot(Config{Name: "Campus Garage"})
	require.NoError(t, err)

	got, err := r.Get("Campus Garage")
	require.NoError(t, err)
	assert.Same(t, want, got)

	_, err = r.Get("Nowhere")
	assert.ErrorIs(t, err, ErrUnknownLot)

	_, err = r.NewLot(Config{Name: "Campus Garage", Coordinates: r2.Point{X: 3}})
	require.NoError(t, err)
	_, err = r.Get("Campus Garage")
	assert.ErrorIs(t, err, ErrAmbiguousLot)
}

func TestCensus_SharedAndMonotonic(t *testing.T) {
	census := &Census{}
	a := NewRegistry(census)
	b := NewRegistry(census)

	_, err := a.NewLot(Config{Name: "one"})
	require.NoError(t, err)
	_, err = b.NewLot(Config{Name: "two"})
	require.NoError(t, err)
	// Rejected duplicates were still constructed.
	_, err = b.NewLot(Config{Name: "two"})
	require.Error(t, err)

	assert.Equal(t, int64(3), census.Constructed())
	assert.Same(t, census, a.Census())
}
