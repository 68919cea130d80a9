package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/telemetry"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testConfig() *config.SiteConfig {
	cfg := config.EmptySiteConfig()
	cfg.DebounceWindow = ptr(1)
	cfg.Lots = []lot.Config{{
		Name:        "Campus Garage",
		Address:     "123 College Ave",
		Fee:         2.50,
		TimeLimit:   60,
		Coordinates: r2.Point{X: 10, Y: 5},
		Spots: []lot.SpotConfig{
			{ID: 1, Baseline: 40},
			{ID: 2, Baseline: 40},
		},
	}}
	return cfg
}

func newTestSite(t *testing.T, cfg *config.SiteConfig, readings *bytes.Buffer) (*site, *timeutil.ManualClock) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	clock := timeutil.NewManualClock(epoch)
	var s *site
	if readings != nil {
		s, err = newSite(cfg, database, tel, clock, readings)
	} else {
		s, err = newSite(cfg, database, tel, clock, nil)
	}
	require.NoError(t, err)
	return s, clock
}

// chanMux hands routeSerial a fixed channel of lines.
type chanMux struct {
	ch chan string
}

func (m *chanMux) Subscribe() (string, chan string) { return "only", m.ch }
func (m *chanMux) Unsubscribe(string) {}
func (m *chanMux) SendCommand(string) error { return nil }
func (m *chanMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (m *chanMux) Close() error { return nil }
func (m *chanMux) AttachAdminRoutes(*http.ServeMux) {}

func TestNewSite(t *testing.T) {
	s, _ := newTestSite(t, testConfig(), nil)

	assert.Equal(t, 1, s.registry.Len())
	require.Len(t, s.pipelines, 1)

	p, err := s.serialPipeline(testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Campus Garage", p.Lot().Name())

	cfg := testConfig()
	cfg.Serial.Lot = "Nowhere"
	_, err = s.serialPipeline(cfg)
	assert.ErrorIs(t, err, lot.ErrUnknownLot)
}

func TestSerialPipeline_SharedName(t *testing.T) {
	cfg := testConfig()
	second := cfg.Lots[0]
	second.Coordinates = r2.Point{X: 50, Y: 50}
	second.Spots = []lot.SpotConfig{{ID: 1, Baseline: 40}}
	cfg.Lots = append(cfg.Lots, second)
	s, _ := newTestSite(t, cfg, nil)
	require.Len(t, s.pipelines, 2, "both lots keep their own pipeline")

	cfg.Serial.Lot = "Campus Garage"
	_, err := s.serialPipeline(cfg)
	assert.ErrorIs(t, err, lot.ErrAmbiguousLot)

	cfg.Serial.Lot = ""
	p, err := s.serialPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, r2.Point{X: 10, Y: 5}, p.Lot().Coordinates())
}

func TestSerialPipeline_NoLots(t *testing.T) {
	cfg := testConfig()
	cfg.Lots = nil
	s, _ := newTestSite(t, cfg, nil)

	p, err := s.serialPipeline(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewSite_FreeParking(t *testing.T) {
	cfg := testConfig()
	cfg.HourlyRate = ptr(0.0)
	s, _ := newTestSite(t, cfg, nil)

	assert.Zero(t, s.visits.Price(time.Hour))
}

func TestNewSite_InvalidLot(t *testing.T) {
	cfg := testConfig()
	cfg.Lots = append(cfg.Lots, cfg.Lots[0])

	database, err := db.NewDB(filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	defer database.Close()
	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	_, err = newSite(cfg, database, tel, timeutil.NewManualClock(epoch), nil)
	assert.ErrorIs(t, err, lot.ErrDuplicateLot)
}

func TestRouteSerial(t *testing.T) {
	var readings bytes.Buffer
	s, _ := newTestSite(t, testConfig(), &readings)
	p, err := s.serialPipeline(testConfig())
	require.NoError(t, err)

	m := &chanMux{ch: make(chan string, 4)}
	m.ch <- `{"occupied":true}`
	m.ch <- `{"spot":2,"distance_cm":12.5}`
	m.ch <- `boot v1.2`
	m.ch <- `{"spot":7,"occupied":false}`
	close(m.ch)

	routeSerial(context.Background(), m, p, 1, s.metrics)

	for _, id := range []int{1, 2} {
		spot, err := p.Lot().Spot(id)
		require.NoError(t, err)
		assert.Equal(t, occupancy.Occupied, spot.State, "spot %d", id)
	}

	assert.Equal(t, 2.0, promtest.ToFloat64(s.metrics.SerialLines.WithLabelValues(serialmux.EventTypeOccupancy)))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.SerialLines.WithLabelValues(serialmux.EventTypeDistance)))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.SerialLines.WithLabelValues(serialmux.EventTypeUnknown)))

	events, err := s.history.OccupancyEvents("Campus Garage", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Contains(t, readings.String(), `"spot":2`)
}

func TestRouteSerial_StopsOnCancel(t *testing.T) {
	s, _ := newTestSite(t, testConfig(), nil)
	p, err := s.serialPipeline(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		routeSerial(ctx, &chanMux{ch: make(chan string)}, p, 1, s.metrics)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routeSerial did not return after cancel")
	}
}

func TestOverstaySweeper(t *testing.T) {
	s, clock := newTestSite(t, testConfig(), nil)
	sweeper := newOverstaySweeper(s, clock)

	d, created := s.drivers.Register(1, 10, r2.Point{})
	require.True(t, created)
	l, err := s.registry.Get("Campus Garage")
	require.NoError(t, err)
	require.NoError(t, s.sessions.ParkIn(context.Background(), d, l, 1))

	clock.Advance(59 * time.Minute)
	assert.Empty(t, sweeper.Sweep())

	clock.Advance(2 * time.Minute)
	fresh := sweeper.Sweep()
	require.Len(t, fresh, 1)
	assert.Equal(t, 1, fresh[0].UserID)
	assert.Equal(t, time.Minute, fresh[0].Over)

	clock.Advance(5 * time.Minute)
	assert.Empty(t, sweeper.Sweep(), "an overstay is reported once")

	n, err := s.history.OverstayCount(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.Overstays.WithLabelValues("Campus Garage")))

	_, err = s.sessions.LeaveParkingLot(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, sweeper.Sweep())
	assert.Empty(t, sweeper.reported)
}

func TestListLots(t *testing.T) {
	cfg := testConfig()
	cfg.Lots = append(cfg.Lots, lot.Config{
		Name:        "Downtown Lot",
		Fee:         1250,
		Coordinates: r2.Point{X: 0, Y: 0},
	})

	var out bytes.Buffer
	require.NoError(t, listLots(&out, cfg, r2.Point{}))
	text := out.String()

	assert.Contains(t, text, "Fee: $2.50 for 1 hours and 0 minutes")
	assert.Contains(t, text, "Fee: $1,250.00 for no time limit")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("Downtown Lot")), bytes.Index(out.Bytes(), []byte("Campus Garage")),
		"nearest lot first")
}

func TestReadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.txt")
	require.NoError(t, os.WriteFile(path, []byte("{\"occupied\":true}\n\n  \n{\"occupied\":false}\n"), 0o644))

	lines, err := readFixture(path)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"occupied":true}`, `{"occupied":false}`}, lines)

	_, err = readFixture(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestOpenSerial(t *testing.T) {
	cfg := testConfig()

	m, err := openSerial(cfg)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, m, "no port configured")
	require.NoError(t, m.Close())

	path := filepath.Join(t.TempDir(), "fixture.txt")
	require.NoError(t, os.WriteFile(path, []byte("{\"occupied\":true}\n"), 0o644))
	*mockSerial = path
	t.Cleanup(func() { *mockSerial = "" })

	m, err = openSerial(cfg)
	require.NoError(t, err)
	_, ch := m.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Monitor(ctx) }()
	select {
	case line := <-ch:
		assert.Equal(t, `{"occupied":true}`, line)
	case <-time.After(5 * time.Second):
		t.Fatal("no line replayed")
	}
	require.NoError(t, m.Close())

	*disableSerial = true
	t.Cleanup(func() { *disableSerial = false })
	m, err = openSerial(cfg)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, m)
}
