package rangefinder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// recordingTrigger records every level written to the trigger line along
// with the manual clock time.
type recordingTrigger struct {
	clock  *timeutil.ManualClock
	levels []bool
	at     []time.Time
	err    error
}

func (r *recordingTrigger) Set(high bool) error {
	if r.err != nil {
		return r.err
	}
	r.levels = append(r.levels, high)
	r.at = append(r.at, r.clock.Now())
	return nil
}

// scriptedEcho simulates an echo pulse relative to the end of the trigger
// pulse. Every read advances the manual clock by one microsecond, standing in
// for the time a real poll takes.
type scriptedEcho struct {
	clock   *timeutil.ManualClock
	trigger *recordingTrigger
	rise    time.Duration // delay after trigger drop before echo goes high; <0 never
	width   time.Duration // how long echo stays high; <0 forever
	err     error
}

func (e *scriptedEcho) Level() (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	defer e.clock.Advance(time.Microsecond)
	if len(e.trigger.at) == 0 || e.rise < 0 {
		return false, nil
	}
	dropped := e.trigger.at[len(e.trigger.at)-1]
	since := e.clock.Since(dropped)
	if since < e.rise {
		return false, nil
	}
	if e.width < 0 {
		return true, nil
	}
	return since < e.rise+e.width, nil
}

func newTestSensor(rise, width time.Duration) (*Sensor, *recordingTrigger, *timeutil.ManualClock) {
	clock := timeutil.NewManualClock(time.Unix(1700000000, 0))
	trig := &recordingTrigger{clock: clock}
	echo := &scriptedEcho{clock: clock, trigger: trig, rise: rise, width: width}
	return &Sensor{Trigger: trig, Echo: echo, Clock: clock, Timeout: 30 * time.Millisecond}, trig, clock
}

func TestDistance(t *testing.T) {
	// 2332µs round trip is ~40cm
	assert.InDelta(t, 39.9938, Distance(2332*time.Microsecond), 1e-9)
	assert.Equal(t, 0.0, Distance(0))
}

func TestMeasure_PulseProtocol(t *testing.T) {
	s, trig, _ := newTestSensor(100*time.Microsecond, 2332*time.Microsecond)

	_, err := s.Measure(context.Background())
	require.NoError(t, err)

	require.Equal(t, []bool{false, true, false}, trig.levels)
	assert.Equal(t, SettleTime, trig.at[1].Sub(trig.at[0]))
	assert.Equal(t, PulseWidth, trig.at[2].Sub(trig.at[1]))
}

func TestMeasure_Distance(t *testing.T) {
	s, _, _ := newTestSensor(100*time.Microsecond, 2332*time.Microsecond)

	d, err := s.Measure(context.Background())
	require.NoError(t, err)
	// one microsecond of polling granularity either side
	assert.InDelta(t, 39.99, d, SpeedOfSound)
}

func TestMeasure_NoEchoTimesOut(t *testing.T) {
	s, _, clock := newTestSensor(-1, 0)
	start := clock.Now()

	d, err := s.Measure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSensorTimeout))
	assert.Equal(t, OutOfRange, d)
	assert.Less(t, clock.Since(start), 31*time.Millisecond)
}

func TestMeasure_EchoStuckHighTimesOut(t *testing.T) {
	s, _, _ := newTestSensor(50*time.Microsecond, -1)

	d, err := s.Measure(context.Background())
	assert.ErrorIs(t, err, ErrSensorTimeout)
	assert.Equal(t, OutOfRange, d)
}

func TestMeasure_ContextCancelled(t *testing.T) {
	s, _, _ := newTestSensor(-1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Measure(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMeasure_LineErrors(t *testing.T) {
	boom := errors.New("gpio gone")

	s, trig, _ := newTestSensor(0, time.Millisecond)
	trig.err = boom
	_, err := s.Measure(context.Background())
	assert.ErrorIs(t, err, boom)

	s, _, _ = newTestSensor(0, time.Millisecond)
	s.Echo.(*scriptedEcho).err = boom
	_, err = s.Measure(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSensor_ZeroTimeoutUsesDefault(t *testing.T) {
	s := &Sensor{}
	assert.Equal(t, DefaultTimeout, s.timeout())
	assert.NotNil(t, s.clock())
}

type fakeModem struct {
	rts    bool
	cts    bool
	err    error
	closed bool
}

func (f *fakeModem) SetRTS(rts bool) error { f.rts = rts; return nil }
func (f *fakeModem) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &serial.ModemStatusBits{CTS: f.cts}, nil
}
func (f *fakeModem) Close() error { f.closed = true; return nil }

func TestModemLines(t *testing.T) {
	port := &fakeModem{cts: true}
	lines := &ModemLines{Port: port}

	require.NoError(t, lines.Set(true))
	assert.True(t, port.rts)
	level, err := lines.Level()
	require.NoError(t, err)
	assert.True(t, level)

	lines.Invert = true
	require.NoError(t, lines.Set(true))
	assert.False(t, port.rts)
	level, err = lines.Level()
	require.NoError(t, err)
	assert.False(t, level)

	port.err = errors.New("ioctl failed")
	_, err = lines.Level()
	assert.Error(t, err)

	require.NoError(t, lines.Close())
	assert.True(t, port.closed)
}

func TestDistance_NotNaN(t *testing.T) {
	assert.False(t, math.IsNaN(Distance(time.Nanosecond)))
}
