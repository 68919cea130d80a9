package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/lot"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptySiteConfigDefaults(t *testing.T) {
	cfg := EmptySiteConfig()

	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "occupancy.db", cfg.GetDBPath())
	assert.Equal(t, 3, cfg.GetDebounceWindow())
	assert.Equal(t, 200*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 30*time.Millisecond, cfg.GetSensorTimeout())
	assert.Equal(t, 3*time.Second, cfg.GetMinVisit())
	assert.Equal(t, 20.0, cfg.GetHourlyRate())
	assert.False(t, cfg.GetRequireFunds())
	assert.Equal(t, "*/5 * * * *", cfg.GetOverstaySchedule())
	assert.Equal(t, "cm", cfg.GetUnits())
	assert.Equal(t, "UTC", cfg.GetTimezone())
	assert.NoError(t, cfg.Validate())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	require.Len(t, cfg.Lots, 1)
	l := cfg.Lots[0]
	assert.Equal(t, "Campus Garage", l.Name)
	assert.Equal(t, "123 College Ave", l.Address)
	assert.Equal(t, 2.50, l.Fee)
	assert.Equal(t, 120, l.TimeLimit)
	assert.Equal(t, r2.Point{X: 10, Y: 5}, l.Coordinates)
	require.Len(t, l.Spots, 1)
	assert.Equal(t, lot.SpotConfig{
		ID:       1,
		Sensor:   lot.SensorBinding{TriggerPin: 2, EchoPin: 4},
		Baseline: 40,
	}, l.Spots[0])
	assert.Equal(t, "Campus Garage", cfg.Serial.Lot)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
}

func TestLoadSiteConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "site.json", `{"debounce_window": 5, "poll_interval": "1s"}`)

	cfg, err := LoadSiteConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GetDebounceWindow())
	assert.Equal(t, time.Second, cfg.GetPollInterval())
	assert.Equal(t, 20.0, cfg.GetHourlyRate())
}

func TestLoadSiteConfig_ExplicitZeroes(t *testing.T) {
	path := writeConfig(t, "site.json", `{"hourly_rate": 0, "min_visit": "0s"}`)

	cfg, err := LoadSiteConfig(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.GetHourlyRate())
	assert.Zero(t, cfg.GetMinVisit())
}

func TestLoadSiteConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "site.yaml", `{}`, ".json extension"},
		{"bad json", "site.json", `{`, "failed to parse"},
		{"bad duration", "site.json", `{"poll_interval": "soon"}`, "invalid poll_interval"},
		{"negative duration", "site.json", `{"min_visit": "-1s"}`, "min_visit must be non-negative"},
		{"zero window", "site.json", `{"debounce_window": 0}`, "debounce_window"},
		{"bad cron", "site.json", `{"overstay_schedule": "every tuesday"}`, "overstay_schedule"},
		{"bad units", "site.json", `{"units": "mph"}`, "invalid units"},
		{"bad timezone", "site.json", `{"timezone": "Mars/Base"}`, "invalid timezone"},
		{"unnamed lot", "site.json", `{"lots": [{}]}`, "name is required"},
		{"negative fee", "site.json", `{"lots": [{"name": "A", "fee": -1}]}`, "fee must be non-negative"},
		{"duplicate lot", "site.json", `{"lots": [{"name": "A"}, {"name": "A"}]}`, "listed twice"},
		{"zero baseline", "site.json", `{"lots": [{"name": "A", "spots": [{"id": 1}]}]}`, "baseline_cm"},
		{"serial without lot", "site.json", `{"serial": {"port": "/dev/ttyUSB0"}}`, "serial.lot is required"},
		{"serial unknown lot", "site.json", `{"serial": {"port": "/dev/ttyUSB0", "lot": "B"}, "lots": [{"name": "A"}]}`, "does not match"},
		{"serial shared lot name", "site.json", `{"serial": {"port": "/dev/ttyUSB0", "lot": "A"}, "lots": [{"name": "A"}, {"name": "A", "coordinates": {"x": 1, "y": 1}}]}`, "matches 2 lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSiteConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSiteConfig_TooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadSiteConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadSiteConfig_Missing(t *testing.T) {
	_, err := LoadSiteConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
