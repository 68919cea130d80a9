package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/units"
)

// DefaultConfigPath is the path to the canonical site defaults file.
const DefaultConfigPath = "config/site.defaults.json"

// SiteConfig is the root configuration for a deployment: the lots and spots
// being monitored and how readings are turned into occupancy.
type SiteConfig struct {
	Listen           *string  `json:"listen,omitempty"`
	DBPath           *string  `json:"db_path,omitempty"`
	DebounceWindow   *int     `json:"debounce_window,omitempty"`
	PollInterval     *string  `json:"poll_interval,omitempty"`  // duration string like "200ms"
	SensorTimeout    *string  `json:"sensor_timeout,omitempty"` // duration string like "30ms"
	MinVisit         *string  `json:"min_visit,omitempty"`      // duration string like "3s"
	HourlyRate       *float64 `json:"hourly_rate,omitempty"`
	RequireFunds     *bool    `json:"require_funds,omitempty"`
	OverstaySchedule *string  `json:"overstay_schedule,omitempty"` // cron spec
	Units            *string  `json:"units,omitempty"`
	Timezone         *string  `json:"timezone,omitempty"`

	Serial    SerialConfig    `json:"serial"`
	Telemetry TelemetryConfig `json:"telemetry"`

	Lots []lot.Config `json:"lots"`
}

// SerialConfig describes a remote sensor node on a serial port. Lines
// without a spot field are attributed to DefaultSpot of Lot.
type SerialConfig struct {
	Port        string `json:"port,omitempty"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	DataBits    int    `json:"data_bits,omitempty"`
	StopBits    int    `json:"stop_bits,omitempty"`
	Parity      string `json:"parity,omitempty"`
	Lot         string `json:"lot,omitempty"`
	DefaultSpot int    `json:"default_spot,omitempty"`
}

// TelemetryConfig enables OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// EmptySiteConfig returns a SiteConfig with every optional field unset.
func EmptySiteConfig() *SiteConfig {
	return &SiteConfig{}
}

// LoadSiteConfig loads a SiteConfig from a JSON file. The file must have a
// .json extension and be under 1MB. Omitted fields fall back to the Get*
// defaults.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySiteConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if it cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *SiteConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSiteConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *SiteConfig) Validate() error {
	for name, v := range map[string]*string{
		"poll_interval":  c.PollInterval,
		"sensor_timeout": c.SensorTimeout,
		"min_visit":      c.MinVisit,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.DebounceWindow != nil && *c.DebounceWindow < 1 {
		return fmt.Errorf("debounce_window must be at least 1, got %d", *c.DebounceWindow)
	}
	if c.HourlyRate != nil && *c.HourlyRate < 0 {
		return fmt.Errorf("hourly_rate must be non-negative, got %f", *c.HourlyRate)
	}
	if c.OverstaySchedule != nil && *c.OverstaySchedule != "" {
		if _, err := cron.ParseStandard(*c.OverstaySchedule); err != nil {
			return fmt.Errorf("invalid overstay_schedule '%s': %w", *c.OverstaySchedule, err)
		}
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q, must be one of: %s", *c.Units, units.GetValidUnitsString())
	}

	if c.Timezone != nil && *c.Timezone != "" && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}

	seen := make(map[string]bool)
	for i, l := range c.Lots {
		if l.Name == "" {
			return fmt.Errorf("lots[%d]: name is required", i)
		}
		if l.Fee < 0 {
			return fmt.Errorf("lot %q: fee must be non-negative, got %f", l.Name, l.Fee)
		}
		if l.TimeLimit < 0 {
			return fmt.Errorf("lot %q: time_limit_minutes must be non-negative, got %d", l.Name, l.TimeLimit)
		}
		key := fmt.Sprintf("%s@%g,%g", l.Name, l.Coordinates.X, l.Coordinates.Y)
		if seen[key] {
			return fmt.Errorf("lot %q at (%g, %g) is listed twice", l.Name, l.Coordinates.X, l.Coordinates.Y)
		}
		seen[key] = true
		for _, s := range l.Spots {
			if s.Baseline <= 0 {
				return fmt.Errorf("lot %q spot %d: baseline_cm must be positive, got %f", l.Name, s.ID, s.Baseline)
			}
		}
	}

	if c.Serial.Port != "" {
		if c.Serial.Lot == "" {
			return fmt.Errorf("serial.lot is required when serial.port is set")
		}
		switch n := c.lotsNamed(c.Serial.Lot); {
		case n == 0:
			return fmt.Errorf("serial.lot %q does not match any configured lot", c.Serial.Lot)
		case n > 1:
			return fmt.Errorf("serial.lot %q matches %d lots at different coordinates", c.Serial.Lot, n)
		}
	}
	return nil
}

func (c *SiteConfig) lotsNamed(name string) int {
	n := 0
	for _, l := range c.Lots {
		if l.Name == name {
			n++
		}
	}
	return n
}

// GetListen returns the HTTP listen address or the default.
func (c *SiteConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the history database path or the default.
func (c *SiteConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "occupancy.db"
	}
	return *c.DBPath
}

// GetDebounceWindow returns the debounce_window value or the default.
func (c *SiteConfig) GetDebounceWindow() int {
	if c.DebounceWindow == nil {
		return 3
	}
	return *c.DebounceWindow
}

// GetPollInterval parses and returns the PollInterval.
func (c *SiteConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 200*time.Millisecond)
}

// GetSensorTimeout parses and returns the SensorTimeout.
func (c *SiteConfig) GetSensorTimeout() time.Duration {
	return parseDurationOr(c.SensorTimeout, 30*time.Millisecond)
}

// GetMinVisit parses and returns the MinVisit.
func (c *SiteConfig) GetMinVisit() time.Duration {
	return parseDurationOr(c.MinVisit, 3*time.Second)
}

// GetHourlyRate returns the hourly_rate value or the default.
func (c *SiteConfig) GetHourlyRate() float64 {
	if c.HourlyRate == nil {
		return 20.0
	}
	return *c.HourlyRate
}

// GetRequireFunds returns the require_funds value or the default.
func (c *SiteConfig) GetRequireFunds() bool {
	if c.RequireFunds == nil {
		return false // default: balances may go negative
	}
	return *c.RequireFunds
}

// GetOverstaySchedule returns the cron spec for the overstay sweep.
func (c *SiteConfig) GetOverstaySchedule() string {
	if c.OverstaySchedule == nil || *c.OverstaySchedule == "" {
		return "*/5 * * * *"
	}
	return *c.OverstaySchedule
}

// GetUnits returns the display units for distances.
func (c *SiteConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return units.CM
	}
	return *c.Units
}

// GetTimezone returns the display timezone or UTC.
func (c *SiteConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "UTC"
	}
	return *c.Timezone
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
