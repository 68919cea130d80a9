package units

import (
	"math"
	"testing"
	"time"
)

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name     string
		cm       float64
		units    string
		expected float64
	}{
		{"40 cm to cm", 40, CM, 40},
		{"250 cm to m", 250, M, 2.5},
		{"254 cm to in", 254, IN, 100},
		{"30.48 cm to ft", 30.48, FT, 1},
		{"unknown units default to cm", 40, "furlong", 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertDistance(tt.cm, tt.units)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertDistance(%f, %s) = %f, want %f", tt.cm, tt.units, result, tt.expected)
			}
		})
	}
}

func TestRoundTripConversions(t *testing.T) {
	for _, u := range ValidUnits {
		got := ConvertToCM(ConvertDistance(123.4, u), u)
		if math.Abs(got-123.4) > 1e-9 {
			t.Errorf("round trip via %s = %f, want 123.4", u, got)
		}
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{"cm", true},
		{"m", true},
		{"in", true},
		{"ft", true},
		{"CM", false},
		{"mph", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.unit); got != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "cm, m, in, ft" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestTimezones(t *testing.T) {
	if !IsTimezoneValid("UTC") {
		t.Error("UTC should be valid")
	}
	if IsTimezoneValid("") || IsTimezoneValid("Mars/Olympus_Mons") {
		t.Error("empty and unknown zones should be invalid")
	}

	utc := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	got, err := ConvertTime(utc, "UTC")
	if err != nil || !got.Equal(utc) {
		t.Errorf("ConvertTime(UTC) = %v, %v", got, err)
	}
	if _, err := ConvertTime(utc, "Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown zone")
	}
}
