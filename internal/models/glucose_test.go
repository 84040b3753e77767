package models

import (
	"testing"
	"time"
)

func TestGlucoseThresholds_Status(t *testing.T) {
	thresholds := DefaultGlucoseThresholds()

	tests := []struct {
		name     string
		mgdl     float64
		expected string
	}{
		{"Urgent low", 50, "urgent_low"},
		{"Low", 60, "low"},
		{"Normal low boundary", 70, "low"},
		{"Normal", 120, "normal"},
		{"Normal high boundary", 180, "high"},
		{"High", 200, "high"},
		{"Urgent high", 260, "urgent_high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := thresholds.Status(tt.mgdl)
			if result != tt.expected {
				t.Errorf("Status(%v) = %s, want %s", tt.mgdl, result, tt.expected)
			}
		})
	}
}

func TestNewGlucoseSample_ConvertsMmol(t *testing.T) {
	sample, err := NewGlucoseSample(time.Unix(0, 0), Q(5.55, MillimolesPerLiter))
	if err != nil {
		t.Fatalf("NewGlucoseSample() error = %v", err)
	}
	if sample.Value < 99.9 || sample.Value > 100.1 {
		t.Errorf("Value = %f, want approximately 100", sample.Value)
	}
	if sample.ValueMmolL() < 5.54 || sample.ValueMmolL() > 5.56 {
		t.Errorf("ValueMmolL() = %f, want approximately 5.55", sample.ValueMmolL())
	}
}

func TestNewGlucoseSample_RejectsGrams(t *testing.T) {
	if _, err := NewGlucoseSample(time.Unix(0, 0), Q(10, Grams)); err == nil {
		t.Error("NewGlucoseSample() with grams should fail")
	}
}

func TestDeduplicateGlucose(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	samples := []GlucoseSample{
		{StartDate: base.Add(10 * time.Minute), Value: 130},
		{StartDate: base, Value: 120},
		{StartDate: base.Add(5 * time.Minute), Value: 125},
		{StartDate: base.Add(5*time.Minute + 20*time.Second), Value: 126},
	}

	got := DeduplicateGlucose(samples, 30*time.Second)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []float64{120, 125, 130} {
		if got[i].Value != want {
			t.Errorf("got[%d].Value = %v, want %v", i, got[i].Value, want)
		}
	}
}
