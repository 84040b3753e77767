package models

import (
	"sort"
	"time"
)

// GlucoseSample is a single sensor reading. Value is always mg/dL; use
// NewGlucoseSample to build one from a Quantity in either unit system.
type GlucoseSample struct {
	StartDate     time.Time `json:"startDate"`
	Value         float64   `json:"value"` // mg/dL
	IsDisplayOnly bool      `json:"isDisplayOnly"`
	Device        string    `json:"device,omitempty"`
}

// NewGlucoseSample converts q to mg/dL
func NewGlucoseSample(date time.Time, q Quantity) (GlucoseSample, error) {
	v, err := q.In(MilligramsPerDeciliter)
	if err != nil {
		return GlucoseSample{}, err
	}
	return GlucoseSample{StartDate: date, Value: v}, nil
}

// Quantity returns the reading as a mg/dL Quantity
func (g GlucoseSample) Quantity() Quantity {
	return Q(g.Value, MilligramsPerDeciliter)
}

// ValueMmolL returns the glucose value in mmol/L
func (g GlucoseSample) ValueMmolL() float64 {
	return ToMmol(g.Value)
}

// SortGlucose returns a copy of samples ordered by StartDate
func SortGlucose(samples []GlucoseSample) []GlucoseSample {
	sorted := make([]GlucoseSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})
	return sorted
}

// DeduplicateGlucose orders samples and drops any sample whose timestamp is
// within tolerance of the previously kept one.
func DeduplicateGlucose(samples []GlucoseSample, tolerance time.Duration) []GlucoseSample {
	sorted := SortGlucose(samples)
	if len(sorted) == 0 {
		return sorted
	}

	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s.StartDate.Sub(out[len(out)-1].StartDate) <= tolerance {
			continue
		}
		out = append(out, s)
	}
	return out
}

// GlucoseThresholds classify a glucose value for reporting
type GlucoseThresholds struct {
	UrgentLow  float64 `json:"urgentLow"`
	TargetLow  float64 `json:"targetLow"`
	TargetHigh float64 `json:"targetHigh"`
	UrgentHigh float64 `json:"urgentHigh"`
}

// DefaultGlucoseThresholds returns the usual 55/70/180/250 mg/dL bands
func DefaultGlucoseThresholds() GlucoseThresholds {
	return GlucoseThresholds{
		UrgentLow:  55,
		TargetLow:  70,
		TargetHigh: 180,
		UrgentHigh: 250,
	}
}

// Status returns the status string for a glucose value in mg/dL
func (t GlucoseThresholds) Status(mgdl float64) string {
	switch {
	case mgdl <= t.UrgentLow:
		return "urgent_low"
	case mgdl <= t.TargetLow:
		return "low"
	case mgdl >= t.UrgentHigh:
		return "urgent_high"
	case mgdl >= t.TargetHigh:
		return "high"
	default:
		return "normal"
	}
}
