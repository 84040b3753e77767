// Package glucose derives effects from the glucose history itself: the
// short-term momentum trend and insulin counteraction.
package glucose

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/mrcode/nightscout-loop/internal/models"
)

// Momentum defaults
const (
	DefaultMomentumDuration   = 30 * time.Minute
	DefaultDelta              = 5 * time.Minute
	DefaultContinuousInterval = 5 * time.Minute
	// DefaultMomentumDataInterval is how far back samples feed the trend
	DefaultMomentumDataInterval = 15 * time.Minute
)

// IsContinuous reports whether samples form an unbroken series: at least
// two of them, spanning less than interval per sample.
func IsContinuous(samples []models.GlucoseSample, interval time.Duration) bool {
	if len(samples) < 2 {
		return false
	}
	span := samples[len(samples)-1].StartDate.Sub(samples[0].StartDate)
	return span < interval*time.Duration(len(samples))
}

// Slope returns the least-squares glucose trend in mg/dL per second. ok is
// false when the fit is degenerate.
func Slope(samples []models.GlucoseSample) (slope float64, ok bool) {
	if len(samples) < 2 {
		return 0, false
	}
	first := samples[0].StartDate
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.StartDate.Sub(first).Seconds()
		ys[i] = s.Value
	}

	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if !models.IsFinite(beta) {
		return 0, false
	}
	return beta, true
}

// LinearMomentumEffect extrapolates the trend of chronologically ordered
// samples forward from the last one. It returns nil for fewer than two
// samples, a gapped series or a degenerate slope.
func LinearMomentumEffect(samples []models.GlucoseSample, duration, delta, continuousInterval time.Duration) []models.GlucoseEffect {
	if !IsContinuous(samples, continuousInterval) {
		return nil
	}
	slope, ok := Slope(samples)
	if !ok {
		return nil
	}

	last := samples[len(samples)-1].StartDate
	start := models.FloorDate(last, delta)
	end := start.Add(duration)

	var effects []models.GlucoseEffect
	for date := start; !date.After(end); date = date.Add(delta) {
		elapsed := date.Sub(last).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		effects = append(effects, models.GlucoseEffect{StartDate: date, Value: elapsed * slope})
	}
	return effects
}

// RecentSamples returns the samples usable for computation within window before
// the latest one, in order.
func RecentSamples(samples []models.GlucoseSample, window time.Duration) []models.GlucoseSample {
	if len(samples) == 0 {
		return nil
	}
	cutoff := samples[len(samples)-1].StartDate.Add(-window)
	var out []models.GlucoseSample
	for _, s := range samples {
		if s.IsDisplayOnly || s.StartDate.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}
