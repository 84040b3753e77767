package carbs

import (
	"math"
	"time"

	"github.com/mrcode/nightscout-loop/internal/models"
)

// DynamicConfig bounds how far observed absorption may revise an entry
type DynamicConfig struct {
	// MaxOverrun caps a revised absorption time at this multiple of the original
	MaxOverrun float64
	// MinFraction floors a revised absorption time at this share of the original
	MinFraction float64
}

// DefaultDynamicConfig allows entries to absorb between half and one and a
// half times their nominal absorption time.
func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{MaxOverrun: 1.5, MinFraction: 0.5}
}

// AbsorptionStatus is what the counteraction history says about one entry
type AbsorptionStatus struct {
	Entry         models.CarbEntry
	ObservedGrams float64
	Elapsed       time.Duration
	OriginalTime  time.Duration
	RevisedTime   time.Duration
	FullyAbsorbed bool
}

// ObserveAbsorption attributes counteraction effects to the entries that
// were absorbing when they happened, weighting each entry by the absorption
// its curve expected in that span, and converts the attributed glucose rise
// back into grams.
func ObserveAbsorption(
	entries []models.CarbEntry,
	velocities []models.GlucoseEffectVelocity,
	carbRatios models.CarbRatioSchedule,
	sensitivity models.InsulinSensitivitySchedule,
	cfg Config,
) ([]float64, error) {
	factors, err := effectFactors(entries, carbRatios, sensitivity)
	if err != nil {
		return nil, err
	}

	observed := make([]float64, len(entries))
	weights := make([]float64, len(entries))
	for _, v := range velocities {
		effect := v.Effect()
		if effect <= 0 {
			continue
		}

		total := 0.0
		active := 0
		for i, e := range entries {
			w := e.Grams * (cfg.percentAbsorbed(e, v.EndDate) - cfg.percentAbsorbed(e, v.StartDate))
			weights[i] = w
			total += w
			if w > 0 {
				active++
			}
		}
		if active == 0 {
			continue
		}

		for i := range entries {
			if weights[i] <= 0 {
				continue
			}
			observed[i] += effect * weights[i] / total / factors[i]
		}
	}

	for i, e := range entries {
		observed[i] = math.Min(observed[i], e.Grams)
	}
	return observed, nil
}

// ReviseAbsorptionTimes returns copies of entries whose absorption time is
// re-estimated from the absorption observed up to now. An entry that has
// absorbed a fraction f of its carbs after elapsed absorbing time is given
// elapsed / f, bounded by dyn; entries not yet absorbing keep their time.
func ReviseAbsorptionTimes(
	entries []models.CarbEntry,
	velocities []models.GlucoseEffectVelocity,
	carbRatios models.CarbRatioSchedule,
	sensitivity models.InsulinSensitivitySchedule,
	cfg Config,
	dyn DynamicConfig,
	now time.Time,
) ([]models.CarbEntry, []AbsorptionStatus, error) {
	observed, err := ObserveAbsorption(entries, velocities, carbRatios, sensitivity, cfg)
	if err != nil {
		return nil, nil, err
	}

	revised := make([]models.CarbEntry, len(entries))
	statuses := make([]AbsorptionStatus, len(entries))
	for i, e := range entries {
		original := cfg.absorptionTime(e)
		elapsed := now.Sub(e.StartDate) - cfg.Delay
		status := AbsorptionStatus{
			Entry:         e,
			ObservedGrams: observed[i],
			Elapsed:       elapsed,
			OriginalTime:  original,
			RevisedTime:   original,
		}

		if elapsed > 0 && e.Grams > 0 {
			status.RevisedTime = reviseTime(original, elapsed, observed[i]/e.Grams, dyn)
			status.FullyAbsorbed = observed[i] >= e.Grams
		}

		revised[i] = e.WithAbsorptionTime(status.RevisedTime)
		statuses[i] = status
	}
	return revised, statuses, nil
}

func reviseTime(original, elapsed time.Duration, fraction float64, dyn DynamicConfig) time.Duration {
	lo := time.Duration(float64(original) * dyn.MinFraction)
	hi := time.Duration(float64(original) * dyn.MaxOverrun)
	if elapsed > lo {
		lo = elapsed
	}
	if lo > hi {
		hi = lo
	}

	if fraction <= 0 {
		return hi
	}
	estimate := time.Duration(float64(elapsed) / fraction)
	switch {
	case estimate < lo:
		return lo
	case estimate > hi:
		return hi
	}
	return estimate
}
