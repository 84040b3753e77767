// Package carbs projects carbohydrate entries into glucose effects and
// carbs-on-board timelines.
package carbs

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// Defaults
const (
	DefaultDelay = 10 * time.Minute
	DefaultDelta = 5 * time.Minute
)

// Config controls how entries are absorbed
type Config struct {
	Model           curves.CarbModel
	Delay           time.Duration
	Delta           time.Duration
	AbsorptionTimes models.AbsorptionTimes
}

// DefaultConfig uses the linear model with the default absorption table
func DefaultConfig() Config {
	return Config{
		Model:           curves.CarbModel{Kind: curves.Linear, AbsorptionTimeOverrun: 1},
		Delay:           DefaultDelay,
		Delta:           DefaultDelta,
		AbsorptionTimes: models.DefaultAbsorptionTimes(),
	}
}

func (c Config) absorptionTime(e models.CarbEntry) time.Duration {
	return e.EffectiveAbsorptionTime(c.AbsorptionTimes.Default())
}

// percentAbsorbed is the share of e absorbed at date, 0 before the entry
func (c Config) percentAbsorbed(e models.CarbEntry, date time.Time) float64 {
	elapsed := date.Sub(e.StartDate)
	if elapsed < 0 {
		return 0
	}
	return c.Model.PercentAbsorbed(elapsed-c.Delay, c.absorptionTime(e))
}

// SimulationDateRange returns the grid covering every entry's absorption.
// A non-zero from or to is used as given; otherwise the range runs from the
// earliest entry (floored to Delta) to the latest entry plus the longest
// absorption and the delay (ceiled to Delta).
func SimulationDateRange(entries []models.CarbEntry, cfg Config, from, to time.Time) (start, end time.Time, ok bool) {
	if len(entries) == 0 && (from.IsZero() || to.IsZero()) {
		return time.Time{}, time.Time{}, false
	}

	maxAbsorption := cfg.AbsorptionTimes.Default()
	var minDate, maxDate time.Time
	for i, e := range entries {
		if a := cfg.absorptionTime(e); a > maxAbsorption {
			maxAbsorption = a
		}
		if i == 0 || e.StartDate.Before(minDate) {
			minDate = e.StartDate
		}
		if i == 0 || e.StartDate.After(maxDate) {
			maxDate = e.StartDate
		}
	}

	start, end = from, to
	if start.IsZero() {
		start = models.FloorDate(minDate, cfg.Delta)
	}
	if end.IsZero() {
		span := cfg.Model.EffectiveAbsorptionTime(maxAbsorption) + cfg.Delay
		end = models.CeilDate(maxDate.Add(span), cfg.Delta)
	}
	return start, end, true
}

// GlucoseEffects sums each entry's glucose rise onto a Delta grid. An entry
// raises glucose by grams / carbRatio * sensitivity in total, both looked up
// at the entry's start, spread along the absorption curve.
func GlucoseEffects(
	entries []models.CarbEntry,
	carbRatios models.CarbRatioSchedule,
	sensitivity models.InsulinSensitivitySchedule,
	cfg Config,
	from, to time.Time,
) ([]models.GlucoseEffect, error) {
	start, end, ok := SimulationDateRange(entries, cfg, from, to)
	if !ok {
		return nil, nil
	}

	factors, err := effectFactors(entries, carbRatios, sensitivity)
	if err != nil {
		return nil, err
	}

	var effects []models.GlucoseEffect
	for date := start; !date.After(end); date = date.Add(cfg.Delta) {
		value := 0.0
		for i, e := range entries {
			value += factors[i] * e.Grams * cfg.percentAbsorbed(e, date)
		}
		effects = append(effects, models.GlucoseEffect{StartDate: date, Value: value})
	}
	return effects, nil
}

// CarbsOnBoard sums each entry's unabsorbed grams onto a Delta grid
func CarbsOnBoard(entries []models.CarbEntry, cfg Config, from, to time.Time) []models.CarbValue {
	start, end, ok := SimulationDateRange(entries, cfg, from, to)
	if !ok {
		return nil
	}

	var values []models.CarbValue
	for date := start; !date.After(end); date = date.Add(cfg.Delta) {
		value := 0.0
		for _, e := range entries {
			if date.Before(e.StartDate) {
				continue
			}
			value += e.Grams * (1 - cfg.percentAbsorbed(e, date))
		}
		values = append(values, models.CarbValue{StartDate: date, Grams: value})
	}
	return values
}

// effectFactors returns sensitivity / carbRatio at each entry's start, in mg/dL per gram
func effectFactors(entries []models.CarbEntry, carbRatios models.CarbRatioSchedule, sensitivity models.InsulinSensitivitySchedule) ([]float64, error) {
	factors := make([]float64, len(entries))
	for i, e := range entries {
		ratio, err := carbRatios.At(e.StartDate)
		if err != nil {
			return nil, err
		}
		isf, err := sensitivity.At(e.StartDate)
		if err != nil {
			return nil, err
		}
		factors[i] = isf / ratio
	}
	return factors, nil
}
