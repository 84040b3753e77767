// Package insulin projects dose history into insulin-on-board and glucose
// effect timelines.
package insulin

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// DefaultDelta is the grid spacing of projected timelines
const DefaultDelta = 5 * time.Minute

// Config carries the insulin curve and grid spacing
type Config struct {
	Model curves.InsulinModel
	Delta time.Duration
}

// DefaultConfig uses the rapid-acting adult curve
func DefaultConfig() Config {
	model, err := curves.RapidActingAdult.Model()
	if err != nil {
		panic(err)
	}
	return Config{Model: model, Delta: DefaultDelta}
}

// segment is a slice of delivered insulin treated as one injection
type segment struct {
	start time.Time
	units float64
	isf   float64
}

// segments splits doses into delivered-unit events. A dose spanning more
// than 1.05 deltas is cut into delta-long pieces, each carrying its share
// of the units.
func segments(doses []models.DoseEntry, delta time.Duration, isfAt func(time.Time) (float64, error)) ([]segment, error) {
	var out []segment
	for _, d := range doses {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		isf := 0.0
		if isfAt != nil {
			v, err := isfAt(d.StartDate)
			if err != nil {
				return nil, err
			}
			isf = v
		}

		total := d.TotalUnits()
		duration := d.Duration()
		if duration <= time.Duration(1.05*float64(delta)) {
			out = append(out, segment{start: d.StartDate, units: total, isf: isf})
			continue
		}

		for start := d.StartDate; start.Before(d.EndDate); start = start.Add(delta) {
			end := start.Add(delta)
			if end.After(d.EndDate) {
				end = d.EndDate
			}
			share := float64(end.Sub(start)) / float64(duration)
			out = append(out, segment{start: start, units: total * share, isf: isf})
		}
	}
	return out, nil
}

// DateRange is the grid covering every dose from its start until its effect
// ends. A non-zero from or to is used as given.
func DateRange(doses []models.DoseEntry, cfg Config, from, to time.Time) (start, end time.Time, ok bool) {
	if len(doses) == 0 && (from.IsZero() || to.IsZero()) {
		return time.Time{}, time.Time{}, false
	}

	var minDate, maxDate time.Time
	for i, d := range doses {
		if i == 0 || d.StartDate.Before(minDate) {
			minDate = d.StartDate
		}
		if i == 0 || d.EndDate.After(maxDate) {
			maxDate = d.EndDate
		}
	}

	start, end = from, to
	if start.IsZero() {
		start = models.FloorDate(minDate, cfg.Delta)
	}
	if end.IsZero() {
		end = models.CeilDate(maxDate.Add(cfg.Model.EffectDuration()), cfg.Delta)
	}
	return start, end, true
}

// InsulinOnBoard sums each dose's remaining units onto a Delta grid
func InsulinOnBoard(doses []models.DoseEntry, cfg Config, from, to time.Time) ([]models.InsulinValue, error) {
	start, end, ok := DateRange(doses, cfg, from, to)
	if !ok {
		return nil, nil
	}
	segs, err := segments(doses, cfg.Delta, nil)
	if err != nil {
		return nil, err
	}

	var values []models.InsulinValue
	for date := start; !date.After(end); date = date.Add(cfg.Delta) {
		iob := 0.0
		for _, s := range segs {
			if s.start.After(date) {
				continue
			}
			iob += s.units * cfg.Model.PercentEffectRemaining(date.Sub(s.start))
		}
		values = append(values, models.InsulinValue{StartDate: date, Units: iob})
	}
	return values, nil
}

// GlucoseEffects returns the cumulative glucose drop caused by doses. Each
// dose acts with the sensitivity in effect when it started.
func GlucoseEffects(doses []models.DoseEntry, sensitivity models.InsulinSensitivitySchedule, cfg Config, from, to time.Time) ([]models.GlucoseEffect, error) {
	start, end, ok := DateRange(doses, cfg, from, to)
	if !ok {
		return nil, nil
	}
	segs, err := segments(doses, cfg.Delta, sensitivity.At)
	if err != nil {
		return nil, err
	}

	var effects []models.GlucoseEffect
	for date := start; !date.After(end); date = date.Add(cfg.Delta) {
		value := 0.0
		for _, s := range segs {
			if s.start.After(date) {
				continue
			}
			value -= s.units * s.isf * (1 - cfg.Model.PercentEffectRemaining(date.Sub(s.start)))
		}
		effects = append(effects, models.GlucoseEffect{StartDate: date, Value: value})
	}
	return effects, nil
}

// TotalDelivery sums the units delivered by doses and returns the earliest
// start. ok is false when there are no doses.
func TotalDelivery(doses []models.DoseEntry) (total models.InsulinValue, ok bool) {
	if len(doses) == 0 {
		return models.InsulinValue{}, false
	}
	total.StartDate = doses[0].StartDate
	for _, d := range doses {
		total.Units += d.TotalUnits()
		if d.StartDate.Before(total.StartDate) {
			total.StartDate = d.StartDate
		}
	}
	return total, true
}
