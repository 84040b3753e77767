// Package retrospective measures how far recent glucose strayed from what
// the modeled effects explained and projects that unexplained rate forward
// as a decaying correction.
package retrospective

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// Defaults
const (
	DefaultWindow         = 30 * time.Minute
	DefaultEffectDuration = 60 * time.Minute
	DefaultRecency        = 15 * time.Minute
	DefaultMinSamples     = 3
	DefaultDelta          = 5 * time.Minute
)

// Config controls the correction window and its projection
type Config struct {
	Enabled bool
	// Window is the trailing span compared against the modeled effects
	Window time.Duration
	// EffectDuration is how far ahead the correction is projected
	EffectDuration time.Duration
	// Recency rejects corrections when the latest glucose is older than this
	Recency    time.Duration
	MinSamples int
	// Decay is the time constant of the correction's exponential fade. Zero
	// means a third of EffectDuration.
	Decay time.Duration
	Delta time.Duration
}

// DefaultConfig returns an enabled 30 minute window projected for an hour
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Window:         DefaultWindow,
		EffectDuration: DefaultEffectDuration,
		Recency:        DefaultRecency,
		MinSamples:     DefaultMinSamples,
		Delta:          DefaultDelta,
	}
}

// Validate checks the durations
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Window <= 0 || c.EffectDuration <= 0 || c.Delta <= 0 {
		return errors.Wrap(errors.ErrInvalidConfiguration, "retrospective window, effect duration and delta must be positive")
	}
	if c.MinSamples < 2 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "retrospective correction needs at least 2 samples, got %d", c.MinSamples)
	}
	return nil
}

func (c Config) decay() time.Duration {
	if c.Decay > 0 {
		return c.Decay
	}
	return c.EffectDuration / 3
}

// Discrepancy is the unexplained glucose change over a window
type Discrepancy struct {
	StartDate time.Time
	EndDate   time.Time
	Observed  float64
	Modeled   float64
	Samples   int
}

// Value is observed minus modeled change in mg/dL
func (d Discrepancy) Value() float64 {
	return d.Observed - d.Modeled
}

// Rate is the discrepancy per minute of the window
func (d Discrepancy) Rate() float64 {
	minutes := d.EndDate.Sub(d.StartDate).Minutes()
	if minutes <= 0 {
		return 0
	}
	return d.Value() / minutes
}

// Measure compares the glucose change over the trailing window ending at the
// latest sample with the change the effect series explain over the same span.
// It returns ErrInsufficientData when the window holds fewer than MinSamples
// samples or the latest one is older than Recency at now.
func Measure(samples []models.GlucoseSample, effects [][]models.GlucoseEffect, cfg Config, now time.Time) (Discrepancy, error) {
	var usable []models.GlucoseSample
	for _, s := range samples {
		if !s.IsDisplayOnly {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return Discrepancy{}, errors.Wrap(errors.ErrInsufficientData, "no glucose for retrospective correction")
	}

	last := usable[len(usable)-1]
	if age := now.Sub(last.StartDate); age > cfg.Recency {
		return Discrepancy{}, errors.WithDetailf(
			errors.Wrap(errors.ErrInsufficientData, "glucose too old for retrospective correction"),
			"glucose age %s exceeds %s", age, cfg.Recency)
	}

	cutoff := last.StartDate.Add(-cfg.Window)
	var window []models.GlucoseSample
	for _, s := range usable {
		if !s.StartDate.Before(cutoff) {
			window = append(window, s)
		}
	}
	if len(window) < cfg.MinSamples || len(window) < 2 {
		return Discrepancy{}, errors.Wrapf(errors.ErrInsufficientData,
			"retrospective window holds %d samples, need %d", len(window), cfg.MinSamples)
	}

	first := window[0]
	modeled := make([]float64, len(effects))
	for i, series := range effects {
		modeled[i] = models.InterpolatedEffectAt(series, last.StartDate) - models.InterpolatedEffectAt(series, first.StartDate)
	}

	return Discrepancy{
		StartDate: first.StartDate,
		EndDate:   last.StartDate,
		Observed:  last.Value - first.Value,
		Modeled:   floats.Sum(modeled),
		Samples:   len(window),
	}, nil
}

// Project turns a discrepancy into a cumulative effect starting at its end.
// The correction rate fades with time constant Decay, so after dt the
// effect is rate * decay * (1 - exp(-dt/decay)).
func Project(d Discrepancy, cfg Config) []models.GlucoseEffect {
	rate := d.Rate()
	tau := cfg.decay().Minutes()
	start := models.FloorDate(d.EndDate, cfg.Delta)
	end := d.EndDate.Add(cfg.EffectDuration)

	var effects []models.GlucoseEffect
	for date := start; !date.After(end); date = date.Add(cfg.Delta) {
		dt := date.Sub(d.EndDate).Minutes()
		if dt < 0 {
			dt = 0
		}
		effects = append(effects, models.GlucoseEffect{
			StartDate: date,
			Value:     rate * tau * (1 - math.Exp(-dt/tau)),
		})
	}
	return effects
}

// Correction measures and projects in one step. A disabled config, or too
// little recent glucose, yields no correction rather than an error, so the
// prediction simply runs without this layer.
func Correction(samples []models.GlucoseSample, effects [][]models.GlucoseEffect, cfg Config, now time.Time) ([]models.GlucoseEffect, *Discrepancy, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	d, err := Measure(samples, effects, cfg, now)
	if errors.IsInsufficientData(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return Project(d, cfg), &d, nil
}
