// Package prediction assembles effect layers into a glucose forecast
package prediction

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// Defaults
const (
	DefaultHorizon = 6 * time.Hour
	DefaultDelta   = 5 * time.Minute
)

// Config sets how far and how finely the forecast runs
type Config struct {
	Horizon time.Duration
	Delta   time.Duration
}

// DefaultConfig forecasts six hours at five minute steps
func DefaultConfig() Config {
	return Config{Horizon: DefaultHorizon, Delta: DefaultDelta}
}

// Validate checks the horizon and step
func (c Config) Validate() error {
	if c.Horizon <= 0 || c.Delta <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "prediction horizon %s and delta %s must be positive", c.Horizon, c.Delta)
	}
	return nil
}

// Effects are the layers summed into a prediction. Any of them may be empty.
type Effects struct {
	Momentum      []models.GlucoseEffect
	Carbs         []models.GlucoseEffect
	Insulin       []models.GlucoseEffect
	Retrospective []models.GlucoseEffect
}

// Layers returns the layers in a fixed order
func (e Effects) Layers() [][]models.GlucoseEffect {
	return [][]models.GlucoseEffect{e.Momentum, e.Carbs, e.Insulin, e.Retrospective}
}

// Predictor turns a glucose reading plus effects into a forecast. It holds
// only its configuration and is safe for concurrent use.
type Predictor struct {
	cfg Config
}

// NewPredictor creates a Predictor
func NewPredictor(cfg Config) *Predictor {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.Delta <= 0 {
		cfg.Delta = DefaultDelta
	}
	return &Predictor{cfg: cfg}
}

// Config returns the predictor's configuration
func (p *Predictor) Config() Config {
	return p.cfg
}

// Predict generates the forecast from glucose out to the horizon
func (p *Predictor) Predict(glucose models.GlucoseSample, effects Effects) []models.PredictedGlucoseValue {
	return Predict(glucose, p.cfg.Horizon, p.cfg.Delta, effects.Layers()...)
}

// Predict starts at the glucose reading and adds, at every grid point after
// it up to horizon, each layer's change since its last point at or before
// the reading. A reading between grid points therefore keeps the whole first
// interval of every layer. Layers contribute nothing before they start and
// hold their final value after they end. Values are never clamped.
func Predict(glucose models.GlucoseSample, horizon, delta time.Duration, layers ...[]models.GlucoseEffect) []models.PredictedGlucoseValue {
	anchor := glucose.StartDate
	base := make([]float64, len(layers))
	for i, layer := range layers {
		base[i] = models.EffectAt(layer, anchor)
	}

	points := []models.PredictedGlucoseValue{{StartDate: anchor, Value: glucose.Value}}
	end := anchor.Add(horizon)
	for date := models.FloorDate(anchor, delta).Add(delta); !date.After(end); date = date.Add(delta) {
		value := glucose.Value
		for i, layer := range layers {
			value += models.InterpolatedEffectAt(layer, date) - base[i]
		}
		points = append(points, models.PredictedGlucoseValue{StartDate: date, Value: value})
	}
	return points
}

// Min returns the lowest predicted value. ok is false for an empty forecast.
func Min(points []models.PredictedGlucoseValue) (lowest models.PredictedGlucoseValue, ok bool) {
	for i, p := range points {
		if i == 0 || p.Value < lowest.Value {
			lowest = p
		}
	}
	return lowest, len(points) > 0
}

// Eventual returns the last predicted value
func Eventual(points []models.PredictedGlucoseValue) (models.PredictedGlucoseValue, bool) {
	if len(points) == 0 {
		return models.PredictedGlucoseValue{}, false
	}
	return points[len(points)-1], true
}

// Within returns the points no later than limit after the first one
func Within(points []models.PredictedGlucoseValue, limit time.Duration) []models.PredictedGlucoseValue {
	if len(points) == 0 {
		return nil
	}
	cutoff := points[0].StartDate.Add(limit)
	for i, p := range points {
		if p.StartDate.After(cutoff) {
			return points[:i]
		}
	}
	return points
}

// ThresholdTimes returns the minutes from the first point until the forecast
// first reaches high or drops to low, interpolating between grid points.
// Either is -1 when the threshold is never crossed.
func ThresholdTimes(points []models.PredictedGlucoseValue, high, low float64) (highIn, lowIn float64) {
	highIn, lowIn = -1, -1
	if len(points) == 0 {
		return highIn, lowIn
	}

	origin := points[0].StartDate
	for i, p := range points {
		minutes := p.StartDate.Sub(origin).Minutes()

		if highIn < 0 && p.Value >= high {
			highIn = minutes
			if i > 0 {
				prev := points[i-1]
				ratio := (high - prev.Value) / (p.Value - prev.Value)
				prevMin := prev.StartDate.Sub(origin).Minutes()
				highIn = prevMin + ratio*(minutes-prevMin)
			}
		}

		if lowIn < 0 && p.Value <= low {
			lowIn = minutes
			if i > 0 {
				prev := points[i-1]
				ratio := (prev.Value - low) / (prev.Value - p.Value)
				prevMin := prev.StartDate.Sub(origin).Minutes()
				lowIn = prevMin + ratio*(minutes-prevMin)
			}
		}

		if highIn >= 0 && lowIn >= 0 {
			break
		}
	}
	return highIn, lowIn
}
