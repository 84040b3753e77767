package curves

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// ExponentialPreset names a published exponential curve
type ExponentialPreset string

// Exponential presets
const (
	RapidActingAdult ExponentialPreset = "rapidActingAdult"
	RapidActingChild ExponentialPreset = "rapidActingChild"
	Fiasp            ExponentialPreset = "fiasp"
)

// DefaultInsulinDelay is the time before any insulin activity begins
const DefaultInsulinDelay = 10 * time.Minute

// Parameters returns the action duration and peak of p
func (p ExponentialPreset) Parameters() (actionDuration, peak time.Duration, err error) {
	switch p {
	case RapidActingAdult:
		return 360 * time.Minute, 75 * time.Minute, nil
	case RapidActingChild:
		return 360 * time.Minute, 65 * time.Minute, nil
	case Fiasp:
		return 360 * time.Minute, 55 * time.Minute, nil
	}
	return 0, 0, errors.Wrapf(errors.ErrInvalidConfiguration, "unknown insulin preset %q", p)
}

// Model builds the preset's exponential model with the default delay
func (p ExponentialPreset) Model() (InsulinModel, error) {
	duration, peak, err := p.Parameters()
	if err != nil {
		return InsulinModel{}, err
	}
	return Exponential(duration, peak, DefaultInsulinDelay)
}

// InsulinModelSettings is the data-driven description of an insulin model,
// as it appears in configuration.
type InsulinModelSettings struct {
	Kind           InsulinModelKind  `mapstructure:"kind" json:"kind" yaml:"kind" toml:"kind"`
	Preset         ExponentialPreset `mapstructure:"preset" json:"preset,omitempty" yaml:"preset,omitempty" toml:"preset,omitempty"`
	ActionDuration time.Duration     `mapstructure:"action_duration" json:"action_duration,omitempty" yaml:"action_duration,omitempty" toml:"action_duration,omitempty"`
	PeakActivity   time.Duration     `mapstructure:"peak_activity" json:"peak_activity,omitempty" yaml:"peak_activity,omitempty" toml:"peak_activity,omitempty"`
	Delay          time.Duration     `mapstructure:"delay" json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay,omitempty"`
}

// ResolveInsulinModel turns settings into a model. An exponential setting
// with a preset uses the preset's curve; explicit durations override it.
func ResolveInsulinModel(s InsulinModelSettings) (InsulinModel, error) {
	delay := s.Delay
	if delay == 0 {
		delay = DefaultInsulinDelay
	}

	switch s.Kind {
	case ExponentialKind, "":
		duration, peak := s.ActionDuration, s.PeakActivity
		if s.Preset != "" {
			pd, pp, err := s.Preset.Parameters()
			if err != nil {
				return InsulinModel{}, err
			}
			if duration == 0 {
				duration = pd
			}
			if peak == 0 {
				peak = pp
			}
		}
		if duration == 0 && peak == 0 {
			duration, peak, _ = RapidActingAdult.Parameters()
		}
		return Exponential(duration, peak, delay)
	case WalshKind:
		duration := s.ActionDuration
		if duration == 0 {
			duration = 6 * time.Hour
		}
		return Walsh(duration, delay)
	}
	return InsulinModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "unknown insulin model %q", s.Kind)
}
