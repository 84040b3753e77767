// Package curves maps elapsed time to the remaining effect of insulin and
// the absorbed share of carbohydrate. Every function here is pure.
package curves

import (
	"math"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// InsulinModelKind selects the insulin action curve
type InsulinModelKind string

// Insulin model kinds
const (
	ExponentialKind InsulinModelKind = "exponential"
	WalshKind       InsulinModelKind = "walsh"
)

// InsulinModel is a tagged variant over the exponential and Walsh curves.
// Build it with Exponential, Walsh or ResolveInsulinModel.
type InsulinModel struct {
	Kind             InsulinModelKind
	ActionDuration   time.Duration
	PeakActivityTime time.Duration // exponential only
	Delay            time.Duration

	// exponential shape constants, fixed at construction
	tau, a, s float64
}

// Exponential builds an exponential model peaking at peak and ending at actionDuration
func Exponential(actionDuration, peak, delay time.Duration) (InsulinModel, error) {
	if actionDuration <= 0 || peak <= 0 || 2*peak >= actionDuration {
		return InsulinModel{}, errors.Wrapf(errors.ErrInvalidConfiguration,
			"exponential model needs 0 < peak (%s) < actionDuration/2 (%s)", peak, actionDuration)
	}
	if delay < 0 {
		return InsulinModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "negative insulin delay %s", delay)
	}

	td := actionDuration.Minutes()
	tp := peak.Minutes()
	tau := tp * (1 - tp/td) / (1 - 2*tp/td)
	a := 2 * tau / td
	s := 1 / (1 - a + (1+a)*math.Exp(-td/tau))

	return InsulinModel{
		Kind:             ExponentialKind,
		ActionDuration:   actionDuration,
		PeakActivityTime: peak,
		Delay:            delay,
		tau:              tau,
		a:                a,
		s:                s,
	}, nil
}

// Walsh builds a legacy Walsh model of the given action duration
func Walsh(actionDuration, delay time.Duration) (InsulinModel, error) {
	if actionDuration <= 0 {
		return InsulinModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "walsh model needs a positive action duration, got %s", actionDuration)
	}
	if delay < 0 {
		return InsulinModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "negative insulin delay %s", delay)
	}
	return InsulinModel{
		Kind:           WalshKind,
		ActionDuration: actionDuration,
		Delay:          delay,
	}, nil
}

// EffectDuration is the span from delivery until no effect remains
func (m InsulinModel) EffectDuration() time.Duration {
	return m.Delay + m.ActionDuration
}

// PercentEffectRemaining returns the fraction of a dose still to act after
// elapsed. It is 1 until the delay passes and 0 from EffectDuration on.
func (m InsulinModel) PercentEffectRemaining(elapsed time.Duration) float64 {
	t := elapsed - m.Delay
	switch {
	case t <= 0:
		return 1
	case t >= m.ActionDuration:
		return 0
	}

	var remaining float64
	switch m.Kind {
	case ExponentialKind:
		remaining = m.exponentialRemaining(t.Minutes())
	case WalshKind:
		remaining = walshRemaining(t, m.ActionDuration)
	}
	return clamp01(remaining)
}

// PercentActivity returns the share of the dose acting per minute at elapsed,
// estimated by a centred one-minute difference.
func (m InsulinModel) PercentActivity(elapsed time.Duration) float64 {
	before := m.PercentEffectRemaining(elapsed - 30*time.Second)
	after := m.PercentEffectRemaining(elapsed + 30*time.Second)
	return before - after
}

func (m InsulinModel) exponentialRemaining(t float64) float64 {
	td := m.ActionDuration.Minutes()
	return 1 - m.s*(1-m.a)*((t*t/(m.tau*td*(1-m.a))-t/m.tau-1)*math.Exp(-t/m.tau)+1)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
