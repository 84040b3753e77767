package curves

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// CarbModelKind selects the carbohydrate absorption curve
type CarbModelKind string

// Carb model kinds
const (
	// Linear absorbs at a constant rate
	Linear CarbModelKind = "linear"
	// Parabolic rises then falls symmetrically (Scheiner)
	Parabolic CarbModelKind = "parabolic"
	// PiecewiseLinear rises, plateaus and falls over a stretched window
	PiecewiseLinear CarbModelKind = "piecewiseLinear"
)

// piecewise-linear shape, as fractions of the absorption time
const (
	percentEndOfRise   = 0.15
	percentStartOfFall = 0.5
)

// DefaultAbsorptionTimeOverrun stretches nonlinear absorption to allow a late tail
const DefaultAbsorptionTimeOverrun = 1.5

// CarbModel is the configured absorption curve
type CarbModel struct {
	Kind CarbModelKind
	// AbsorptionTimeOverrun multiplies the absorption time of the nonlinear
	// model. It is ignored by the other kinds.
	AbsorptionTimeOverrun float64
}

// NewCarbModel validates kind and overrun
func NewCarbModel(kind CarbModelKind, overrun float64) (CarbModel, error) {
	switch kind {
	case Linear, Parabolic:
		return CarbModel{Kind: kind, AbsorptionTimeOverrun: 1}, nil
	case PiecewiseLinear:
		if overrun == 0 {
			overrun = DefaultAbsorptionTimeOverrun
		}
		if overrun < 1 {
			return CarbModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "absorption time overrun must be >= 1, got %g", overrun)
		}
		return CarbModel{Kind: kind, AbsorptionTimeOverrun: overrun}, nil
	}
	return CarbModel{}, errors.Wrapf(errors.ErrInvalidConfiguration, "unknown carb model %q", kind)
}

// EffectiveAbsorptionTime is the span over which the model absorbs an entry
// whose nominal absorption time is absorptionTime.
func (m CarbModel) EffectiveAbsorptionTime(absorptionTime time.Duration) time.Duration {
	if m.Kind != PiecewiseLinear || m.AbsorptionTimeOverrun <= 1 {
		return absorptionTime
	}
	return time.Duration(float64(absorptionTime) * m.AbsorptionTimeOverrun)
}

// PercentAbsorbed returns the share of an entry absorbed after elapsed.
// It is 0 before absorption starts and 1 once it ends.
func (m CarbModel) PercentAbsorbed(elapsed, absorptionTime time.Duration) float64 {
	span := m.EffectiveAbsorptionTime(absorptionTime)
	switch {
	case elapsed < 0:
		return 0
	case span <= 0 || elapsed >= span:
		return 1
	}

	pt := elapsed.Seconds() / span.Seconds()
	switch m.Kind {
	case Parabolic:
		return parabolicPercentAbsorbed(pt)
	case PiecewiseLinear:
		return piecewiseLinearPercentAbsorbed(pt)
	default:
		return clamp01(pt)
	}
}

// PercentRemaining returns 1 - PercentAbsorbed
func (m CarbModel) PercentRemaining(elapsed, absorptionTime time.Duration) float64 {
	return 1 - m.PercentAbsorbed(elapsed, absorptionTime)
}

// parabolicPercentAbsorbed is the Scheiner curve over percent time pt
func parabolicPercentAbsorbed(pt float64) float64 {
	switch {
	case pt < 0:
		return 0
	case pt <= 0.5:
		return 2 * pt * pt
	case pt < 1:
		return -1 + 4*(pt-pt*pt/2)
	default:
		return 1
	}
}

// piecewiseLinearPercentAbsorbed integrates a rate that ramps up until
// percentEndOfRise, holds until percentStartOfFall and ramps down to 0.
func piecewiseLinearPercentAbsorbed(pt float64) float64 {
	scale := 2 / (1 + percentStartOfFall - percentEndOfRise)
	switch {
	case pt <= 0:
		return 0
	case pt < percentEndOfRise:
		return 0.5 * scale * pt * pt / percentEndOfRise
	case pt < percentStartOfFall:
		return scale * (pt - percentEndOfRise/2)
	case pt < 1:
		return scale * (percentStartOfFall - percentEndOfRise/2 +
			(pt-percentStartOfFall)*(1-0.5*(pt-percentStartOfFall)/(1-percentStartOfFall)))
	default:
		return 1
	}
}
