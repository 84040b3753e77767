package models

import (
	"github.com/mrcode/nightscout-loop/internal/errors"
)

// Guardrails are hard safety bounds no recommendation may exceed
type Guardrails struct {
	MaxBolus         float64 `json:"maxBolus"`         // U
	MaxBasalRate     float64 `json:"maxBasalRate"`     // U/hr
	SuspendThreshold float64 `json:"suspendThreshold"` // mg/dL
}

// Validate checks that every guardrail is set
func (g Guardrails) Validate() error {
	if g.MaxBolus <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "max bolus must be positive, got %g", g.MaxBolus)
	}
	if g.MaxBasalRate <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "max basal rate must be positive, got %g", g.MaxBasalRate)
	}
	if g.SuspendThreshold <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "suspend threshold must be positive, got %g", g.SuspendThreshold)
	}
	return nil
}

// TherapySettings are the schedules and limits a recommendation is computed against
type TherapySettings struct {
	CarbRatios         CarbRatioSchedule
	InsulinSensitivity InsulinSensitivitySchedule
	BasalRates         BasalRateSchedule
	TargetRanges       GlucoseRangeSchedule
	Guardrails         Guardrails
	Thresholds         GlucoseThresholds
}

// Validate reports the first missing schedule or guardrail
func (t *TherapySettings) Validate() error {
	if t == nil {
		return errors.Wrap(errors.ErrInvalidConfiguration, "no therapy settings available")
	}
	switch {
	case t.CarbRatios.IsZero():
		return errors.Wrap(errors.ErrInvalidConfiguration, "carb ratio schedule missing")
	case t.InsulinSensitivity.IsZero():
		return errors.Wrap(errors.ErrInvalidConfiguration, "insulin sensitivity schedule missing")
	case t.BasalRates.IsZero():
		return errors.Wrap(errors.ErrInvalidConfiguration, "basal rate schedule missing")
	case t.TargetRanges.IsZero():
		return errors.Wrap(errors.ErrInvalidConfiguration, "target range schedule missing")
	}
	if err := t.Guardrails.Validate(); err != nil {
		return err
	}

	for _, item := range t.BasalRates.Items() {
		if item.Value > t.Guardrails.MaxBasalRate {
			return errors.WithDetailf(
				errors.Wrap(errors.ErrInvalidConfiguration, "scheduled basal exceeds max basal rate"),
				"rate %g U/hr at %s > %g U/hr", item.Value, item.StartTime, t.Guardrails.MaxBasalRate)
		}
	}
	for _, item := range t.TargetRanges.Ranges.Items() {
		if item.Value.Min < t.Guardrails.SuspendThreshold {
			return errors.WithDetailf(
				errors.Wrap(errors.ErrInvalidConfiguration, "target range below suspend threshold"),
				"target min %g mg/dL at %s < %g mg/dL", item.Value.Min, item.StartTime, t.Guardrails.SuspendThreshold)
		}
	}
	return nil
}
