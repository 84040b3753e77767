package dosing

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// MaxTempBasalDuration is the longest temp basal a pump accepts
const MaxTempBasalDuration = 24 * time.Hour

// ValidateBolusRequest rejects a directly requested bolus outside
// [0, MaxBolus]. The request is never clamped.
func ValidateBolusRequest(units float64, g models.Guardrails) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if units < 0 || !models.IsFinite(units) {
		return errors.WithDetailf(
			errors.Wrap(errors.ErrGuardrailViolation, "bolus amount is invalid"),
			"requested %g U", units)
	}
	if units > g.MaxBolus {
		return errors.WithHint(
			errors.WithDetailf(
				errors.Wrap(errors.ErrGuardrailViolation, "bolus exceeds max bolus"),
				"requested %g U > max %g U", units, g.MaxBolus),
			"lower the bolus or raise the max bolus guardrail")
	}
	return nil
}

// ValidateTempBasalRequest rejects a directly requested temp basal whose rate
// is outside [0, MaxBasalRate] or whose duration is negative or too long.
func ValidateTempBasalRequest(rate float64, duration time.Duration, g models.Guardrails) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if rate < 0 || !models.IsFinite(rate) {
		return errors.WithDetailf(
			errors.Wrap(errors.ErrGuardrailViolation, "temp basal rate is invalid"),
			"requested %g U/hr", rate)
	}
	if rate > g.MaxBasalRate {
		return errors.WithDetailf(
			errors.Wrap(errors.ErrGuardrailViolation, "temp basal exceeds max basal rate"),
			"requested %g U/hr > max %g U/hr", rate, g.MaxBasalRate)
	}
	if duration < 0 || duration > MaxTempBasalDuration {
		return errors.WithDetailf(
			errors.Wrap(errors.ErrGuardrailViolation, "temp basal duration out of range"),
			"requested %s, allowed 0 to %s", duration, MaxTempBasalDuration)
	}
	return nil
}

// Validate checks that a recommendation respects its own guardrails
func (r *Recommendation) Validate() error {
	if r == nil {
		return nil
	}
	if r.TempBasal != nil {
		if err := ValidateTempBasalRequest(r.TempBasal.Rate, r.TempBasal.Duration, r.Guardrails); err != nil {
			return err
		}
	}
	if r.Bolus != nil {
		if err := ValidateBolusRequest(r.Bolus.Amount, r.Guardrails); err != nil {
			return err
		}
	}
	return nil
}
