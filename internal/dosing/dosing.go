// Package dosing turns a glucose forecast into a bounded temp basal and
// bolus recommendation.
package dosing

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/prediction"
)

// State is the outcome class of a recommendation
type State string

// Recommendation states
const (
	StateNormal                State = "normal"
	StateSuspended             State = "suspended"
	StateRecommendingTempBasal State = "recommendingTempBasal"
	StateRecommendingBolus     State = "recommendingBolus"
)

// SuspendReason explains a StateSuspended recommendation
type SuspendReason string

// Suspend reasons
const (
	SuspendPredictedLow  SuspendReason = "predictedLow"
	SuspendPumpSuspended SuspendReason = "pumpSuspended"
)

// BasalDeliveryState is what the pump reports it is doing
type BasalDeliveryState string

// Basal delivery states
const (
	BasalActive    BasalDeliveryState = "active"
	BasalTempBasal BasalDeliveryState = "tempBasal"
	BasalSuspended BasalDeliveryState = "suspended"
)

// PumpState is the pump's delivery status at recommendation time
type PumpState struct {
	IsSuspended        bool               `json:"isSuspended"`
	BasalDeliveryState BasalDeliveryState `json:"basalDeliveryState,omitempty"`
	// TempBasal is the last temp basal issued, running or not
	TempBasal *models.DoseEntry `json:"tempBasal,omitempty"`
}

// activeTempBasal returns the running temp basal at now, if any
func (p PumpState) activeTempBasal(now time.Time) *models.DoseEntry {
	tb := p.TempBasal
	if tb == nil || tb.Unit != models.UnitsPerHour || !tb.EndDate.After(now) {
		return nil
	}
	return tb
}

// Notice qualifies a bolus recommendation
type Notice string

// Bolus notices
const (
	NoticeNone                        Notice = ""
	NoticeGlucoseBelowSuspend         Notice = "glucoseBelowSuspendThreshold"
	NoticeCurrentGlucoseBelowTarget   Notice = "currentGlucoseBelowTarget"
	NoticePredictedGlucoseBelowTarget Notice = "predictedGlucoseBelowTarget"
)

// TempBasal is a rate to hold for a duration. A zero duration cancels the
// running temp basal and returns to the schedule.
type TempBasal struct {
	Rate     float64       `json:"rate"`
	Duration time.Duration `json:"duration"`
}

// IsCancel reports whether t cancels the running temp basal
func (t TempBasal) IsCancel() bool {
	return t.Duration == 0
}

// Bolus is a bolus suggestion. Amount is never negative or above max bolus.
type Bolus struct {
	Amount         float64                       `json:"amount"`
	PendingInsulin float64                       `json:"pendingInsulin"`
	Notice         Notice                        `json:"notice,omitempty"`
	MinGlucose     *models.PredictedGlucoseValue `json:"minGlucose,omitempty"`
}

// Recommendation is the engine's actuation output, with the guardrails it was bounded by
type Recommendation struct {
	Date          time.Time         `json:"date"`
	State         State             `json:"state"`
	SuspendReason SuspendReason     `json:"suspendReason,omitempty"`
	TempBasal     *TempBasal        `json:"tempBasal,omitempty"`
	Bolus         *Bolus            `json:"bolus,omitempty"`
	Reason        string            `json:"reason"`
	Guardrails    models.Guardrails `json:"guardrails"`
	// ReducedConfidence marks recommendations computed over incomplete dose history
	ReducedConfidence bool `json:"reducedConfidence,omitempty"`
}

// Defaults
const (
	DefaultSuspendHorizon         = 30 * time.Minute
	DefaultTempBasalDuration      = 30 * time.Minute
	DefaultMinimumTempBasalChange = 0.05
	DefaultInsulinActionHorizon   = 6 * time.Hour
	DefaultGlucoseFreshness       = 15 * time.Minute

	// a matching temp basal is left alone while it has this much time left
	tempBasalReissueMargin = 11 * time.Minute
)

// Config tunes the recommendation rules
type Config struct {
	// SuspendHorizon is how far ahead a predicted low forces a suspend
	SuspendHorizon    time.Duration
	TempBasalDuration time.Duration
	// MinimumTempBasalChange in U/hr below which a new rate is not issued
	MinimumTempBasalChange float64
	// InsulinActionHorizon picks the eventual glucose
	InsulinActionHorizon time.Duration
	// GlucoseFreshness is the oldest glucose a recommendation may be based on
	GlucoseFreshness time.Duration
}

// DefaultConfig returns the standard rule set
func DefaultConfig() Config {
	return Config{
		SuspendHorizon:         DefaultSuspendHorizon,
		TempBasalDuration:      DefaultTempBasalDuration,
		MinimumTempBasalChange: DefaultMinimumTempBasalChange,
		InsulinActionHorizon:   DefaultInsulinActionHorizon,
		GlucoseFreshness:       DefaultGlucoseFreshness,
	}
}

// Validate checks the durations and change threshold
func (c Config) Validate() error {
	if c.SuspendHorizon < 0 || c.TempBasalDuration <= 0 || c.InsulinActionHorizon <= 0 || c.GlucoseFreshness <= 0 {
		return errors.Wrap(errors.ErrInvalidConfiguration, "dosing durations must be positive")
	}
	if c.MinimumTempBasalChange < 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "minimum temp basal change %g is negative", c.MinimumTempBasalChange)
	}
	return nil
}

// Input is everything one recommendation depends on
type Input struct {
	Now time.Time
	// Prediction starts with the current glucose reading
	Prediction     []models.PredictedGlucoseValue
	Targets        models.GlucoseRangeSchedule
	Sensitivity    models.InsulinSensitivitySchedule
	Basal          models.BasalRateSchedule
	Guardrails     models.Guardrails
	Pump           PumpState
	PendingInsulin float64
}

// Recommend applies the rules in order: a suspended pump or a predicted low
// within SuspendHorizon suspends; otherwise a temp basal is sized toward the
// target range and a bolus toward the target midpoint. Missing or stale data
// is an ErrInsufficientData error, never a guessed recommendation.
func Recommend(in Input, cfg Config) (*Recommendation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := in.Guardrails.Validate(); err != nil {
		return nil, err
	}
	if len(in.Prediction) < 2 {
		return nil, errors.Wrapf(errors.ErrInsufficientData, "prediction has %d points", len(in.Prediction))
	}
	current := in.Prediction[0]
	if age := in.Now.Sub(current.StartDate); age > cfg.GlucoseFreshness {
		return nil, errors.WithDetailf(
			errors.Wrap(errors.ErrInsufficientData, "glucose is stale"),
			"glucose age %s exceeds %s", age, cfg.GlucoseFreshness)
	}

	rec := &Recommendation{Date: in.Now, State: StateNormal, Guardrails: in.Guardrails}
	active := in.Pump.activeTempBasal(in.Now)

	if in.Pump.IsSuspended || in.Pump.BasalDeliveryState == BasalSuspended {
		rec.State = StateSuspended
		rec.SuspendReason = SuspendPumpSuspended
		rec.Reason = "pump is suspended"
		return rec, nil
	}

	for _, p := range prediction.Within(in.Prediction, cfg.SuspendHorizon) {
		if p.Value <= in.Guardrails.SuspendThreshold {
			rec.State = StateSuspended
			rec.SuspendReason = SuspendPredictedLow
			rec.TempBasal = &TempBasal{Rate: 0, Duration: cfg.TempBasalDuration}
			rec.Reason = fmt.Sprintf("glucose predicted at %.0f mg/dL by %s, at or below suspend threshold %.0f mg/dL",
				p.Value, p.StartDate.Format(time.Kitchen), in.Guardrails.SuspendThreshold)
			return rec, nil
		}
	}

	tempBasal, reason, err := recommendTempBasal(in, cfg, active)
	if err != nil {
		return nil, err
	}
	bolus, err := recommendBolus(in, cfg)
	if err != nil {
		return nil, err
	}

	rec.TempBasal = tempBasal
	rec.Bolus = bolus
	rec.Reason = reason
	switch {
	case tempBasal != nil:
		rec.State = StateRecommendingTempBasal
	case bolus.Amount > 0:
		rec.State = StateRecommendingBolus
		rec.Reason = fmt.Sprintf("eventual glucose above target, %.2f U bolus suggested", bolus.Amount)
	}
	return rec, nil
}

// eventualAndMin picks the last point within the insulin action horizon and
// the lowest point of the whole forecast.
func eventualAndMin(in Input, cfg Config) (eventual, lowest models.PredictedGlucoseValue) {
	horizon := in.Now.Add(cfg.InsulinActionHorizon)
	eventual = in.Prediction[0]
	for _, p := range in.Prediction {
		if p.StartDate.After(horizon) {
			break
		}
		eventual = p
	}
	lowest, _ = prediction.Min(in.Prediction)
	return eventual, lowest
}

// tempBasalRate is the rate that delivers the insulin needed to move glucose
// to target over duration on top of the scheduled rate, bounded to [0, max].
func tempBasalRate(glucose, target, sensitivity, scheduled, maxRate float64, duration time.Duration) float64 {
	units := (glucose - target) / sensitivity
	rate := units/duration.Hours() + scheduled
	return math.Min(maxRate, math.Max(0, rate))
}

func recommendTempBasal(in Input, cfg Config, active *models.DoseEntry) (*TempBasal, string, error) {
	eventual, lowest := eventualAndMin(in, cfg)

	eventualTargets, err := in.Targets.At(eventual.StartDate)
	if err != nil {
		return nil, "", err
	}
	minTargets, err := in.Targets.At(lowest.StartDate)
	if err != nil {
		return nil, "", err
	}
	sensitivity, err := in.Sensitivity.At(in.Now)
	if err != nil {
		return nil, "", err
	}
	scheduled, err := in.Basal.At(in.Now)
	if err != nil {
		return nil, "", err
	}

	duration := cfg.TempBasalDuration
	var rate *float64
	reason := "glucose predicted within target range"

	switch {
	case lowest.Value <= in.Guardrails.SuspendThreshold:
		zero := 0.0
		rate = &zero
		reason = fmt.Sprintf("minimum predicted glucose %.0f mg/dL at or below suspend threshold", lowest.Value)

	case lowest.Value < minTargets.Min && eventual.Value <= eventualTargets.Min:
		r := tempBasalRate(lowest.Value, minTargets.Midpoint(), sensitivity, scheduled, in.Guardrails.MaxBasalRate, duration)
		rate = &r
		reason = fmt.Sprintf("minimum predicted glucose %.0f mg/dL below target", lowest.Value)

	case eventual.Value > eventualTargets.Max:
		// don't raise basal above the schedule while a low is still predicted
		maxRate := in.Guardrails.MaxBasalRate
		if lowest.Value < minTargets.Min {
			maxRate = scheduled
		}
		r := tempBasalRate(eventual.Value, eventualTargets.Midpoint(), sensitivity, scheduled, maxRate, duration)
		rate = &r
		reason = fmt.Sprintf("eventual glucose %.0f mg/dL above target", eventual.Value)
	}

	if rate != nil && math.Abs(*rate-scheduled) < cfg.MinimumTempBasalChange {
		rate = nil
		reason = "scheduled basal is sufficient"
	}

	if active != nil {
		if rate != nil {
			if math.Abs(*rate-active.Value) < cfg.MinimumTempBasalChange && active.EndDate.Sub(in.Now) > tempBasalReissueMargin {
				return nil, "running temp basal already matches", nil
			}
		} else {
			return &TempBasal{Rate: 0, Duration: 0}, "cancel temp basal, " + reason, nil
		}
	}

	if rate == nil {
		return nil, reason, nil
	}
	return &TempBasal{Rate: *rate, Duration: duration}, reason, nil
}

func recommendBolus(in Input, cfg Config) (*Bolus, error) {
	eventual, lowest := eventualAndMin(in, cfg)
	bolus := &Bolus{PendingInsulin: in.PendingInsulin}

	if lowest.Value < in.Guardrails.SuspendThreshold {
		bolus.Notice = NoticeGlucoseBelowSuspend
		bolus.MinGlucose = &lowest
		return bolus, nil
	}

	targets, err := in.Targets.At(eventual.StartDate)
	if err != nil {
		return nil, err
	}
	sensitivity, err := in.Sensitivity.At(in.Now)
	if err != nil {
		return nil, err
	}

	units := (eventual.Value-targets.Midpoint())/sensitivity - in.PendingInsulin
	bolus.Amount = math.Min(in.Guardrails.MaxBolus, math.Max(0, units))

	if bolus.Amount > 0 && lowest.Value < targets.Min {
		bolus.MinGlucose = &lowest
		if lowest.StartDate.Equal(in.Prediction[0].StartDate) {
			bolus.Notice = NoticeCurrentGlucoseBelowTarget
		} else {
			bolus.Notice = NoticePredictedGlucoseBelowTarget
		}
	}
	return bolus, nil
}
