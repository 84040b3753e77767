// Package delivery hands recommendations to the pump side: rounding to
// device increments, a final guardrail check and logging.
package delivery

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
)

// Delegate accepts a recommendation and is responsible for actuating it
type Delegate interface {
	Enact(ctx context.Context, rec *dosing.Recommendation) error
}

// DelegateFunc adapts a function to Delegate
type DelegateFunc func(ctx context.Context, rec *dosing.Recommendation) error

// Enact calls f
func (f DelegateFunc) Enact(ctx context.Context, rec *dosing.Recommendation) error {
	return f(ctx, rec)
}

// Default pump increments
var (
	DefaultBasalIncrement = decimal.NewFromFloat(0.025)
	DefaultBolusIncrement = decimal.NewFromFloat(0.05)
)

// Rounder rounds doses to what the pump can deliver. Rates round to the
// nearest increment unless that passes the max basal rate; boluses round
// down so rounding never adds insulin.
type Rounder struct {
	BasalIncrement decimal.Decimal
	BolusIncrement decimal.Decimal
}

// DefaultRounder uses 1/40 U/hr basal strokes and 0.05 U bolus steps
func DefaultRounder() Rounder {
	return Rounder{BasalIncrement: DefaultBasalIncrement, BolusIncrement: DefaultBolusIncrement}
}

// NewRounder validates the increments
func NewRounder(basal, bolus float64) (Rounder, error) {
	if basal <= 0 || bolus <= 0 {
		return Rounder{}, errors.Wrapf(errors.ErrInvalidConfiguration, "pump increments must be positive, got basal %g bolus %g", basal, bolus)
	}
	return Rounder{BasalIncrement: decimal.NewFromFloat(basal), BolusIncrement: decimal.NewFromFloat(bolus)}, nil
}

// Rate rounds a temp basal rate to the nearest basal increment
func (r Rounder) Rate(rate float64) float64 {
	steps := decimal.NewFromFloat(rate).Div(r.BasalIncrement).Round(0)
	f, _ := steps.Mul(r.BasalIncrement).Float64()
	return f
}

// RateWithin rounds like Rate but steps down one increment when the nearest
// increment lies above max. A non-positive max disables the cap.
func (r Rounder) RateWithin(rate, max float64) float64 {
	rounded := r.Rate(rate)
	if max <= 0 || rounded <= max {
		return rounded
	}
	steps := decimal.NewFromFloat(rate).Div(r.BasalIncrement).Floor()
	f, _ := steps.Mul(r.BasalIncrement).Float64()
	return f
}

// Bolus rounds a bolus down to the bolus increment
func (r Rounder) Bolus(units float64) float64 {
	steps := decimal.NewFromFloat(units).Div(r.BolusIncrement).Floor()
	f, _ := steps.Mul(r.BolusIncrement).Float64()
	return f
}

// Apply returns a copy of rec with its doses rounded. Rates never round
// above the recommendation's max basal rate.
func (r Rounder) Apply(rec *dosing.Recommendation) *dosing.Recommendation {
	if rec == nil {
		return nil
	}
	out := *rec
	if rec.TempBasal != nil {
		tb := *rec.TempBasal
		tb.Rate = r.RateWithin(tb.Rate, rec.Guardrails.MaxBasalRate)
		out.TempBasal = &tb
	}
	if rec.Bolus != nil {
		b := *rec.Bolus
		b.Amount = r.Bolus(b.Amount)
		out.Bolus = &b
	}
	return &out
}

// Guard rounds a recommendation, re-checks it against its guardrails and
// only then passes it to the next delegate.
type Guard struct {
	next    Delegate
	rounder Rounder
	logger  *zap.SugaredLogger
}

// NewGuard wraps next
func NewGuard(next Delegate, rounder Rounder, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{next: next, rounder: rounder, logger: logger}
}

// Enact implements Delegate
func (g *Guard) Enact(ctx context.Context, rec *dosing.Recommendation) error {
	if rec == nil {
		return nil
	}
	rounded := g.rounder.Apply(rec)
	if err := rounded.Validate(); err != nil {
		g.logger.Errorw("Recommendation rejected", "error", err, "state", rec.State)
		return err
	}
	return g.next.Enact(ctx, rounded)
}

// LogDelegate records recommendations without actuating anything. It is the
// dry-run delegate used by the CLI.
type LogDelegate struct {
	logger *zap.SugaredLogger
}

// NewLogDelegate creates a LogDelegate
func NewLogDelegate(logger *zap.SugaredLogger) *LogDelegate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogDelegate{logger: logger}
}

// Enact implements Delegate
func (d *LogDelegate) Enact(ctx context.Context, rec *dosing.Recommendation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fields := []interface{}{
		"state", rec.State,
		"reason", rec.Reason,
		"reduced_confidence", rec.ReducedConfidence,
	}
	if rec.SuspendReason != "" {
		fields = append(fields, "suspend_reason", rec.SuspendReason)
	}
	if tb := rec.TempBasal; tb != nil {
		fields = append(fields, "temp_basal_rate", tb.Rate, "temp_basal_duration", tb.Duration, "cancel", tb.IsCancel())
	}
	if b := rec.Bolus; b != nil {
		fields = append(fields, "bolus", b.Amount, "pending_insulin", b.PendingInsulin)
		if b.Notice != dosing.NoticeNone {
			fields = append(fields, "notice", b.Notice)
		}
	}
	d.logger.Infow("Recommendation (dry run)", fields...)
	return nil
}
