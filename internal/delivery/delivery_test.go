package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

var guardrails = models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}

func TestRounder(t *testing.T) {
	r := DefaultRounder()

	rates := []struct{ in, want float64 }{
		{1.2374, 1.225},
		{1.2376, 1.25},
		{2.9999, 3.0},
		{0, 0},
		{0.1, 0.1},
	}
	for _, tt := range rates {
		assert.Equal(t, tt.want, r.Rate(tt.in), "rate %v", tt.in)
	}

	boluses := []struct{ in, want float64 }{
		{1.49, 1.45},
		{2.0, 2.0},
		{0.04, 0},
		{0.3, 0.3},
	}
	for _, tt := range boluses {
		assert.Equal(t, tt.want, r.Bolus(tt.in), "bolus %v", tt.in)
	}
}

func TestNewRounder(t *testing.T) {
	r, err := NewRounder(0.05, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 1.05, r.Rate(1.04))
	assert.Equal(t, 0.7, r.Bolus(0.79))

	_, err = NewRounder(0, 0.1)
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestRounder_ApplyCopies(t *testing.T) {
	rec := &dosing.Recommendation{
		TempBasal: &dosing.TempBasal{Rate: 1.2374, Duration: 30 * time.Minute},
		Bolus:     &dosing.Bolus{Amount: 1.49},
	}
	out := DefaultRounder().Apply(rec)

	assert.Equal(t, 1.225, out.TempBasal.Rate)
	assert.Equal(t, 1.45, out.Bolus.Amount)
	assert.Equal(t, 1.2374, rec.TempBasal.Rate)
	assert.Equal(t, 1.49, rec.Bolus.Amount)
	assert.Nil(t, DefaultRounder().Apply(nil))
}

func TestRounder_RateWithin(t *testing.T) {
	r := DefaultRounder()

	assert.Equal(t, 2.025, r.Rate(2.0125))
	assert.Equal(t, 2.0, r.RateWithin(2.0125, 2.0125))
	assert.Equal(t, 1.225, r.RateWithin(1.2374, 3))
	assert.Equal(t, 2.025, r.RateWithin(2.0125, 0))
}

func TestGuard_RoundsRateBelowMaxBasal(t *testing.T) {
	var enacted []*dosing.Recommendation
	next := DelegateFunc(func(_ context.Context, rec *dosing.Recommendation) error {
		enacted = append(enacted, rec)
		return nil
	})
	limits := guardrails
	limits.MaxBasalRate = 2.0125

	rec := &dosing.Recommendation{
		State:      dosing.StateRecommendingTempBasal,
		TempBasal:  &dosing.TempBasal{Rate: 2.0125, Duration: 30 * time.Minute},
		Guardrails: limits,
	}
	require.NoError(t, NewGuard(next, DefaultRounder(), nil).Enact(context.Background(), rec))
	require.Len(t, enacted, 1)
	assert.Equal(t, 2.0, enacted[0].TempBasal.Rate)
}

func TestGuard(t *testing.T) {
	var enacted []*dosing.Recommendation
	next := DelegateFunc(func(_ context.Context, rec *dosing.Recommendation) error {
		enacted = append(enacted, rec)
		return nil
	})
	guard := NewGuard(next, DefaultRounder(), nil)

	ok := &dosing.Recommendation{
		State:      dosing.StateRecommendingTempBasal,
		TempBasal:  &dosing.TempBasal{Rate: 3.01, Duration: 30 * time.Minute},
		Guardrails: guardrails,
	}
	require.NoError(t, guard.Enact(context.Background(), ok))
	require.Len(t, enacted, 1)
	assert.Equal(t, 3.0, enacted[0].TempBasal.Rate)

	tooMuch := &dosing.Recommendation{
		State:      dosing.StateRecommendingBolus,
		Bolus:      &dosing.Bolus{Amount: 12},
		Guardrails: guardrails,
	}
	err := guard.Enact(context.Background(), tooMuch)
	assert.True(t, errors.IsGuardrailViolation(err))
	assert.Len(t, enacted, 1)

	assert.NoError(t, guard.Enact(context.Background(), nil))
}

func TestLogDelegate(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := NewLogDelegate(zap.New(core).Sugar())

	rec := &dosing.Recommendation{
		State:     dosing.StateRecommendingTempBasal,
		Reason:    "eventual glucose 210 mg/dL above target",
		TempBasal: &dosing.TempBasal{Rate: 0, Duration: 0},
		Bolus:     &dosing.Bolus{Amount: 1.5, Notice: dosing.NoticePredictedGlucoseBelowTarget},
	}
	require.NoError(t, d.Enact(context.Background(), rec))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, dosing.StateRecommendingTempBasal, fields["state"])
	assert.Equal(t, true, fields["cancel"])
	assert.Equal(t, 1.5, fields["bolus"])
	assert.Equal(t, dosing.NoticePredictedGlucoseBelowTarget, fields["notice"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Enact(ctx, rec), context.Canceled)
}
