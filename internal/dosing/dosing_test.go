package dosing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

var now = time.Date(2024, 4, 12, 15, 0, 0, 0, time.UTC)

// forecast builds six hours of five-minute points starting at now
func forecast(f func(i int) float64) []models.PredictedGlucoseValue {
	out := make([]models.PredictedGlucoseValue, 73)
	for i := range out {
		out[i] = models.PredictedGlucoseValue{StartDate: now.Add(time.Duration(i) * 5 * time.Minute), Value: f(i)}
	}
	return out
}

func linear(from, to float64) func(int) float64 {
	return func(i int) float64 { return from + (to-from)*float64(i)/72 }
}

func input(t *testing.T, predicted []models.PredictedGlucoseValue) Input {
	t.Helper()
	targets, err := models.NewGlucoseRangeSchedule(models.MilligramsPerDeciliter, time.UTC,
		[]models.ScheduleItem[models.DoubleRange]{{StartTime: 0, Value: models.DoubleRange{Min: 100, Max: 120}}})
	require.NoError(t, err)
	sensitivity, err := models.NewDailySchedule(time.UTC, []models.ScheduleItem[float64]{{StartTime: 0, Value: 50}})
	require.NoError(t, err)
	basal, err := models.NewBasalRateSchedule(time.UTC, []models.ScheduleItem[float64]{{StartTime: 0, Value: 1.0}})
	require.NoError(t, err)

	return Input{
		Now:         now,
		Prediction:  predicted,
		Targets:     targets,
		Sensitivity: sensitivity,
		Basal:       basal,
		Guardrails:  models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70},
	}
}

func runningTemp(rate float64, remaining time.Duration) *models.DoseEntry {
	return &models.DoseEntry{
		Type:      models.DoseTempBasal,
		StartDate: now.Add(remaining - 30*time.Minute),
		EndDate:   now.Add(remaining),
		Value:     rate,
		Unit:      models.UnitsPerHour,
	}
}

func TestRecommend_InRange(t *testing.T) {
	rec, err := Recommend(input(t, forecast(linear(110, 110))), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, StateNormal, rec.State)
	assert.Nil(t, rec.TempBasal)
	require.NotNil(t, rec.Bolus)
	assert.Zero(t, rec.Bolus.Amount)
	assert.NoError(t, rec.Validate())
}

func TestRecommend_SuspendTakesPrecedence(t *testing.T) {
	// a steep fall that also ends far above target
	in := input(t, forecast(func(i int) float64 {
		if i <= 4 {
			return 80 - 5*float64(i)
		}
		return 300
	}))
	in.Pump.TempBasal = runningTemp(2.5, 20*time.Minute)

	rec, err := Recommend(in, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, StateSuspended, rec.State)
	assert.Equal(t, SuspendPredictedLow, rec.SuspendReason)
	require.NotNil(t, rec.TempBasal)
	assert.Equal(t, TempBasal{Rate: 0, Duration: 30 * time.Minute}, *rec.TempBasal)
	assert.Nil(t, rec.Bolus)
	assert.Equal(t, in.Guardrails, rec.Guardrails)
}

func TestRecommend_PumpSuspended(t *testing.T) {
	in := input(t, forecast(linear(200, 250)))
	in.Pump.IsSuspended = true

	rec, err := Recommend(in, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, rec.State)
	assert.Equal(t, SuspendPumpSuspended, rec.SuspendReason)
	assert.Nil(t, rec.TempBasal)
	assert.Nil(t, rec.Bolus)
}

func TestRecommend_HighEventual(t *testing.T) {
	rec, err := Recommend(input(t, forecast(linear(110, 210))), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, StateRecommendingTempBasal, rec.State)
	require.NotNil(t, rec.TempBasal)
	// 2 U over half an hour on top of 1 U/hr, bounded by the 3 U/hr max
	assert.Equal(t, 3.0, rec.TempBasal.Rate)
	assert.Equal(t, 30*time.Minute, rec.TempBasal.Duration)
	assert.InDelta(t, 2.0, rec.Bolus.Amount, 1e-12)
	assert.Equal(t, NoticeNone, rec.Bolus.Notice)
	assert.NoError(t, rec.Validate())
}

func TestRecommend_LowEventualLowersBasal(t *testing.T) {
	rec, err := Recommend(input(t, forecast(linear(110, 80))), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, StateRecommendingTempBasal, rec.State)
	require.NotNil(t, rec.TempBasal)
	assert.Zero(t, rec.TempBasal.Rate)
	assert.False(t, rec.TempBasal.IsCancel())
	assert.Zero(t, rec.Bolus.Amount)
}

func TestRecommend_LowBeyondSuspendHorizon(t *testing.T) {
	dip := func(i int) float64 {
		if i <= 24 {
			return 110 - 50*float64(i)/24
		}
		return 60 + 90*float64(i-24)/48
	}
	rec, err := Recommend(input(t, forecast(dip)), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, StateRecommendingTempBasal, rec.State)
	assert.Empty(t, rec.SuspendReason)
	require.NotNil(t, rec.TempBasal)
	assert.Zero(t, rec.TempBasal.Rate)
	assert.Zero(t, rec.Bolus.Amount)
	assert.Equal(t, NoticeGlucoseBelowSuspend, rec.Bolus.Notice)
	require.NotNil(t, rec.Bolus.MinGlucose)
	assert.Equal(t, 60.0, rec.Bolus.MinGlucose.Value)
}

func TestRecommend_RunningTempBasal(t *testing.T) {
	tests := []struct {
		name      string
		predicted func(int) float64
		running   *models.DoseEntry
		want      *TempBasal
		wantState State
	}{
		{"matching rate with time left", linear(110, 210), runningTemp(3, 20*time.Minute), nil, StateRecommendingBolus},
		{"matching rate about to end", linear(110, 210), runningTemp(3, 10*time.Minute), &TempBasal{Rate: 3, Duration: 30 * time.Minute}, StateRecommendingTempBasal},
		{"different rate", linear(110, 210), runningTemp(1.5, 20*time.Minute), &TempBasal{Rate: 3, Duration: 30 * time.Minute}, StateRecommendingTempBasal},
		{"cancel when in range", linear(110, 110), runningTemp(2, 20*time.Minute), &TempBasal{Rate: 0, Duration: 0}, StateRecommendingTempBasal},
		{"ended temp is ignored", linear(110, 110), runningTemp(2, -time.Minute), nil, StateNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, forecast(tt.predicted))
			in.Pump.TempBasal = tt.running
			in.Pump.BasalDeliveryState = BasalTempBasal

			rec, err := Recommend(in, DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.TempBasal)
			assert.Equal(t, tt.wantState, rec.State)
		})
	}
}

func TestRecommend_ScheduledRateIsNotReissued(t *testing.T) {
	in := input(t, forecast(linear(110, 110.5)))
	targets, err := models.NewGlucoseRangeSchedule(models.MilligramsPerDeciliter, time.UTC,
		[]models.ScheduleItem[models.DoubleRange]{{StartTime: 0, Value: models.DoubleRange{Min: 110, Max: 110}}})
	require.NoError(t, err)
	in.Targets = targets

	rec, err := Recommend(in, DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, rec.TempBasal)
}

func TestRecommend_HighWithCurrentLowStaysOnSchedule(t *testing.T) {
	rec, err := Recommend(input(t, forecast(linear(95, 210))), DefaultConfig())
	require.NoError(t, err)

	assert.Nil(t, rec.TempBasal)
	assert.Equal(t, StateRecommendingBolus, rec.State)
	assert.Equal(t, NoticeCurrentGlucoseBelowTarget, rec.Bolus.Notice)
	assert.InDelta(t, 2.0, rec.Bolus.Amount, 1e-12)
}

func TestRecommend_Bolus(t *testing.T) {
	tests := []struct {
		name    string
		to      float64
		pending float64
		max     float64
		want    float64
	}{
		{"pending insulin subtracted", 210, 0.5, 10, 1.5},
		{"pending exceeds need", 210, 5, 10, 0},
		{"capped at max bolus", 610, 0, 4, 4},
		{"below midpoint", 105, 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, forecast(linear(110, tt.to)))
			in.PendingInsulin = tt.pending
			in.Guardrails.MaxBolus = tt.max

			rec, err := Recommend(in, DefaultConfig())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, rec.Bolus.Amount, 1e-12)
			assert.LessOrEqual(t, rec.Bolus.Amount, tt.max)
			assert.Equal(t, tt.pending, rec.Bolus.PendingInsulin)
		})
	}
}

func TestRecommend_NoRecommendation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(in *Input)
		check func(error) bool
	}{
		{"stale glucose", func(in *Input) { in.Now = now.Add(20 * time.Minute) }, errors.IsInsufficientData},
		{"single point", func(in *Input) { in.Prediction = in.Prediction[:1] }, errors.IsInsufficientData},
		{"no prediction", func(in *Input) { in.Prediction = nil }, errors.IsInsufficientData},
		{"no targets", func(in *Input) { in.Targets = models.GlucoseRangeSchedule{} }, errors.IsInvalidConfiguration},
		{"no sensitivity", func(in *Input) { in.Sensitivity = models.InsulinSensitivitySchedule{} }, errors.IsInvalidConfiguration},
		{"no guardrails", func(in *Input) { in.Guardrails = models.Guardrails{} }, errors.IsInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, forecast(linear(110, 210)))
			tt.setup(&in)
			rec, err := Recommend(in, DefaultConfig())
			assert.Nil(t, rec)
			assert.True(t, tt.check(err), "got %v", err)
			assert.True(t, errors.IsNoRecommendation(err))
		})
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	in := input(t, forecast(linear(130, 190)))
	a, err := Recommend(in, DefaultConfig())
	require.NoError(t, err)
	b, err := Recommend(in, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateBolusRequest(t *testing.T) {
	g := models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}

	assert.NoError(t, ValidateBolusRequest(10, g))
	assert.NoError(t, ValidateBolusRequest(0, g))

	for _, units := range []float64{10.05, -1, math.NaN(), math.Inf(1)} {
		err := ValidateBolusRequest(units, g)
		assert.True(t, errors.IsGuardrailViolation(err), "%v: got %v", units, err)
	}

	err := ValidateBolusRequest(12, g)
	require.Error(t, err)
	assert.Contains(t, errors.FlattenDetails(err), "requested 12 U > max 10 U")
	assert.Equal(t, "guardrail_violation", errors.Kind(err))

	assert.True(t, errors.IsInvalidConfiguration(ValidateBolusRequest(1, models.Guardrails{})))
}

func TestValidateTempBasalRequest(t *testing.T) {
	g := models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}

	assert.NoError(t, ValidateTempBasalRequest(3, 30*time.Minute, g))
	assert.NoError(t, ValidateTempBasalRequest(0, 0, g))

	tests := []struct {
		name     string
		rate     float64
		duration time.Duration
	}{
		{"above max", 3.5, 30 * time.Minute},
		{"negative", -0.5, 30 * time.Minute},
		{"too long", 1, 25 * time.Hour},
		{"negative duration", 1, -time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.IsGuardrailViolation(ValidateTempBasalRequest(tt.rate, tt.duration, g)))
		})
	}
}
