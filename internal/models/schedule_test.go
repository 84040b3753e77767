package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

func carbRatios(t *testing.T) CarbRatioSchedule {
	t.Helper()
	s, err := NewCarbRatioSchedule(time.UTC, []ScheduleItem[float64]{
		{StartTime: 0, Value: 10},
		{StartTime: 12 * time.Hour, Value: 9},
		{StartTime: 18 * time.Hour, Value: 8},
	})
	require.NoError(t, err)
	return s
}

func TestDailySchedule_At(t *testing.T) {
	s := carbRatios(t)
	day := time.Date(2015, 10, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		offset time.Duration
		want   float64
	}{
		{0, 10},
		{11*time.Hour + 59*time.Minute, 10},
		{12 * time.Hour, 9},
		{17 * time.Hour, 9},
		{18 * time.Hour, 8},
		{23*time.Hour + 59*time.Minute, 8},
		{24 * time.Hour, 10},
	}
	for _, tt := range tests {
		got, err := s.At(day.Add(tt.offset))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "offset %s", tt.offset)
	}
}

func TestDailySchedule_TimeZone(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*3600)
	s, err := NewCarbRatioSchedule(loc, []ScheduleItem[float64]{
		{StartTime: 0, Value: 10},
		{StartTime: 12 * time.Hour, Value: 9},
	})
	require.NoError(t, err)

	// 18:00 UTC is 11:00 local
	got, err := s.At(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestNewDailySchedule_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		items []ScheduleItem[float64]
	}{
		{"empty", nil},
		{"not midnight", []ScheduleItem[float64]{{StartTime: time.Hour, Value: 1}}},
		{"duplicate", []ScheduleItem[float64]{{StartTime: 0, Value: 1}, {StartTime: 0, Value: 2}}},
		{"past midnight", []ScheduleItem[float64]{{StartTime: 0, Value: 1}, {StartTime: 25 * time.Hour, Value: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDailySchedule(time.UTC, tt.items)
			assert.True(t, errors.IsInvalidConfiguration(err), "got %v", err)
		})
	}
}

func TestDailySchedule_ZeroValueIsInvalidConfiguration(t *testing.T) {
	var s CarbRatioSchedule
	_, err := s.At(time.Now())
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestScheduledUnits_CrossesBoundaries(t *testing.T) {
	basal, err := NewBasalRateSchedule(time.UTC, []ScheduleItem[float64]{
		{StartTime: 0, Value: 1.0},
		{StartTime: 6 * time.Hour, Value: 2.0},
	})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	units, err := ScheduledUnits(basal, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, units, 1e-9)

	// Crossing midnight wraps back to the first item
	late := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	units, err = ScheduledUnits(basal, late, late.Add(2*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, units, 1e-9)
}

func TestGlucoseRangeSchedule_Override(t *testing.T) {
	ranges, err := NewGlucoseRangeSchedule(MillimolesPerLiter, time.UTC, []ScheduleItem[DoubleRange]{
		{StartTime: 0, Value: DoubleRange{Min: 5, Max: 6}},
	})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	preMeal, err := NewTemporaryScheduleOverride("preMeal", MilligramsPerDeciliter, DoubleRange{Min: 80, Max: 80}, start, time.Hour)
	require.NoError(t, err)
	ranges = ranges.WithOverride(preMeal)

	r, err := ranges.At(start.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DoubleRange{Min: 80, Max: 80}, r)

	r, err = ranges.At(start.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 90.091, r.Min, 1e-9)
	assert.InDelta(t, 99.1, r.Midpoint(), 0.01)
}

func TestNewGlucoseRangeSchedule_Inverted(t *testing.T) {
	_, err := NewGlucoseRangeSchedule(MilligramsPerDeciliter, time.UTC, []ScheduleItem[DoubleRange]{
		{StartTime: 0, Value: DoubleRange{Min: 120, Max: 100}},
	})
	assert.True(t, errors.IsInvalidConfiguration(err))
}
