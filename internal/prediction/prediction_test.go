package prediction

import (
	"math"
	"testing"
	"time"

	"github.com/mrcode/nightscout-loop/internal/models"
)

var now = time.Date(2024, 9, 1, 7, 32, 0, 0, time.UTC)

func ramp(start time.Time, n int, step float64) []models.GlucoseEffect {
	out := make([]models.GlucoseEffect, n)
	for i := range out {
		out[i] = models.GlucoseEffect{StartDate: start.Add(time.Duration(i) * 5 * time.Minute), Value: step * float64(i)}
	}
	return out
}

func TestPredictor_Predict(t *testing.T) {
	predictor := NewPredictor(Config{Horizon: 2 * time.Hour, Delta: 5 * time.Minute})
	glucose := models.GlucoseSample{StartDate: now, Value: 120}

	result := predictor.Predict(glucose, Effects{})

	// reading plus 07:35 through 09:30
	if len(result) != 25 {
		t.Fatalf("Expected 25 points, got %d", len(result))
	}
	if !result[0].StartDate.Equal(now) || result[0].Value != 120 {
		t.Errorf("First point should be the reading, got %+v", result[0])
	}
	if !result[1].StartDate.Equal(now.Add(3 * time.Minute)) {
		t.Errorf("Second point should be on the grid, got %s", result[1].StartDate)
	}
	for _, p := range result {
		if p.Value != 120 {
			t.Errorf("Expected flat forecast without effects, got %v at %s", p.Value, p.StartDate)
		}
	}
}

func TestPredict_SumsLayers(t *testing.T) {
	start := models.FloorDate(now, 5*time.Minute)
	glucose := models.GlucoseSample{StartDate: start, Value: 100}
	carbs := ramp(start, 13, 4)
	insulin := ramp(start, 13, -1)

	result := Predict(glucose, time.Hour, 5*time.Minute, carbs, insulin)
	if len(result) != 13 {
		t.Fatalf("Expected 13 points, got %d", len(result))
	}
	for i, p := range result {
		want := 100 + 3*float64(i)
		if math.Abs(p.Value-want) > 1e-9 {
			t.Errorf("Point %d: expected %v, got %v", i, want, p.Value)
		}
	}
}

func TestPredict_ReadingBetweenGridPoints(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 2, 30, 0, time.UTC)
	start := models.FloorDate(last, 5*time.Minute)
	glucose := models.GlucoseSample{StartDate: last, Value: 150}

	// 3 mg/dL/min from the reading, zero at the floored grid start
	momentum := []models.GlucoseEffect{{StartDate: start, Value: 0}}
	for date := start.Add(5 * time.Minute); !date.After(start.Add(30 * time.Minute)); date = date.Add(5 * time.Minute) {
		momentum = append(momentum, models.GlucoseEffect{StartDate: date, Value: 3 * date.Sub(last).Minutes()})
	}

	result := Predict(glucose, 30*time.Minute, 5*time.Minute, momentum)
	if len(result) < 2 {
		t.Fatalf("Expected a forecast, got %d points", len(result))
	}
	for _, p := range result[1:] {
		want := 150 + 3*p.StartDate.Sub(last).Minutes()
		if math.Abs(p.Value-want) > 1e-9 {
			t.Errorf("At %s: expected %v, got %v", p.StartDate.Format("15:04"), want, p.Value)
		}
	}
	if got := result[1].Value; math.Abs(got-157.5) > 1e-9 {
		t.Errorf("Expected 157.5 at 12:05, got %v", got)
	}
}

func TestPredict_LayersOutsideTheirSpan(t *testing.T) {
	start := models.FloorDate(now, 5*time.Minute)
	glucose := models.GlucoseSample{StartDate: start, Value: 100}

	// starts in thirty minutes and ends ten minutes later
	late := []models.GlucoseEffect{
		{StartDate: start.Add(30 * time.Minute), Value: 0},
		{StartDate: start.Add(35 * time.Minute), Value: 5},
		{StartDate: start.Add(40 * time.Minute), Value: 10},
	}

	result := Predict(glucose, time.Hour, 5*time.Minute, late)
	for _, p := range result {
		offset := p.StartDate.Sub(start)
		var want float64
		switch {
		case offset <= 30*time.Minute:
			want = 100
		case offset >= 40*time.Minute:
			want = 110
		default:
			want = 105
		}
		if math.Abs(p.Value-want) > 1e-9 {
			t.Errorf("At +%s: expected %v, got %v", offset, want, p.Value)
		}
	}
}

func TestPredict_NeverClamps(t *testing.T) {
	start := models.FloorDate(now, 5*time.Minute)
	glucose := models.GlucoseSample{StartDate: start, Value: 60}
	result := Predict(glucose, time.Hour, 5*time.Minute, ramp(start, 13, -10))

	eventual, ok := Eventual(result)
	if !ok || eventual.Value != -60 {
		t.Errorf("Expected unclamped eventual -60, got %v", eventual.Value)
	}
	lowest, _ := Min(result)
	if lowest.Value != eventual.Value {
		t.Errorf("Expected min to be the eventual value, got %v", lowest.Value)
	}
}

func TestWithin(t *testing.T) {
	start := models.FloorDate(now, 5*time.Minute)
	result := Predict(models.GlucoseSample{StartDate: start, Value: 100}, time.Hour, 5*time.Minute)
	near := Within(result, 30*time.Minute)
	if len(near) != 7 {
		t.Errorf("Expected 7 points within 30 minutes, got %d", len(near))
	}
	if Within(nil, time.Hour) != nil {
		t.Error("Expected nil for an empty forecast")
	}
}

func TestThresholdTimes(t *testing.T) {
	start := models.FloorDate(now, 5*time.Minute)
	points := []models.PredictedGlucoseValue{
		{StartDate: start, Value: 150},
		{StartDate: start.Add(5 * time.Minute), Value: 170},
		{StartDate: start.Add(10 * time.Minute), Value: 190},
		{StartDate: start.Add(15 * time.Minute), Value: 60},
	}

	highIn, lowIn := ThresholdTimes(points, 180, 70)
	if math.Abs(highIn-7.5) > 1e-9 {
		t.Errorf("Expected high in 7.5 minutes, got %v", highIn)
	}
	if math.Abs(lowIn-(10+5*120.0/130)) > 1e-9 {
		t.Errorf("Unexpected low crossing %v", lowIn)
	}

	highIn, lowIn = ThresholdTimes(points[:2], 250, 40)
	if highIn != -1 || lowIn != -1 {
		t.Errorf("Expected no crossings, got %v / %v", highIn, lowIn)
	}

	highIn, _ = ThresholdTimes(points, 120, 40)
	if highIn != 0 {
		t.Errorf("Expected immediate high, got %v", highIn)
	}
}
