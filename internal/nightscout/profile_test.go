package nightscout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

const profileJSON = `[{
	"_id": "p1",
	"defaultProfile": "Default",
	"units": "mmol",
	"store": {
		"Default": {
			"dia": 6,
			"timezone": "UTC",
			"carbratio": [{"time": "00:00", "value": 10}, {"time": "12:00", "value": 9}],
			"sens": [{"time": "00:00", "value": 2.5, "timeAsSeconds": 0}],
			"basal": [{"time": "00:00", "value": 0.8}, {"time": "06:30", "value": 1.1}],
			"target_low": [{"time": "00:00", "value": 5.5}],
			"target_high": [{"time": "00:00", "value": 6.5}]
		}
	}
}]`

var guardrails = models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}

func TestProfile_TherapySettings(t *testing.T) {
	var docs []ProfileDocument
	require.NoError(t, json.Unmarshal([]byte(profileJSON), &docs))

	profile, err := ActiveProfile(docs)
	require.NoError(t, err)
	assert.Equal(t, "mmol", profile.Units)

	settings, err := profile.TherapySettings(guardrails, models.DefaultGlucoseThresholds())
	require.NoError(t, err)
	require.NoError(t, settings.Validate())

	ratio, err := settings.CarbRatios.At(t0.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 9.0, ratio)

	isf, err := settings.InsulinSensitivity.At(t0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5*models.MgdlPerMmol, isf, 1e-9)

	early, err := settings.BasalRates.At(time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0.8, early)
	late, err := settings.BasalRates.At(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1.1, late)

	target, err := settings.TargetRanges.At(t0)
	require.NoError(t, err)
	assert.InDelta(t, 5.5*models.MgdlPerMmol, target.Min, 1e-9)
	assert.InDelta(t, 6.5*models.MgdlPerMmol, target.Max, 1e-9)
	assert.Equal(t, guardrails, settings.Guardrails)
}

func TestActiveProfile_Errors(t *testing.T) {
	_, err := ActiveProfile(nil)
	assert.True(t, errors.IsInvalidConfiguration(err))

	_, err = ActiveProfile([]ProfileDocument{{DefaultProfile: "Missing", Store: map[string]Profile{}}})
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestProfile_BadTime(t *testing.T) {
	p := Profile{
		CarbRatio:  []ProfileEntry{{Time: "noon", Value: 10}},
		Sens:       []ProfileEntry{{Time: "00:00", Value: 40}},
		Basal:      []ProfileEntry{{Time: "00:00", Value: 1}},
		TargetLow:  []ProfileEntry{{Time: "00:00", Value: 100}},
		TargetHigh: []ProfileEntry{{Time: "00:00", Value: 110}},
	}
	_, err := p.TherapySettings(guardrails, models.DefaultGlucoseThresholds())
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestActiveOverride(t *testing.T) {
	treatments := []Treatment{
		{EventType: EventTemporaryTarget, Date: t0.UnixMilli(), TargetBottom: 80, TargetTop: 90, Duration: 60, Reason: "Pre-Meal"},
		{EventType: EventTemporaryTarget, Date: t0.Add(-2 * time.Hour).UnixMilli(), TargetBottom: 140, TargetTop: 160, Duration: 600},
	}

	o, err := ActiveOverride(treatments, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "Pre-Meal", o.Name)
	assert.Equal(t, models.DoubleRange{Min: 80, Max: 90}, o.Range)

	o, err = ActiveOverride(treatments, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, o, "the newest target has ended")

	cancel := append(treatments, Treatment{EventType: EventTemporaryTarget, Date: t0.Add(10 * time.Minute).UnixMilli()})
	o, err = ActiveOverride(cancel, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/profile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profileJSON))
	})
	mux.HandleFunc("/api/v1/treatments", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]Treatment{
			{ID: "t1", EventType: EventMealBolus, Date: t0.UnixMilli(), Insulin: 3, Carbs: 30},
			{ID: "t2", EventType: EventTempBasal, Date: t0.Add(5 * time.Minute).UnixMilli(), Percent: ptr(50), Duration: 30},
		})
	})
	mux.HandleFunc("/api/v1/entries/sgv", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]GlucoseEntry{
			{SGV: 130, Date: t0.Add(5 * time.Minute).UnixMilli()},
			{SGV: 125, Date: t0.UnixMilli()},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	source := NewSource(NewClient(server.URL, "", "", false, WithRequestsPerMinute(0)), guardrails, models.DefaultGlucoseThresholds(), nil)

	samples, err := source.GlucoseSamples(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 125.0, samples[0].Value)

	carbs, err := source.CarbEntries(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, carbs, 1)
	assert.Equal(t, 30.0, carbs[0].Grams)

	doses, err := source.Doses(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, doses, 1, "percent temp basal needs a profile")

	_, err = source.TherapySettings(ctx, t0)
	require.NoError(t, err)

	doses, err = source.Doses(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, doses, 2)
	assert.InDelta(t, 1.2, doses[1].Value, 1e-9)
}

func TestSource_DosesWithBasal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/treatments", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]Treatment{
			{ID: "t2", EventType: EventTempBasal, Date: t0.Add(5 * time.Minute).UnixMilli(), Percent: ptr(50), Duration: 30},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	basal, err := models.NewBasalRateSchedule(time.UTC, []models.ScheduleItem[float64]{{StartTime: 0, Value: 0.8}})
	require.NoError(t, err)

	source := NewSource(NewClient(server.URL, "", "", false, WithRequestsPerMinute(0)), guardrails, models.DefaultGlucoseThresholds(), nil)
	doses, err := source.DosesWithBasal(context.Background(), t0.Add(-time.Hour), t0.Add(time.Hour), basal)
	require.NoError(t, err)
	require.Len(t, doses, 1)
	assert.InDelta(t, 1.2, doses[0].Value, 1e-9)
}
