package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaultsMatchEngine(t *testing.T) {
	cfg := defaults(t)
	require.NoError(t, cfg.Validate())

	engine, err := cfg.ToEngineConfiguration()
	require.NoError(t, err)
	assert.Equal(t, loop.DefaultEngineConfiguration(), engine)

	assert.Equal(t, models.Guardrails{MaxBolus: 10, MaxBasalRate: 3, SuspendThreshold: 70}, cfg.Guardrails())
	assert.Equal(t, models.DefaultGlucoseThresholds(), cfg.Thresholds())

	unit, err := cfg.DisplayUnit()
	require.NoError(t, err)
	assert.Equal(t, models.MilligramsPerDeciliter, unit)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
delta = "10m"

[engine.carb_model]
kind = "piecewiseLinear"
overrun = 2.0

[engine.insulin_model]
preset = "fiasp"

[therapy]
units = "mmol/L"

[loop]
interval = "2m"
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Minute, cfg.Loop.Interval)
	assert.Equal(t, 30*time.Second, cfg.Engine.DuplicateTolerance, "unset keys keep their defaults")

	engine, err := cfg.ToEngineConfiguration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, engine.Delta)
	assert.Equal(t, 10*time.Minute, engine.Prediction.Delta)
	assert.Equal(t, 10*time.Minute, engine.Retrospective.Delta)
	assert.Equal(t, curves.CarbModel{Kind: curves.PiecewiseLinear, AbsorptionTimeOverrun: 2}, engine.CarbModel)

	fiasp, err := curves.Fiasp.Model()
	require.NoError(t, err)
	assert.Equal(t, fiasp, engine.InsulinModel)

	unit, err := cfg.DisplayUnit()
	require.NoError(t, err)
	assert.Equal(t, models.MillimolesPerLiter, unit)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("LOOP_ENGINE_DELTA", "10m")
	t.Setenv("LOOP_THERAPY_GUARDRAILS_MAX_BOLUS", "6.5")
	t.Setenv("NIGHTSCOUT_URL", "https://ns.example.com")
	t.Setenv("API_SECRET", "hunter2hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Engine.Delta)
	assert.Equal(t, 6.5, cfg.Guardrails().MaxBolus)
	assert.Equal(t, "https://ns.example.com", cfg.Nightscout.URL)
	assert.Equal(t, "hunter2hunter2", cfg.Nightscout.APISecret)

	client, err := cfg.NightscoutClient(nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.Nightscout.URL = "ns.example.com" }},
		{"token missing", func(c *Config) { c.Nightscout.UseToken = true }},
		{"no timeout", func(c *Config) { c.Nightscout.Timeout = 0 }},
		{"negative rate limit", func(c *Config) { c.Nightscout.RequestsPerMinute = -1 }},
		{"carb units", func(c *Config) { c.Therapy.Units = "g" }},
		{"no max bolus", func(c *Config) { c.Therapy.Guardrails.MaxBolus = 0 }},
		{"thresholds out of order", func(c *Config) { c.Therapy.Thresholds.TargetHigh = 60 }},
		{"no interval", func(c *Config) { c.Loop.Interval = 0 }},
		{"no bolus increment", func(c *Config) { c.Loop.BolusIncrement = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"carb model", func(c *Config) { c.Engine.CarbModel.Kind = "cubic" }},
		{"insulin preset", func(c *Config) { c.Engine.InsulinModel.Preset = "humalog-ish" }},
		{"no delta", func(c *Config) { c.Engine.Delta = 0 }},
		{"no horizon", func(c *Config) { c.Engine.PredictionHorizon = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalidConfiguration(err), "got %v", err)
		})
	}
}

func TestNightscoutClient_NoURL(t *testing.T) {
	cfg := defaults(t)
	_, err := cfg.NightscoutClient(nil)
	assert.True(t, errors.IsInvalidConfiguration(err))
	assert.NotEmpty(t, errors.FlattenHints(err))
}

func TestTherapyFile(t *testing.T) {
	cfg := defaults(t)
	settings, err := cfg.TherapyFile()
	require.NoError(t, err)
	assert.Nil(t, settings)

	cfg.Therapy.Path = filepath.Join(t.TempDir(), "therapy.yaml")
	require.NoError(t, os.WriteFile(cfg.Therapy.Path, []byte(`
version: 1
units: mg/dL
carbRatios: [{start: "00:00", value: 10}]
insulinSensitivity: [{start: "00:00", value: 40}]
basalRates: [{start: "00:00", value: 0.8}]
targetRanges: [{start: "00:00", min: 100, max: 110}]
guardrails: {maxBolus: 10, maxBasalRate: 3, suspendThreshold: 70}
`), 0o600))

	settings, err = cfg.TherapyFile()
	require.NoError(t, err)
	require.NotNil(t, settings)
	rate, err := settings.BasalRates.At(time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0.8, rate)

	cfg.Therapy.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.TherapyFile()
	assert.Error(t, err)
}
