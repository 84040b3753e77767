package config

import (
	"github.com/spf13/viper"

	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/nightscout"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Nightscout connection
	v.SetDefault("nightscout.url", "")
	v.SetDefault("nightscout.use_token", false)
	v.SetDefault("nightscout.timeout", nightscout.DefaultTimeout)
	v.SetDefault("nightscout.requests_per_minute", nightscout.DefaultRequestsPerMinute)

	// Insulin and carb curves
	v.SetDefault("engine.insulin_model.kind", string(curves.ExponentialKind))
	v.SetDefault("engine.insulin_model.preset", string(curves.RapidActingAdult))
	v.SetDefault("engine.insulin_model.delay", curves.DefaultInsulinDelay)
	v.SetDefault("engine.carb_model.kind", string(curves.Linear))
	v.SetDefault("engine.carb_model.overrun", curves.DefaultAbsorptionTimeOverrun)
	v.SetDefault("engine.absorption_times.fast", "2h")
	v.SetDefault("engine.absorption_times.medium", "3h")
	v.SetDefault("engine.absorption_times.slow", "4h")

	// Effect grid and glucose handling
	v.SetDefault("engine.carb_delay", "10m")
	v.SetDefault("engine.delta", "5m")
	v.SetDefault("engine.momentum_duration", "30m")
	v.SetDefault("engine.momentum_data_interval", "15m")
	v.SetDefault("engine.continuous_interval", "5m")
	v.SetDefault("engine.counteraction_interval", "4m")
	v.SetDefault("engine.duplicate_tolerance", "30s")
	v.SetDefault("engine.prediction_horizon", "6h")

	v.SetDefault("engine.dynamic_absorption.enabled", false)
	v.SetDefault("engine.dynamic_absorption.max_overrun", 1.5)
	v.SetDefault("engine.dynamic_absorption.min_fraction", 0.5)

	v.SetDefault("engine.retrospective.enabled", true)
	v.SetDefault("engine.retrospective.window", "30m")
	v.SetDefault("engine.retrospective.effect_duration", "60m")
	v.SetDefault("engine.retrospective.recency", "15m")
	v.SetDefault("engine.retrospective.min_samples", 3)
	v.SetDefault("engine.retrospective.decay", "0s")

	v.SetDefault("engine.dosing.suspend_horizon", "30m")
	v.SetDefault("engine.dosing.temp_basal_duration", "30m")
	v.SetDefault("engine.dosing.minimum_temp_basal_change", 0.05)
	v.SetDefault("engine.dosing.insulin_action_horizon", "6h")
	v.SetDefault("engine.dosing.glucose_freshness", "15m")

	v.SetDefault("engine.reservoir.rewind_threshold", 1.0)
	v.SetDefault("engine.reservoir.max_gap", "30m")
	v.SetDefault("engine.reservoir.max_drop_per_minute", 2.0)

	// Therapy limits (mg/dL)
	v.SetDefault("therapy.units", "mg/dL")
	v.SetDefault("therapy.guardrails.max_bolus", 10.0)
	v.SetDefault("therapy.guardrails.max_basal_rate", 3.0)
	v.SetDefault("therapy.guardrails.suspend_threshold", 70.0)
	v.SetDefault("therapy.thresholds.urgent_low", 55.0)
	v.SetDefault("therapy.thresholds.target_low", 70.0)
	v.SetDefault("therapy.thresholds.target_high", 180.0)
	v.SetDefault("therapy.thresholds.urgent_high", 250.0)

	// Running loop
	v.SetDefault("loop.interval", "5m")
	v.SetDefault("loop.basal_increment", 0.025)
	v.SetDefault("loop.bolus_increment", 0.05)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars binds the Nightscout credentials to their conventional
// environment variables as well as the LOOP_ prefixed ones
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("nightscout.url", "LOOP_NIGHTSCOUT_URL", "NIGHTSCOUT_URL")
	_ = v.BindEnv("nightscout.api_secret", "LOOP_NIGHTSCOUT_API_SECRET", "API_SECRET")
	_ = v.BindEnv("nightscout.api_token", "LOOP_NIGHTSCOUT_API_TOKEN")
}
