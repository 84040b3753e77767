// Package config loads the loop's configuration from defaults, TOML files
// and LOOP_* environment variables, and turns it into the immutable values
// the engine and its adapters are built from.
package config

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/curves"
)

// Config is the complete loop configuration
type Config struct {
	Nightscout NightscoutConfig `mapstructure:"nightscout" json:"nightscout" yaml:"nightscout" toml:"nightscout"`
	Engine     EngineConfig     `mapstructure:"engine" json:"engine" yaml:"engine" toml:"engine"`
	Therapy    TherapyConfig    `mapstructure:"therapy" json:"therapy" yaml:"therapy" toml:"therapy"`
	Loop       LoopConfig       `mapstructure:"loop" json:"loop" yaml:"loop" toml:"loop"`
	Log        LogConfig        `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
}

// NightscoutConfig is the connection to the Nightscout site
type NightscoutConfig struct {
	URL       string `mapstructure:"url" json:"url" yaml:"url" toml:"url"`
	APISecret string `mapstructure:"api_secret" json:"api_secret,omitempty" yaml:"api_secret,omitempty" toml:"api_secret,omitempty"` // plain secret, hashed on use
	APIToken  string `mapstructure:"api_token" json:"api_token,omitempty" yaml:"api_token,omitempty" toml:"api_token,omitempty"`
	UseToken  bool   `mapstructure:"use_token" json:"use_token" yaml:"use_token" toml:"use_token"`

	Timeout           time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" toml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"` // 0 disables the limiter
}

// CarbModelConfig selects the absorption curve
type CarbModelConfig struct {
	Kind    string  `mapstructure:"kind" json:"kind" yaml:"kind" toml:"kind"`
	Overrun float64 `mapstructure:"overrun" json:"overrun" yaml:"overrun" toml:"overrun"` // piecewise-linear only
}

// AbsorptionTimesConfig is the fast/medium/slow absorption table
type AbsorptionTimesConfig struct {
	Fast   time.Duration `mapstructure:"fast" json:"fast" yaml:"fast" toml:"fast"`
	Medium time.Duration `mapstructure:"medium" json:"medium" yaml:"medium" toml:"medium"`
	Slow   time.Duration `mapstructure:"slow" json:"slow" yaml:"slow" toml:"slow"`
}

// DynamicAbsorptionConfig bounds revised absorption times
type DynamicAbsorptionConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxOverrun  float64 `mapstructure:"max_overrun" json:"max_overrun" yaml:"max_overrun" toml:"max_overrun"`
	MinFraction float64 `mapstructure:"min_fraction" json:"min_fraction" yaml:"min_fraction" toml:"min_fraction"`
}

// RetrospectiveConfig controls retrospective correction
type RetrospectiveConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	Window         time.Duration `mapstructure:"window" json:"window" yaml:"window" toml:"window"`
	EffectDuration time.Duration `mapstructure:"effect_duration" json:"effect_duration" yaml:"effect_duration" toml:"effect_duration"`
	Recency        time.Duration `mapstructure:"recency" json:"recency" yaml:"recency" toml:"recency"`
	MinSamples     int           `mapstructure:"min_samples" json:"min_samples" yaml:"min_samples" toml:"min_samples"`
	Decay          time.Duration `mapstructure:"decay" json:"decay" yaml:"decay" toml:"decay"` // 0 = a third of effect_duration
}

// DosingConfig tunes the recommendation rules
type DosingConfig struct {
	SuspendHorizon         time.Duration `mapstructure:"suspend_horizon" json:"suspend_horizon" yaml:"suspend_horizon" toml:"suspend_horizon"`
	TempBasalDuration      time.Duration `mapstructure:"temp_basal_duration" json:"temp_basal_duration" yaml:"temp_basal_duration" toml:"temp_basal_duration"`
	MinimumTempBasalChange float64       `mapstructure:"minimum_temp_basal_change" json:"minimum_temp_basal_change" yaml:"minimum_temp_basal_change" toml:"minimum_temp_basal_change"`
	InsulinActionHorizon   time.Duration `mapstructure:"insulin_action_horizon" json:"insulin_action_horizon" yaml:"insulin_action_horizon" toml:"insulin_action_horizon"`
	GlucoseFreshness       time.Duration `mapstructure:"glucose_freshness" json:"glucose_freshness" yaml:"glucose_freshness" toml:"glucose_freshness"`
}

// ReservoirConfig bounds reservoir reconciliation
type ReservoirConfig struct {
	RewindThreshold  float64       `mapstructure:"rewind_threshold" json:"rewind_threshold" yaml:"rewind_threshold" toml:"rewind_threshold"`
	MaxGap           time.Duration `mapstructure:"max_gap" json:"max_gap" yaml:"max_gap" toml:"max_gap"`
	MaxDropPerMinute float64       `mapstructure:"max_drop_per_minute" json:"max_drop_per_minute" yaml:"max_drop_per_minute" toml:"max_drop_per_minute"`
}

// EngineConfig mirrors loop.EngineConfiguration in configuration form
type EngineConfig struct {
	InsulinModel    curves.InsulinModelSettings `mapstructure:"insulin_model" json:"insulin_model" yaml:"insulin_model" toml:"insulin_model"`
	CarbModel       CarbModelConfig             `mapstructure:"carb_model" json:"carb_model" yaml:"carb_model" toml:"carb_model"`
	AbsorptionTimes AbsorptionTimesConfig       `mapstructure:"absorption_times" json:"absorption_times" yaml:"absorption_times" toml:"absorption_times"`

	CarbDelay             time.Duration `mapstructure:"carb_delay" json:"carb_delay" yaml:"carb_delay" toml:"carb_delay"`
	Delta                 time.Duration `mapstructure:"delta" json:"delta" yaml:"delta" toml:"delta"`
	MomentumDuration      time.Duration `mapstructure:"momentum_duration" json:"momentum_duration" yaml:"momentum_duration" toml:"momentum_duration"`
	MomentumDataInterval  time.Duration `mapstructure:"momentum_data_interval" json:"momentum_data_interval" yaml:"momentum_data_interval" toml:"momentum_data_interval"`
	ContinuousInterval    time.Duration `mapstructure:"continuous_interval" json:"continuous_interval" yaml:"continuous_interval" toml:"continuous_interval"`
	CounteractionInterval time.Duration `mapstructure:"counteraction_interval" json:"counteraction_interval" yaml:"counteraction_interval" toml:"counteraction_interval"`
	DuplicateTolerance    time.Duration `mapstructure:"duplicate_tolerance" json:"duplicate_tolerance" yaml:"duplicate_tolerance" toml:"duplicate_tolerance"`
	PredictionHorizon     time.Duration `mapstructure:"prediction_horizon" json:"prediction_horizon" yaml:"prediction_horizon" toml:"prediction_horizon"`

	DynamicAbsorption DynamicAbsorptionConfig `mapstructure:"dynamic_absorption" json:"dynamic_absorption" yaml:"dynamic_absorption" toml:"dynamic_absorption"`
	Retrospective     RetrospectiveConfig     `mapstructure:"retrospective" json:"retrospective" yaml:"retrospective" toml:"retrospective"`
	Dosing            DosingConfig            `mapstructure:"dosing" json:"dosing" yaml:"dosing" toml:"dosing"`
	Reservoir         ReservoirConfig         `mapstructure:"reservoir" json:"reservoir" yaml:"reservoir" toml:"reservoir"`
}

// GuardrailsConfig holds the dosing limits. Nightscout does not store them,
// so they always come from here.
type GuardrailsConfig struct {
	MaxBolus         float64 `mapstructure:"max_bolus" json:"max_bolus" yaml:"max_bolus" toml:"max_bolus"`
	MaxBasalRate     float64 `mapstructure:"max_basal_rate" json:"max_basal_rate" yaml:"max_basal_rate" toml:"max_basal_rate"`
	SuspendThreshold float64 `mapstructure:"suspend_threshold" json:"suspend_threshold" yaml:"suspend_threshold" toml:"suspend_threshold"` // mg/dL
}

// ThresholdsConfig holds the reporting bands in mg/dL
type ThresholdsConfig struct {
	UrgentLow  float64 `mapstructure:"urgent_low" json:"urgent_low" yaml:"urgent_low" toml:"urgent_low"`
	TargetLow  float64 `mapstructure:"target_low" json:"target_low" yaml:"target_low" toml:"target_low"`
	TargetHigh float64 `mapstructure:"target_high" json:"target_high" yaml:"target_high" toml:"target_high"`
	UrgentHigh float64 `mapstructure:"urgent_high" json:"urgent_high" yaml:"urgent_high" toml:"urgent_high"`
}

// TherapyConfig points at the therapy settings. With an empty path the
// settings are read from the Nightscout profile.
type TherapyConfig struct {
	Path       string           `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Units      string           `mapstructure:"units" json:"units" yaml:"units" toml:"units"` // display units for reports
	Guardrails GuardrailsConfig `mapstructure:"guardrails" json:"guardrails" yaml:"guardrails" toml:"guardrails"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds" json:"thresholds" yaml:"thresholds" toml:"thresholds"`
}

// LoopConfig controls the running loop
type LoopConfig struct {
	Interval       time.Duration `mapstructure:"interval" json:"interval" yaml:"interval" toml:"interval"`
	BasalIncrement float64       `mapstructure:"basal_increment" json:"basal_increment" yaml:"basal_increment" toml:"basal_increment"` // U/hr
	BolusIncrement float64       `mapstructure:"bolus_increment" json:"bolus_increment" yaml:"bolus_increment" toml:"bolus_increment"` // U
}

// LogConfig controls logger output
type LogConfig struct {
	JSON  bool   `mapstructure:"json" json:"json" yaml:"json" toml:"json"`
	Level string `mapstructure:"level" json:"level" yaml:"level" toml:"level"`
}
