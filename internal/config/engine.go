package config

import (
	"go.uber.org/zap"

	"github.com/mrcode/nightscout-loop/internal/carbs"
	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/delivery"
	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/nightscout"
	"github.com/mrcode/nightscout-loop/internal/prediction"
	"github.com/mrcode/nightscout-loop/internal/reservoir"
	"github.com/mrcode/nightscout-loop/internal/retrospective"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

// ToEngineConfiguration resolves the curve names and returns a validated
// engine configuration.
func (c *Config) ToEngineConfiguration() (loop.EngineConfiguration, error) {
	e := c.Engine

	insulinModel, err := curves.ResolveInsulinModel(e.InsulinModel)
	if err != nil {
		return loop.EngineConfiguration{}, errors.Wrap(err, "engine.insulin_model")
	}
	carbModel, err := curves.NewCarbModel(curves.CarbModelKind(e.CarbModel.Kind), e.CarbModel.Overrun)
	if err != nil {
		return loop.EngineConfiguration{}, errors.Wrap(err, "engine.carb_model")
	}

	cfg := loop.EngineConfiguration{
		InsulinModel: insulinModel,
		CarbModel:    carbModel,
		AbsorptionTimes: models.AbsorptionTimes{
			Fast:   e.AbsorptionTimes.Fast,
			Medium: e.AbsorptionTimes.Medium,
			Slow:   e.AbsorptionTimes.Slow,
		},
		CarbDelay:             e.CarbDelay,
		Delta:                 e.Delta,
		MomentumDuration:      e.MomentumDuration,
		MomentumDataInterval:  e.MomentumDataInterval,
		ContinuousInterval:    e.ContinuousInterval,
		CounteractionInterval: e.CounteractionInterval,
		DuplicateTolerance:    e.DuplicateTolerance,
		DynamicCarbAbsorption: e.DynamicAbsorption.Enabled,
		DynamicAbsorption: carbs.DynamicConfig{
			MaxOverrun:  e.DynamicAbsorption.MaxOverrun,
			MinFraction: e.DynamicAbsorption.MinFraction,
		},
		Retrospective: retrospective.Config{
			Enabled:        e.Retrospective.Enabled,
			Window:         e.Retrospective.Window,
			EffectDuration: e.Retrospective.EffectDuration,
			Recency:        e.Retrospective.Recency,
			MinSamples:     e.Retrospective.MinSamples,
			Decay:          e.Retrospective.Decay,
			Delta:          e.Delta,
		},
		Prediction: prediction.Config{
			Horizon: e.PredictionHorizon,
			Delta:   e.Delta,
		},
		Dosing: dosing.Config{
			SuspendHorizon:         e.Dosing.SuspendHorizon,
			TempBasalDuration:      e.Dosing.TempBasalDuration,
			MinimumTempBasalChange: e.Dosing.MinimumTempBasalChange,
			InsulinActionHorizon:   e.Dosing.InsulinActionHorizon,
			GlucoseFreshness:       e.Dosing.GlucoseFreshness,
		},
		Reservoir: reservoir.Config{
			RewindThreshold:  e.Reservoir.RewindThreshold,
			MaxGap:           e.Reservoir.MaxGap,
			MaxDropPerMinute: e.Reservoir.MaxDropPerMinute,
		},
	}
	if err := cfg.Validate(); err != nil {
		return loop.EngineConfiguration{}, err
	}
	return cfg, nil
}

// Guardrails returns the configured dosing limits
func (c *Config) Guardrails() models.Guardrails {
	g := c.Therapy.Guardrails
	return models.Guardrails{
		MaxBolus:         g.MaxBolus,
		MaxBasalRate:     g.MaxBasalRate,
		SuspendThreshold: g.SuspendThreshold,
	}
}

// Thresholds returns the reporting bands
func (c *Config) Thresholds() models.GlucoseThresholds {
	t := c.Therapy.Thresholds
	return models.GlucoseThresholds{
		UrgentLow:  t.UrgentLow,
		TargetLow:  t.TargetLow,
		TargetHigh: t.TargetHigh,
		UrgentHigh: t.UrgentHigh,
	}
}

// DisplayUnit is the glucose unit reports are written in
func (c *Config) DisplayUnit() (models.Unit, error) {
	return models.ParseGlucoseUnit(c.Therapy.Units)
}

// Rounder returns the pump increments used before enacting a recommendation
func (c *Config) Rounder() (delivery.Rounder, error) {
	return delivery.NewRounder(c.Loop.BasalIncrement, c.Loop.BolusIncrement)
}

// NightscoutClient builds a client for the configured site
func (c *Config) NightscoutClient(logger *zap.SugaredLogger) (*nightscout.Client, error) {
	ns := c.Nightscout
	if ns.URL == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrInvalidConfiguration, "nightscout.url is not set"),
			"set nightscout.url in loop.toml or export NIGHTSCOUT_URL")
	}
	return nightscout.NewClient(ns.URL, ns.APISecret, ns.APIToken, ns.UseToken,
		nightscout.WithTimeout(ns.Timeout),
		nightscout.WithRequestsPerMinute(ns.RequestsPerMinute),
		nightscout.WithLogger(logger),
	), nil
}

// TherapyFile reads the therapy document at therapy.path. It returns nil
// settings when no path is configured.
func (c *Config) TherapyFile() (*models.TherapySettings, error) {
	if c.Therapy.Path == "" {
		return nil, nil
	}
	var doc schema.TherapyDocument
	if err := schema.ReadFile(c.Therapy.Path, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to read therapy file %s", c.Therapy.Path)
	}
	return doc.TherapySettings()
}
