package loop

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/carbs"
	"github.com/mrcode/nightscout-loop/internal/curves"
	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/glucose"
	"github.com/mrcode/nightscout-loop/internal/insulin"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/prediction"
	"github.com/mrcode/nightscout-loop/internal/reservoir"
	"github.com/mrcode/nightscout-loop/internal/retrospective"
)

// DefaultDuplicateTolerance merges glucose readings this close together
const DefaultDuplicateTolerance = 30 * time.Second

// EngineConfiguration is every tunable of one engine. It is built once and
// copied into the Engine; changing a value afterwards has no effect on an
// existing engine.
type EngineConfiguration struct {
	InsulinModel curves.InsulinModel
	CarbModel    curves.CarbModel

	AbsorptionTimes models.AbsorptionTimes
	CarbDelay       time.Duration
	// Delta is the grid step shared by every effect timeline
	Delta time.Duration

	MomentumDuration      time.Duration
	MomentumDataInterval  time.Duration
	ContinuousInterval    time.Duration
	CounteractionInterval time.Duration
	DuplicateTolerance    time.Duration

	// DynamicCarbAbsorption revises absorption times from observed
	// counteraction before projecting carb effects
	DynamicCarbAbsorption bool
	DynamicAbsorption     carbs.DynamicConfig

	Retrospective retrospective.Config
	Prediction    prediction.Config
	Dosing        dosing.Config
	Reservoir     reservoir.Config
}

// DefaultEngineConfiguration returns the stock engine: rapid-acting adult
// insulin, linear carbs, retrospective correction on, dynamic absorption off.
func DefaultEngineConfiguration() EngineConfiguration {
	ins := insulin.DefaultConfig()
	cc := carbs.DefaultConfig()
	return EngineConfiguration{
		InsulinModel:          ins.Model,
		CarbModel:             cc.Model,
		AbsorptionTimes:       cc.AbsorptionTimes,
		CarbDelay:             cc.Delay,
		Delta:                 cc.Delta,
		MomentumDuration:      glucose.DefaultMomentumDuration,
		MomentumDataInterval:  glucose.DefaultMomentumDataInterval,
		ContinuousInterval:    glucose.DefaultContinuousInterval,
		CounteractionInterval: glucose.DefaultCounteractionInterval,
		DuplicateTolerance:    DefaultDuplicateTolerance,
		DynamicAbsorption:     carbs.DefaultDynamicConfig(),
		Retrospective:         retrospective.DefaultConfig(),
		Prediction:            prediction.DefaultConfig(),
		Dosing:                dosing.DefaultConfig(),
		Reservoir:             reservoir.DefaultConfig(),
	}
}

// Validate checks the configuration as a whole
func (c EngineConfiguration) Validate() error {
	if c.InsulinModel.EffectDuration() <= 0 {
		return errors.Wrap(errors.ErrInvalidConfiguration, "insulin model has no effect duration")
	}
	if c.CarbModel.Kind == "" {
		return errors.Wrap(errors.ErrInvalidConfiguration, "carb model not set")
	}
	if c.Delta <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "delta must be positive, got %s", c.Delta)
	}
	if c.AbsorptionTimes.Fast <= 0 || c.AbsorptionTimes.Medium <= 0 || c.AbsorptionTimes.Slow <= 0 {
		return errors.Wrap(errors.ErrInvalidConfiguration, "absorption times must be positive")
	}
	if c.CarbDelay < 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "carb delay must not be negative, got %s", c.CarbDelay)
	}
	if c.MomentumDuration <= 0 || c.MomentumDataInterval <= 0 || c.ContinuousInterval <= 0 || c.CounteractionInterval <= 0 {
		return errors.Wrap(errors.ErrInvalidConfiguration, "momentum and counteraction intervals must be positive")
	}
	if c.DynamicCarbAbsorption && (c.DynamicAbsorption.MinFraction <= 0 || c.DynamicAbsorption.MaxOverrun < 1) {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "dynamic absorption bounds %+v", c.DynamicAbsorption)
	}
	if err := c.Retrospective.Validate(); err != nil {
		return err
	}
	if err := c.Prediction.Validate(); err != nil {
		return err
	}
	if c.Prediction.Delta != c.Delta {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "prediction delta %s differs from effect delta %s", c.Prediction.Delta, c.Delta)
	}
	return c.Dosing.Validate()
}

func (c EngineConfiguration) insulinConfig() insulin.Config {
	return insulin.Config{Model: c.InsulinModel, Delta: c.Delta}
}

func (c EngineConfiguration) carbConfig() carbs.Config {
	return carbs.Config{
		Model:           c.CarbModel,
		Delay:           c.CarbDelay,
		Delta:           c.Delta,
		AbsorptionTimes: c.AbsorptionTimes,
	}
}

// HistoryWindow is how far back a snapshot must reach: the longer of the
// insulin effect and the slowest carb absorption.
func (c EngineConfiguration) HistoryWindow() time.Duration {
	window := c.InsulinModel.EffectDuration()
	carbSpan := c.CarbModel.EffectiveAbsorptionTime(c.AbsorptionTimes.Slow) + c.CarbDelay
	if c.DynamicCarbAbsorption {
		carbSpan = time.Duration(float64(carbSpan) * c.DynamicAbsorption.MaxOverrun)
	}
	if carbSpan > window {
		window = carbSpan
	}
	return window
}
