package config

import (
	"net/url"

	"go.uber.org/zap/zapcore"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// Validate checks the whole configuration, including the engine settings.
// Every failure is an ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if c.Nightscout.URL != "" {
		u, err := url.Parse(c.Nightscout.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Wrapf(errors.ErrInvalidConfiguration, "nightscout.url must be an absolute URL, got %q", c.Nightscout.URL)
		}
	}
	if c.Nightscout.UseToken && c.Nightscout.APIToken == "" {
		return errors.Wrap(errors.ErrInvalidConfiguration, "nightscout.api_token cannot be empty when use_token is set")
	}
	if c.Nightscout.Timeout <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "nightscout.timeout must be > 0, got %s", c.Nightscout.Timeout)
	}
	if c.Nightscout.RequestsPerMinute < 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "nightscout.requests_per_minute must be >= 0, got %d", c.Nightscout.RequestsPerMinute)
	}

	if _, err := c.DisplayUnit(); err != nil {
		return errors.Wrap(err, "therapy.units")
	}
	if err := c.Guardrails().Validate(); err != nil {
		return errors.Wrap(err, "therapy.guardrails")
	}
	t := c.Therapy.Thresholds
	if !(t.UrgentLow < t.TargetLow && t.TargetLow < t.TargetHigh && t.TargetHigh < t.UrgentHigh) {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "therapy.thresholds must increase from urgent_low to urgent_high, got %+v", t)
	}

	if c.Loop.Interval <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "loop.interval must be > 0, got %s", c.Loop.Interval)
	}
	if _, err := c.Rounder(); err != nil {
		return errors.Wrap(err, "loop increments")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "log.level %q is not a zap level", c.Log.Level)
	}

	if _, err := c.ToEngineConfiguration(); err != nil {
		return errors.Wrap(err, "engine")
	}
	return nil
}
