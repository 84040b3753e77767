// Package reservoir reconciles raw pump reservoir volumes into dose entries
package reservoir

import (
	"fmt"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// Default reconciliation bounds
const (
	// DefaultMaxDropPerMinute allows a bolus (about 40s per unit) plus a
	// near-maximum basal rate.
	DefaultMaxDropPerMinute = 2.0
	DefaultRewindThreshold  = 1.0 // U
	DefaultMaxGap           = 30 * time.Minute
)

// Config bounds what counts as plausible pump behaviour
type Config struct {
	// RewindThreshold is the volume rise above which a reading is a reservoir
	// change. Rises up to and including it are prime noise.
	RewindThreshold float64
	// MaxGap is the longest span between readings that still counts as
	// continuous delivery history.
	MaxGap time.Duration
	// MaxDropPerMinute is the fastest plausible delivery in U/min.
	MaxDropPerMinute float64
}

// DefaultConfig returns the default bounds
func DefaultConfig() Config {
	return Config{
		RewindThreshold:  DefaultRewindThreshold,
		MaxGap:           DefaultMaxGap,
		MaxDropPerMinute: DefaultMaxDropPerMinute,
	}
}

// InterruptionKind says why a span has no reconciled delivery
type InterruptionKind string

// Interruption kinds
const (
	Rewind InterruptionKind = "rewind"
	Gap    InterruptionKind = "gap"
)

// Interruption is a span whose delivery is unknown
type Interruption struct {
	Kind      InterruptionKind `json:"kind"`
	StartDate time.Time        `json:"startDate"`
	EndDate   time.Time        `json:"endDate"`
}

// Result is the outcome of one reconciliation
type Result struct {
	Doses         []models.DoseEntry `json:"doses"`
	Interruptions []Interruption     `json:"interruptions"`
	StartDate     time.Time          `json:"startDate"`
	EndDate       time.Time          `json:"endDate"`
}

// Coverage returns the share of [StartDate, EndDate] backed by reconciled
// readings. Interrupted spans lower it; fewer than two readings give 0.
func (r *Result) Coverage() float64 {
	total := r.EndDate.Sub(r.StartDate)
	if total <= 0 {
		return 0
	}
	var missing time.Duration
	for _, i := range r.Interruptions {
		missing += i.EndDate.Sub(i.StartDate)
	}
	return 1 - missing.Seconds()/total.Seconds()
}

// Reconcile walks chronologically ordered readings and emits one Units dose
// per genuine volume drop.
func Reconcile(readings []models.ReservoirReading, cfg Config) (*Result, error) {
	if cfg.MaxDropPerMinute <= 0 || cfg.RewindThreshold < 0 || cfg.MaxGap <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "reservoir bounds %+v", cfg)
	}

	result := &Result{}
	if len(readings) == 0 {
		return result, nil
	}
	result.StartDate = readings[0].StartDate
	result.EndDate = readings[len(readings)-1].StartDate

	baseline, previous := readings[0], readings[0]
	for _, current := range readings[1:] {
		if !current.StartDate.After(previous.StartDate) {
			return nil, errors.WithDetailf(
				errors.Wrap(errors.ErrReconciliationAnomaly, "reservoir readings out of order"),
				"reading at %s follows %s", current.StartDate.Format(time.RFC3339), previous.StartDate.Format(time.RFC3339))
		}
		previous = current

		elapsed := current.StartDate.Sub(baseline.StartDate)
		drop := baseline.UnitVolume - current.UnitVolume

		switch {
		case -drop > cfg.RewindThreshold:
			result.Interruptions = append(result.Interruptions, Interruption{
				Kind: Rewind, StartDate: baseline.StartDate, EndDate: current.StartDate,
			})
			baseline = current

		case drop < 0:
			// prime noise: keep the lower baseline

		case elapsed > cfg.MaxGap:
			result.Interruptions = append(result.Interruptions, Interruption{
				Kind: Gap, StartDate: baseline.StartDate, EndDate: current.StartDate,
			})
			baseline = current

		case drop == 0:
			baseline = current

		default:
			if drop > cfg.MaxDropPerMinute*elapsed.Minutes() {
				return nil, errors.WithDetailf(
					errors.Wrap(errors.ErrReconciliationAnomaly, "reservoir dropped faster than any pump delivers"),
					"%.3gU over %.3gmin at %s", drop, elapsed.Minutes(), current.StartDate.Format(time.RFC3339))
			}
			result.Doses = append(result.Doses, models.DoseEntry{
				Type:        models.DoseReservoir,
				StartDate:   baseline.StartDate,
				EndDate:     current.StartDate,
				Value:       drop,
				Unit:        models.Units,
				Description: fmt.Sprintf("Reservoir decreased %.3gU over %.3gmin", drop, elapsed.Minutes()),
			})
			baseline = current
		}
	}

	return result, nil
}
