package glucose

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/models"
)

// DefaultCounteractionInterval is the shortest glucose span a velocity is measured over
const DefaultCounteractionInterval = 4 * time.Minute

// CounteractionEffects measures how fast glucose moved against the modeled
// insulin effect between consecutive samples: observed change minus the
// insulin effect's change, in mg/dL/min. Positive values mean something,
// usually carbohydrate, pushed glucose up.
func CounteractionEffects(samples []models.GlucoseSample, insulinEffects []models.GlucoseEffect, minInterval time.Duration) []models.GlucoseEffectVelocity {
	var out []models.GlucoseEffectVelocity
	var start *models.GlucoseSample

	for i := range samples {
		s := samples[i]
		if s.IsDisplayOnly {
			continue
		}
		if start == nil {
			start = &samples[i]
			continue
		}

		span := s.StartDate.Sub(start.StartDate)
		if span < minInterval {
			continue
		}

		glucoseChange := s.Value - start.Value
		effectChange := models.InterpolatedEffectAt(insulinEffects, s.StartDate) -
			models.InterpolatedEffectAt(insulinEffects, start.StartDate)

		out = append(out, models.GlucoseEffectVelocity{
			StartDate: start.StartDate,
			EndDate:   s.StartDate,
			Value:     (glucoseChange - effectChange) / span.Minutes(),
		})
		start = &samples[i]
	}
	return out
}
