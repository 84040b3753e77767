package models

import (
	"math"
	"sort"
	"time"
)

// GlucoseEffect is a cumulative glucose change in mg/dL at StartDate.
// Effects from different sources are additive.
type GlucoseEffect struct {
	StartDate time.Time `json:"startDate"`
	Value     float64   `json:"value"`
}

// GlucoseEffectVelocity is a rate of glucose change in mg/dL/min over a span
type GlucoseEffectVelocity struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Value     float64   `json:"value"`
}

// Effect returns the total change the velocity produces over its span
func (v GlucoseEffectVelocity) Effect() float64 {
	return v.Value * v.EndDate.Sub(v.StartDate).Minutes()
}

// CarbValue is carbs-on-board in grams at a point in time
type CarbValue struct {
	StartDate time.Time `json:"startDate"`
	Grams     float64   `json:"grams"`
}

// InsulinValue is insulin-on-board in units at a point in time
type InsulinValue struct {
	StartDate time.Time `json:"startDate"`
	Units     float64   `json:"units"`
}

// PredictedGlucoseValue is one point of a forecast, in mg/dL
type PredictedGlucoseValue struct {
	StartDate time.Time `json:"startDate"`
	Value     float64   `json:"value"`
}

// FloorDate truncates t to a multiple of delta since the zero time
func FloorDate(t time.Time, delta time.Duration) time.Time {
	return t.Truncate(delta)
}

// CeilDate rounds t up to a multiple of delta since the zero time
func CeilDate(t time.Time, delta time.Duration) time.Time {
	f := t.Truncate(delta)
	if f.Equal(t) {
		return f
	}
	return f.Add(delta)
}

// EffectAt returns the value of the last effect at or before t. Before the
// series starts it is 0; past the end the last value holds.
func EffectAt(effects []GlucoseEffect, t time.Time) float64 {
	v := 0.0
	for _, e := range effects {
		if e.StartDate.After(t) {
			break
		}
		v = e.Value
	}
	return v
}

// InterpolatedEffectAt linearly interpolates a cumulative effect series at t.
// Like EffectAt it is 0 before the series and holds the last value after it.
func InterpolatedEffectAt(effects []GlucoseEffect, t time.Time) float64 {
	if len(effects) == 0 || t.Before(effects[0].StartDate) {
		return 0
	}
	for i := 1; i < len(effects); i++ {
		next := effects[i]
		if next.StartDate.Before(t) {
			continue
		}
		prev := effects[i-1]
		span := next.StartDate.Sub(prev.StartDate).Seconds()
		if span <= 0 {
			return next.Value
		}
		frac := t.Sub(prev.StartDate).Seconds() / span
		return prev.Value + frac*(next.Value-prev.Value)
	}
	return effects[len(effects)-1].Value
}

// SumEffects adds series that share a grid. Points are matched by date;
// dates missing from a series use that series' step value.
func SumEffects(series ...[]GlucoseEffect) []GlucoseEffect {
	dates := map[int64]time.Time{}
	var order []time.Time
	for _, s := range series {
		for _, e := range s {
			k := e.StartDate.UnixNano()
			if _, ok := dates[k]; !ok {
				dates[k] = e.StartDate
				order = append(order, e.StartDate)
			}
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]GlucoseEffect, 0, len(order))
	for _, d := range order {
		total := 0.0
		for _, s := range series {
			total += EffectAt(s, d)
		}
		out = append(out, GlucoseEffect{StartDate: d, Value: total})
	}
	return out
}

// CarbsAt returns the COB value of the last point at or before t
func CarbsAt(values []CarbValue, t time.Time) float64 {
	v := 0.0
	for _, c := range values {
		if c.StartDate.After(t) {
			break
		}
		v = c.Grams
	}
	return v
}

// InsulinAt returns the IOB value of the last point at or before t
func InsulinAt(values []InsulinValue, t time.Time) float64 {
	v := 0.0
	for _, i := range values {
		if i.StartDate.After(t) {
			break
		}
		v = i.Units
	}
	return v
}

// IsFinite reports whether f is neither NaN nor infinite
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
