package curves

import "time"

// walshPreset is a 4th-order polynomial fit of one published Walsh IOB
// curve, in minutes, highest power first.
type walshPreset struct {
	duration time.Duration
	coeffs   [5]float64
}

var walshPresets = []walshPreset{
	{3 * time.Hour, [5]float64{-3.2030e-9, 1.354e-6, -1.759e-4, 9.255e-4, 0.99951}},
	{4 * time.Hour, [5]float64{-3.310e-10, 2.530e-7, -5.510e-5, -9.086e-4, 0.99950}},
	{5 * time.Hour, [5]float64{-2.950e-10, 2.320e-7, -5.550e-5, 4.490e-4, 0.99300}},
	{6 * time.Hour, [5]float64{-1.493e-10, 1.413e-7, -4.095e-5, 6.365e-4, 0.99700}},
}

func (p walshPreset) eval(minutes float64) float64 {
	if minutes <= 0 {
		return 1
	}
	if minutes >= p.duration.Minutes() {
		return 0
	}
	v := 0.0
	for _, c := range p.coeffs {
		v = v*minutes + c
	}
	return clamp01(v)
}

// evalScaled evaluates p stretched to end at actionDuration
func (p walshPreset) evalScaled(t, actionDuration time.Duration) float64 {
	scale := p.duration.Minutes() / actionDuration.Minutes()
	return p.eval(t.Minutes() * scale)
}

// walshRemaining evaluates the Walsh curve for any action duration. Exact
// preset durations use their polynomial; durations between presets blend
// the two neighbours, each stretched to the requested duration; durations
// outside the published range stretch the nearest preset.
func walshRemaining(t, actionDuration time.Duration) float64 {
	first := walshPresets[0]
	last := walshPresets[len(walshPresets)-1]

	switch {
	case actionDuration <= first.duration:
		return first.evalScaled(t, actionDuration)
	case actionDuration >= last.duration:
		return last.evalScaled(t, actionDuration)
	}

	for i := 1; i < len(walshPresets); i++ {
		hi := walshPresets[i]
		if actionDuration > hi.duration {
			continue
		}
		lo := walshPresets[i-1]
		if actionDuration == hi.duration {
			return hi.eval(t.Minutes())
		}
		w := (actionDuration - lo.duration).Minutes() / (hi.duration - lo.duration).Minutes()
		return (1-w)*lo.evalScaled(t, actionDuration) + w*hi.evalScaled(t, actionDuration)
	}
	return last.evalScaled(t, actionDuration)
}
