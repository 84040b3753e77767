// Package loop runs the prediction and recommendation pipeline over a
// snapshot of history, and orchestrates fetching snapshots and handing the
// results to a delivery delegate.
package loop

import (
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-loop/internal/carbs"
	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/glucose"
	"github.com/mrcode/nightscout-loop/internal/insulin"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/prediction"
	"github.com/mrcode/nightscout-loop/internal/reservoir"
	"github.com/mrcode/nightscout-loop/internal/retrospective"
)

// Snapshot is the read-only history one run is computed from. Now is the
// only notion of time the engine uses.
type Snapshot struct {
	Now         time.Time
	Glucose     []models.GlucoseSample
	CarbEntries []models.CarbEntry
	Doses       []models.DoseEntry
	// ReservoirReadings are reconciled into doses and replace any dose that
	// starts inside the span they cover
	ReservoirReadings []models.ReservoirReading
	Therapy           models.TherapySettings
	Pump              dosing.PumpState
	PendingInsulin    float64
}

// GlucoseStatus classifies the current and eventual glucose
type GlucoseStatus struct {
	Current        float64 `json:"current"`
	CurrentStatus  string  `json:"currentStatus"`
	Eventual       float64 `json:"eventual"`
	EventualStatus string  `json:"eventualStatus"`
	// HighInMinutes and LowInMinutes are -1 when the forecast never crosses
	HighInMinutes float64 `json:"highInMinutes"`
	LowInMinutes  float64 `json:"lowInMinutes"`
}

// Result is everything one run produced
type Result struct {
	Date           time.Time                      `json:"date"`
	Glucose        models.GlucoseSample           `json:"glucose"`
	Prediction     []models.PredictedGlucoseValue `json:"prediction"`
	Effects        prediction.Effects             `json:"effects"`
	Discrepancy    *retrospective.Discrepancy     `json:"discrepancy,omitempty"`
	InsulinOnBoard []models.InsulinValue          `json:"insulinOnBoard"`
	CarbsOnBoard   []models.CarbValue             `json:"carbsOnBoard"`
	IOB            float64                        `json:"iob"`
	COB            float64                        `json:"cob"`
	CarbsEntered   float64                        `json:"carbsEntered"`
	Absorption     []carbs.AbsorptionStatus       `json:"absorption,omitempty"`
	Interruptions  []reservoir.Interruption       `json:"interruptions,omitempty"`
	// Coverage is the share of the reservoir history backed by readings; 1
	// when no readings were supplied
	Coverage       float64                `json:"coverage"`
	Status         GlucoseStatus          `json:"status"`
	Recommendation *dosing.Recommendation `json:"recommendation"`
}

// Engine runs the pipeline. It holds only its configuration and a logger,
// so one engine may serve concurrent runs.
type Engine struct {
	cfg    EngineConfiguration
	logger *zap.SugaredLogger
}

// New validates cfg and creates an Engine
func New(cfg EngineConfiguration, logger *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg, logger: logger.Named("loop")}, nil
}

// Config returns a copy of the engine's configuration
func (e *Engine) Config() EngineConfiguration {
	return e.cfg
}

// Run computes the forecast and recommendation for snap. Missing glucose or
// settings return an ErrInsufficientData or ErrInvalidConfiguration error
// and no result.
func (e *Engine) Run(snap Snapshot) (*Result, error) {
	if snap.Now.IsZero() {
		return nil, errors.Wrap(errors.ErrInvalidConfiguration, "snapshot has no time")
	}
	therapy := snap.Therapy
	if err := therapy.Validate(); err != nil {
		return nil, err
	}

	samples := usableGlucose(snap.Glucose, snap.Now, e.cfg.DuplicateTolerance)
	if len(samples) == 0 {
		return nil, errors.Wrap(errors.ErrInsufficientData, "no glucose readings before now")
	}
	current := samples[len(samples)-1]

	e.logger.Debugw("Running loop",
		"now", snap.Now,
		"glucose", len(samples),
		"carb_entries", len(snap.CarbEntries),
		"doses", len(snap.Doses),
		"reservoir_readings", len(snap.ReservoirReadings))

	result := &Result{Date: snap.Now, Glucose: current, Coverage: 1}

	doses, err := e.reconcile(snap, result)
	if err != nil {
		return nil, err
	}

	// effect grids run from the oldest glucose used to the end of the forecast
	from := models.FloorDate(samples[0].StartDate, e.cfg.Delta)
	if earliest := snap.Now.Add(-e.cfg.Retrospective.Window); e.cfg.Retrospective.Enabled && earliest.Before(from) {
		from = models.FloorDate(earliest, e.cfg.Delta)
	}
	to := models.CeilDate(snap.Now.Add(e.cfg.Prediction.Horizon), e.cfg.Delta)

	icfg := e.cfg.insulinConfig()
	net, err := insulin.NetBasalDoses(doses, therapy.BasalRates)
	if err != nil {
		return nil, err
	}
	net = insulin.TrimDoses(net, from.Add(-e.cfg.InsulinModel.EffectDuration()), snap.Now)

	insulinEffects, err := insulin.GlucoseEffects(net, therapy.InsulinSensitivity, icfg, from, to)
	if err != nil {
		return nil, err
	}
	result.InsulinOnBoard, err = insulin.InsulinOnBoard(net, icfg, models.FloorDate(snap.Now, e.cfg.Delta), to)
	if err != nil {
		return nil, err
	}
	result.IOB = models.InsulinAt(result.InsulinOnBoard, snap.Now)

	entries, err := e.carbEntries(snap, samples, insulinEffects, result)
	if err != nil {
		return nil, err
	}
	ccfg := e.cfg.carbConfig()
	carbEffects, err := carbs.GlucoseEffects(entries, therapy.CarbRatios, therapy.InsulinSensitivity, ccfg, from, to)
	if err != nil {
		return nil, err
	}
	result.CarbsOnBoard = carbs.CarbsOnBoard(entries, ccfg, models.FloorDate(snap.Now, e.cfg.Delta), to)
	result.COB = models.CarbsAt(result.CarbsOnBoard, snap.Now)
	if total, ok := models.TotalCarbs(snap.CarbEntries); ok {
		result.CarbsEntered = total.Grams
	}

	momentum := glucose.LinearMomentumEffect(
		glucose.RecentSamples(samples, e.cfg.MomentumDataInterval),
		e.cfg.MomentumDuration, e.cfg.Delta, e.cfg.ContinuousInterval)

	correction, discrepancy, err := retrospective.Correction(samples,
		[][]models.GlucoseEffect{insulinEffects, carbEffects}, e.cfg.Retrospective, snap.Now)
	if err != nil {
		return nil, err
	}
	result.Discrepancy = discrepancy

	result.Effects = prediction.Effects{
		Momentum:      momentum,
		Carbs:         carbEffects,
		Insulin:       insulinEffects,
		Retrospective: correction,
	}
	result.Prediction = prediction.NewPredictor(e.cfg.Prediction).Predict(current, result.Effects)

	rec, err := dosing.Recommend(dosing.Input{
		Now:            snap.Now,
		Prediction:     result.Prediction,
		Targets:        therapy.TargetRanges,
		Sensitivity:    therapy.InsulinSensitivity,
		Basal:          therapy.BasalRates,
		Guardrails:     therapy.Guardrails,
		Pump:           snap.Pump,
		PendingInsulin: snap.PendingInsulin,
	}, e.cfg.Dosing)
	if err != nil {
		e.logger.Warnw("No recommendation", "error", err, "kind", errors.Kind(err))
		return nil, err
	}
	rec.ReducedConfidence = result.Coverage < 1
	result.Recommendation = rec
	result.Status = status(result.Prediction, therapy.Thresholds)

	e.logger.Infow("Loop completed",
		"glucose", current.Value,
		"eventual", result.Status.Eventual,
		"iob", result.IOB,
		"cob", result.COB,
		"state", rec.State,
		"reduced_confidence", rec.ReducedConfidence)
	return result, nil
}

// reconcile merges reservoir-derived doses into the snapshot's doses
func (e *Engine) reconcile(snap Snapshot, result *Result) ([]models.DoseEntry, error) {
	if len(snap.ReservoirReadings) == 0 {
		return snap.Doses, nil
	}

	rr, err := reservoir.Reconcile(snap.ReservoirReadings, e.cfg.Reservoir)
	if err != nil {
		return nil, err
	}
	result.Interruptions = rr.Interruptions
	result.Coverage = rr.Coverage()
	if result.Coverage < 1 {
		e.logger.Warnw("Reservoir history incomplete",
			"coverage", result.Coverage,
			"interruptions", len(rr.Interruptions))
	}

	doses := make([]models.DoseEntry, 0, len(snap.Doses)+len(rr.Doses))
	for _, d := range snap.Doses {
		covered := !d.StartDate.Before(rr.StartDate) && d.StartDate.Before(rr.EndDate)
		if covered && d.Type != models.DoseSuspend {
			continue
		}
		doses = append(doses, d)
	}
	return append(doses, rr.Doses...), nil
}

// carbEntries returns the entries to project, with absorption times revised
// from observed counteraction when dynamic absorption is on
func (e *Engine) carbEntries(snap Snapshot, samples []models.GlucoseSample, insulinEffects []models.GlucoseEffect, result *Result) ([]models.CarbEntry, error) {
	entries := snap.CarbEntries
	if !e.cfg.DynamicCarbAbsorption || len(entries) == 0 {
		return entries, nil
	}

	velocities := glucose.CounteractionEffects(samples, insulinEffects, e.cfg.CounteractionInterval)
	revised, statuses, err := carbs.ReviseAbsorptionTimes(entries, velocities,
		snap.Therapy.CarbRatios, snap.Therapy.InsulinSensitivity,
		e.cfg.carbConfig(), e.cfg.DynamicAbsorption, snap.Now)
	if err != nil {
		return nil, err
	}
	result.Absorption = statuses
	return revised, nil
}

// usableGlucose drops display-only readings and any after now, then orders
// and deduplicates the rest
func usableGlucose(samples []models.GlucoseSample, now time.Time, tolerance time.Duration) []models.GlucoseSample {
	var out []models.GlucoseSample
	for _, s := range samples {
		if s.IsDisplayOnly || s.StartDate.After(now) {
			continue
		}
		out = append(out, s)
	}
	return models.DeduplicateGlucose(out, tolerance)
}

func status(points []models.PredictedGlucoseValue, t models.GlucoseThresholds) GlucoseStatus {
	if t == (models.GlucoseThresholds{}) {
		t = models.DefaultGlucoseThresholds()
	}
	var s GlucoseStatus
	if len(points) == 0 {
		return s
	}
	s.Current = points[0].Value
	s.CurrentStatus = t.Status(s.Current)
	eventual, _ := prediction.Eventual(points)
	s.Eventual = eventual.Value
	s.EventualStatus = t.Status(s.Eventual)
	s.HighInMinutes, s.LowInMinutes = prediction.ThresholdTimes(points, t.TargetHigh, t.TargetLow)
	return s
}
