package schema

import (
	"fmt"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// ScheduleEntry is one value of a daily schedule starting at a wall clock
// time ("HH:MM")
type ScheduleEntry struct {
	Start string  `json:"start" yaml:"start"`
	Value float64 `json:"value" yaml:"value"`
}

// RangeEntry is one target range of a daily schedule
type RangeEntry struct {
	Start string  `json:"start" yaml:"start"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
}

// OverrideDocument is a temporary target range
type OverrideDocument struct {
	Name     string    `json:"name" yaml:"name"`
	Min      float64   `json:"min" yaml:"min"`
	Max      float64   `json:"max" yaml:"max"`
	Start    time.Time `json:"start" yaml:"start"`
	Duration Duration  `json:"duration" yaml:"duration"`
}

// GuardrailsDocument holds the dosing limits. SuspendThreshold is in the
// document's glucose units.
type GuardrailsDocument struct {
	MaxBolus         float64 `json:"maxBolus" yaml:"maxBolus"`
	MaxBasalRate     float64 `json:"maxBasalRate" yaml:"maxBasalRate"`
	SuspendThreshold float64 `json:"suspendThreshold" yaml:"suspendThreshold"`
}

// ThresholdsDocument holds the reporting bands in the document's glucose units
type ThresholdsDocument struct {
	UrgentLow  float64 `json:"urgentLow" yaml:"urgentLow"`
	TargetLow  float64 `json:"targetLow" yaml:"targetLow"`
	TargetHigh float64 `json:"targetHigh" yaml:"targetHigh"`
	UrgentHigh float64 `json:"urgentHigh" yaml:"urgentHigh"`
}

// TherapyDocument is the stored form of models.TherapySettings. Glucose
// values (sensitivities, targets, thresholds) are in Units.
type TherapyDocument struct {
	Version  int    `json:"version,omitempty" yaml:"version,omitempty"`
	Units    string `json:"units" yaml:"units"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	CarbRatios         []ScheduleEntry     `json:"carbRatios" yaml:"carbRatios"`
	InsulinSensitivity []ScheduleEntry     `json:"insulinSensitivity" yaml:"insulinSensitivity"`
	BasalRates         []ScheduleEntry     `json:"basalRates" yaml:"basalRates"`
	TargetRanges       []RangeEntry        `json:"targetRanges" yaml:"targetRanges"`
	Override           *OverrideDocument   `json:"override,omitempty" yaml:"override,omitempty"`
	Guardrails         GuardrailsDocument  `json:"guardrails" yaml:"guardrails"`
	Thresholds         *ThresholdsDocument `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

func (d *TherapyDocument) version() int { return d.Version }

// TherapySettings converts the document to canonical settings and validates them
func (d *TherapyDocument) TherapySettings() (*models.TherapySettings, error) {
	unit, loc, err := d.unitAndLocation()
	if err != nil {
		return nil, err
	}

	carbRatios, err := scheduleItems(d.CarbRatios)
	if err != nil {
		return nil, errors.Wrap(err, "carb ratios")
	}
	sens, err := scheduleItems(d.InsulinSensitivity)
	if err != nil {
		return nil, errors.Wrap(err, "insulin sensitivity")
	}
	basal, err := scheduleItems(d.BasalRates)
	if err != nil {
		return nil, errors.Wrap(err, "basal rates")
	}
	targets := make([]models.ScheduleItem[models.DoubleRange], 0, len(d.TargetRanges))
	for _, r := range d.TargetRanges {
		start, err := clockOffset(r.Start)
		if err != nil {
			return nil, errors.Wrap(err, "target ranges")
		}
		targets = append(targets, models.ScheduleItem[models.DoubleRange]{
			StartTime: start,
			Value:     models.DoubleRange{Min: r.Min, Max: r.Max},
		})
	}

	settings := &models.TherapySettings{}
	if settings.CarbRatios, err = models.NewCarbRatioSchedule(loc, carbRatios); err != nil {
		return nil, errors.Wrap(err, "carb ratios")
	}
	if settings.InsulinSensitivity, err = models.NewInsulinSensitivitySchedule(unit, loc, sens); err != nil {
		return nil, errors.Wrap(err, "insulin sensitivity")
	}
	if settings.BasalRates, err = models.NewBasalRateSchedule(loc, basal); err != nil {
		return nil, errors.Wrap(err, "basal rates")
	}
	if settings.TargetRanges, err = models.NewGlucoseRangeSchedule(unit, loc, targets); err != nil {
		return nil, errors.Wrap(err, "target ranges")
	}
	if o := d.Override; o != nil {
		override, err := models.NewTemporaryScheduleOverride(o.Name, unit,
			models.DoubleRange{Min: o.Min, Max: o.Max}, o.Start, o.Duration.Std())
		if err != nil {
			return nil, errors.Wrap(err, "override")
		}
		settings.TargetRanges = settings.TargetRanges.WithOverride(override)
	}

	suspend, err := models.Q(d.Guardrails.SuspendThreshold, unit).In(models.MilligramsPerDeciliter)
	if err != nil {
		return nil, err
	}
	settings.Guardrails = models.Guardrails{
		MaxBolus:         d.Guardrails.MaxBolus,
		MaxBasalRate:     d.Guardrails.MaxBasalRate,
		SuspendThreshold: suspend,
	}

	settings.Thresholds = models.DefaultGlucoseThresholds()
	if t := d.Thresholds; t != nil {
		if settings.Thresholds, err = thresholdsIn(*t, unit); err != nil {
			return nil, err
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (d *TherapyDocument) unitAndLocation() (models.Unit, *time.Location, error) {
	unit := models.MilligramsPerDeciliter
	if d.Units != "" {
		u, err := models.ParseGlucoseUnit(d.Units)
		if err != nil {
			return "", nil, err
		}
		unit = u
	}

	loc := time.UTC
	if d.Timezone != "" {
		l, err := time.LoadLocation(d.Timezone)
		if err != nil {
			return "", nil, errors.Wrapf(errors.ErrInvalidConfiguration, "time zone %q", d.Timezone)
		}
		loc = l
	}
	return unit, loc, nil
}

func thresholdsIn(t ThresholdsDocument, unit models.Unit) (models.GlucoseThresholds, error) {
	values := []*float64{&t.UrgentLow, &t.TargetLow, &t.TargetHigh, &t.UrgentHigh}
	for _, v := range values {
		converted, err := models.Q(*v, unit).In(models.MilligramsPerDeciliter)
		if err != nil {
			return models.GlucoseThresholds{}, err
		}
		*v = converted
	}
	return models.GlucoseThresholds{
		UrgentLow:  t.UrgentLow,
		TargetLow:  t.TargetLow,
		TargetHigh: t.TargetHigh,
		UrgentHigh: t.UrgentHigh,
	}, nil
}

// NewTherapyDocument writes settings back out in mg/dL
func NewTherapyDocument(s models.TherapySettings) TherapyDocument {
	doc := TherapyDocument{
		Version:            Version,
		Units:              string(models.MilligramsPerDeciliter),
		CarbRatios:         scheduleEntries(s.CarbRatios.Items()),
		InsulinSensitivity: scheduleEntries(s.InsulinSensitivity.Items()),
		BasalRates:         scheduleEntries(s.BasalRates.Items()),
		Guardrails: GuardrailsDocument{
			MaxBolus:         s.Guardrails.MaxBolus,
			MaxBasalRate:     s.Guardrails.MaxBasalRate,
			SuspendThreshold: s.Guardrails.SuspendThreshold,
		},
		Thresholds: &ThresholdsDocument{
			UrgentLow:  s.Thresholds.UrgentLow,
			TargetLow:  s.Thresholds.TargetLow,
			TargetHigh: s.Thresholds.TargetHigh,
			UrgentHigh: s.Thresholds.UrgentHigh,
		},
	}
	if loc := s.CarbRatios.Location(); loc != nil && loc != time.UTC {
		doc.Timezone = loc.String()
	}
	for _, item := range s.TargetRanges.Ranges.Items() {
		doc.TargetRanges = append(doc.TargetRanges, RangeEntry{
			Start: clock(item.StartTime),
			Min:   item.Value.Min,
			Max:   item.Value.Max,
		})
	}
	if o := s.TargetRanges.Override; o != nil {
		doc.Override = &OverrideDocument{
			Name:     o.Name,
			Min:      o.Range.Min,
			Max:      o.Range.Max,
			Start:    o.StartDate,
			Duration: Duration(o.EndDate.Sub(o.StartDate)),
		}
	}
	return doc
}

func scheduleItems(entries []ScheduleEntry) ([]models.ScheduleItem[float64], error) {
	items := make([]models.ScheduleItem[float64], 0, len(entries))
	for _, e := range entries {
		start, err := clockOffset(e.Start)
		if err != nil {
			return nil, err
		}
		items = append(items, models.ScheduleItem[float64]{StartTime: start, Value: e.Value})
	}
	return items, nil
}

func scheduleEntries(items []models.ScheduleItem[float64]) []ScheduleEntry {
	entries := make([]ScheduleEntry, len(items))
	for i, item := range items {
		entries[i] = ScheduleEntry{Start: clock(item.StartTime), Value: item.Value}
	}
	return entries
}

// clockOffset parses "HH:MM" into the offset after midnight
func clockOffset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidConfiguration, "schedule start %q is not HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func clock(offset time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(offset.Hours()), int(offset.Minutes())%60)
}
