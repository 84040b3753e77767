package nightscout

import (
	"strconv"
	"strings"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// ActiveProfile returns the default profile of the newest document
func ActiveProfile(docs []ProfileDocument) (Profile, error) {
	if len(docs) == 0 {
		return Profile{}, errors.Wrap(errors.ErrInvalidConfiguration, "no profile stored in Nightscout")
	}
	doc := docs[0]
	p, ok := doc.Store[doc.DefaultProfile]
	if !ok {
		return Profile{}, errors.Wrapf(errors.ErrInvalidConfiguration, "default profile %q not in store", doc.DefaultProfile)
	}
	if p.Units == "" {
		p.Units = doc.Units
	}
	return p, nil
}

// TherapySettings converts the profile schedules to mg/dL based settings.
// Nightscout keeps no dosing limits, so guardrails come from the caller.
func (p Profile) TherapySettings(guardrails models.Guardrails, thresholds models.GlucoseThresholds) (*models.TherapySettings, error) {
	loc := time.UTC
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "profile time zone %q", p.Timezone)
		}
		loc = l
	}

	unit := models.MilligramsPerDeciliter
	if p.Units != "" {
		u, err := models.ParseUnit(p.Units)
		if err != nil {
			return nil, err
		}
		unit = u
	}

	carbRatios, err := scheduleItems(p.CarbRatio)
	if err != nil {
		return nil, errors.Wrap(err, "carb ratios")
	}
	sens, err := scheduleItems(p.Sens)
	if err != nil {
		return nil, errors.Wrap(err, "insulin sensitivity")
	}
	basal, err := scheduleItems(p.Basal)
	if err != nil {
		return nil, errors.Wrap(err, "basal rates")
	}
	targets, err := targetItems(p.TargetLow, p.TargetHigh)
	if err != nil {
		return nil, errors.Wrap(err, "targets")
	}

	settings := &models.TherapySettings{
		Guardrails: guardrails,
		Thresholds: thresholds,
	}
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
		return nil, errors.Wrap(err, "targets")
	}
	return settings, nil
}

func scheduleItems(entries []ProfileEntry) ([]models.ScheduleItem[float64], error) {
	items := make([]models.ScheduleItem[float64], 0, len(entries))
	for _, e := range entries {
		start, err := e.offset()
		if err != nil {
			return nil, err
		}
		items = append(items, models.ScheduleItem[float64]{StartTime: start, Value: e.Value})
	}
	return items, nil
}

// targetItems pairs low and high entries that share a start time
func targetItems(low, high []ProfileEntry) ([]models.ScheduleItem[models.DoubleRange], error) {
	highs := make(map[time.Duration]float64, len(high))
	for _, e := range high {
		start, err := e.offset()
		if err != nil {
			return nil, err
		}
		highs[start] = e.Value
	}

	items := make([]models.ScheduleItem[models.DoubleRange], 0, len(low))
	for _, e := range low {
		start, err := e.offset()
		if err != nil {
			return nil, err
		}
		hi, ok := highs[start]
		if !ok {
			return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "no target_high at %s", e.Time)
		}
		items = append(items, models.ScheduleItem[models.DoubleRange]{
			StartTime: start,
			Value:     models.DoubleRange{Min: e.Value, Max: hi},
		})
	}
	return items, nil
}

// offset returns the entry's start after midnight
func (e ProfileEntry) offset() (time.Duration, error) {
	if e.TimeAsSeconds != nil {
		return time.Duration(*e.TimeAsSeconds) * time.Second, nil
	}
	hh, mm, ok := strings.Cut(e.Time, ":")
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalidConfiguration, "profile time %q is not HH:MM", e.Time)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidConfiguration, "profile time %q is not HH:MM", e.Time)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidConfiguration, "profile time %q is not HH:MM", e.Time)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// ActiveOverride returns the temporary target running at now, or nil. A
// temporary target with zero duration cancels the one before it.
func ActiveOverride(treatments []Treatment, now time.Time) (*models.TemporaryScheduleOverride, error) {
	var latest *Treatment
	for i := range treatments {
		t := &treatments[i]
		if t.EventType != EventTemporaryTarget || t.Time().After(now) {
			continue
		}
		if latest == nil || t.Time().After(latest.Time()) {
			latest = t
		}
	}
	if latest == nil || latest.Duration <= 0 {
		return nil, nil
	}

	unit := models.MilligramsPerDeciliter
	if latest.Units != "" {
		u, err := models.ParseUnit(latest.Units)
		if err != nil {
			return nil, err
		}
		unit = u
	}
	name := latest.Reason
	if name == "" {
		name = EventTemporaryTarget
	}
	o, err := models.NewTemporaryScheduleOverride(name, unit,
		models.DoubleRange{Min: latest.TargetBottom, Max: latest.TargetTop},
		latest.Time(), minutes(latest.Duration))
	if err != nil {
		return nil, err
	}
	if !o.IsActiveAt(now) {
		return nil, nil
	}
	return o, nil
}
