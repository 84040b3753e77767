package models

import (
	"sort"
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// ScheduleItem is a value that takes effect StartTime after local midnight
type ScheduleItem[T any] struct {
	StartTime time.Duration `json:"startTime"`
	Value     T             `json:"value"`
}

// AbsoluteScheduleValue is a schedule value pinned to real dates
type AbsoluteScheduleValue[T any] struct {
	StartDate time.Time
	EndDate   time.Time
	Value     T
}

// DailySchedule repeats a list of items every day in a time zone
type DailySchedule[T any] struct {
	items []ScheduleItem[T]
	loc   *time.Location
}

// NewDailySchedule validates and builds a schedule. The first item must start
// at midnight and start times must be strictly increasing within one day.
func NewDailySchedule[T any](loc *time.Location, items []ScheduleItem[T]) (DailySchedule[T], error) {
	if len(items) == 0 {
		return DailySchedule[T]{}, errors.Wrap(errors.ErrInvalidConfiguration, "schedule has no items")
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]ScheduleItem[T], len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	if sorted[0].StartTime != 0 {
		return DailySchedule[T]{}, errors.Wrapf(errors.ErrInvalidConfiguration,
			"schedule must start at midnight, first item starts at %s", sorted[0].StartTime)
	}
	for i, item := range sorted {
		if item.StartTime < 0 || item.StartTime >= 24*time.Hour {
			return DailySchedule[T]{}, errors.Wrapf(errors.ErrInvalidConfiguration,
				"schedule item start %s is outside one day", item.StartTime)
		}
		if i > 0 && item.StartTime == sorted[i-1].StartTime {
			return DailySchedule[T]{}, errors.Wrapf(errors.ErrInvalidConfiguration,
				"duplicate schedule start %s", item.StartTime)
		}
	}

	return DailySchedule[T]{items: sorted, loc: loc}, nil
}

// IsZero reports whether the schedule was never configured
func (s DailySchedule[T]) IsZero() bool {
	return len(s.items) == 0
}

// Items returns a copy of the schedule items
func (s DailySchedule[T]) Items() []ScheduleItem[T] {
	out := make([]ScheduleItem[T], len(s.items))
	copy(out, s.items)
	return out
}

// Location returns the schedule's time zone
func (s DailySchedule[T]) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// At returns the value in effect at t
func (s DailySchedule[T]) At(t time.Time) (T, error) {
	var zero T
	if s.IsZero() {
		return zero, errors.Wrapf(errors.ErrInvalidConfiguration, "no schedule value for %s", t.Format(time.RFC3339))
	}
	_, idx := s.locate(t)
	return s.items[idx].Value, nil
}

// Between splits [start, end) into the schedule values it crosses
func (s DailySchedule[T]) Between(start, end time.Time) ([]AbsoluteScheduleValue[T], error) {
	if s.IsZero() {
		return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "no schedule value for %s", start.Format(time.RFC3339))
	}

	var out []AbsoluteScheduleValue[T]
	for t := start; t.Before(end); {
		midnight, idx := s.locate(t)
		next := midnight.AddDate(0, 0, 1)
		if idx+1 < len(s.items) {
			next = midnight.Add(s.items[idx+1].StartTime)
		}
		segEnd := next
		if segEnd.After(end) || !segEnd.After(t) {
			segEnd = end
		}
		out = append(out, AbsoluteScheduleValue[T]{StartDate: t, EndDate: segEnd, Value: s.items[idx].Value})
		t = segEnd
	}
	return out, nil
}

// locate returns local midnight for t and the index of the item in effect
func (s DailySchedule[T]) locate(t time.Time) (time.Time, int) {
	local := t.In(s.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location())
	offset := local.Sub(midnight)

	idx := sort.Search(len(s.items), func(i int) bool { return s.items[i].StartTime > offset }) - 1
	if idx < 0 {
		idx = 0
	}
	return midnight, idx
}

// CarbRatioSchedule holds grams of carbohydrate covered by one unit
type CarbRatioSchedule = DailySchedule[float64]

// BasalRateSchedule holds scheduled basal rates in U/hr
type BasalRateSchedule = DailySchedule[float64]

// InsulinSensitivitySchedule holds sensitivities in mg/dL per unit
type InsulinSensitivitySchedule = DailySchedule[float64]

// NewInsulinSensitivitySchedule converts items given in unit (mg/dL/U or
// mmol/L/U, or the plain glucose unit) into a mg/dL/U schedule.
func NewInsulinSensitivitySchedule(unit Unit, loc *time.Location, items []ScheduleItem[float64]) (InsulinSensitivitySchedule, error) {
	per, err := glucoseUnitPer(unit)
	if err != nil {
		return InsulinSensitivitySchedule{}, err
	}
	converted := make([]ScheduleItem[float64], len(items))
	for i, item := range items {
		v, err := Q(item.Value, per).In(MilligramsPerDeciliterPer)
		if err != nil {
			return InsulinSensitivitySchedule{}, err
		}
		if v <= 0 {
			return InsulinSensitivitySchedule{}, errors.Wrapf(errors.ErrInvalidConfiguration, "insulin sensitivity must be positive, got %g", item.Value)
		}
		converted[i] = ScheduleItem[float64]{StartTime: item.StartTime, Value: v}
	}
	return NewDailySchedule(loc, converted)
}

// NewCarbRatioSchedule validates that every ratio is positive
func NewCarbRatioSchedule(loc *time.Location, items []ScheduleItem[float64]) (CarbRatioSchedule, error) {
	for _, item := range items {
		if item.Value <= 0 {
			return CarbRatioSchedule{}, errors.Wrapf(errors.ErrInvalidConfiguration, "carb ratio must be positive, got %g", item.Value)
		}
	}
	return NewDailySchedule(loc, items)
}

// NewBasalRateSchedule validates that every rate is non-negative
func NewBasalRateSchedule(loc *time.Location, items []ScheduleItem[float64]) (BasalRateSchedule, error) {
	for _, item := range items {
		if item.Value < 0 {
			return BasalRateSchedule{}, errors.Wrapf(errors.ErrInvalidConfiguration, "basal rate must not be negative, got %g", item.Value)
		}
	}
	return NewDailySchedule(loc, items)
}

// ScheduledUnits integrates a basal schedule over [start, end)
func ScheduledUnits(s BasalRateSchedule, start, end time.Time) (float64, error) {
	values, err := s.Between(start, end)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range values {
		total += v.Value * v.EndDate.Sub(v.StartDate).Hours()
	}
	return total, nil
}

// DoubleRange is a closed glucose interval in mg/dL
type DoubleRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Midpoint returns the centre of the range
func (r DoubleRange) Midpoint() float64 {
	return (r.Min + r.Max) / 2
}

// TemporaryScheduleOverride replaces the target range between two dates,
// e.g. a pre-meal or exercise target.
type TemporaryScheduleOverride struct {
	Name      string      `json:"name"`
	Range     DoubleRange `json:"range"`
	StartDate time.Time   `json:"startDate"`
	EndDate   time.Time   `json:"endDate"`
}

// IsActiveAt reports whether the override applies at t
func (o TemporaryScheduleOverride) IsActiveAt(t time.Time) bool {
	return !t.Before(o.StartDate) && t.Before(o.EndDate)
}

// GlucoseRangeSchedule is a daily target range with an optional override
type GlucoseRangeSchedule struct {
	Ranges   DailySchedule[DoubleRange]
	Override *TemporaryScheduleOverride
}

// NewGlucoseRangeSchedule converts ranges given in unit into mg/dL
func NewGlucoseRangeSchedule(unit Unit, loc *time.Location, items []ScheduleItem[DoubleRange]) (GlucoseRangeSchedule, error) {
	converted := make([]ScheduleItem[DoubleRange], len(items))
	for i, item := range items {
		r, err := convertRange(item.Value, unit)
		if err != nil {
			return GlucoseRangeSchedule{}, err
		}
		converted[i] = ScheduleItem[DoubleRange]{StartTime: item.StartTime, Value: r}
	}
	ranges, err := NewDailySchedule(loc, converted)
	if err != nil {
		return GlucoseRangeSchedule{}, err
	}
	return GlucoseRangeSchedule{Ranges: ranges}, nil
}

// NewTemporaryScheduleOverride converts r from unit and spans [start, start+duration)
func NewTemporaryScheduleOverride(name string, unit Unit, r DoubleRange, start time.Time, duration time.Duration) (*TemporaryScheduleOverride, error) {
	converted, err := convertRange(r, unit)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "override %q has no duration", name)
	}
	return &TemporaryScheduleOverride{
		Name:      name,
		Range:     converted,
		StartDate: start,
		EndDate:   start.Add(duration),
	}, nil
}

// WithOverride returns a copy of s using o
func (s GlucoseRangeSchedule) WithOverride(o *TemporaryScheduleOverride) GlucoseRangeSchedule {
	s.Override = o
	return s
}

// IsZero reports whether no ranges are configured
func (s GlucoseRangeSchedule) IsZero() bool {
	return s.Ranges.IsZero()
}

// At returns the range in effect at t, preferring an active override
func (s GlucoseRangeSchedule) At(t time.Time) (DoubleRange, error) {
	if s.Override != nil && s.Override.IsActiveAt(t) {
		return s.Override.Range, nil
	}
	return s.Ranges.At(t)
}

func convertRange(r DoubleRange, unit Unit) (DoubleRange, error) {
	lo, err := Q(r.Min, unit).In(MilligramsPerDeciliter)
	if err != nil {
		return DoubleRange{}, err
	}
	hi, err := Q(r.Max, unit).In(MilligramsPerDeciliter)
	if err != nil {
		return DoubleRange{}, err
	}
	if lo > hi {
		return DoubleRange{}, errors.Wrapf(errors.ErrInvalidConfiguration, "target range %g-%g is inverted", r.Min, r.Max)
	}
	return DoubleRange{Min: lo, Max: hi}, nil
}
