package nightscout

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mrcode/nightscout-loop/internal/models"
)

// MinValidSGV is the lowest reading Nightscout stores as a real value;
// smaller numbers are sensor status codes.
const MinValidSGV = 39

// ToGlucoseSamples converts sensor entries to samples ordered by date.
// Status codes and entries without a timestamp are dropped.
func ToGlucoseSamples(entries []GlucoseEntry) []models.GlucoseSample {
	samples := make([]models.GlucoseSample, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.SGV <= MinValidSGV || e.Time().UnixMilli() <= 0 {
			continue
		}
		samples = append(samples, models.GlucoseSample{
			StartDate: e.Time(),
			Value:     float64(e.SGV),
			Device:    e.Device,
		})
	}
	return models.SortGlucose(samples)
}

// treatmentID returns the sync identifier of t. Nightscout object ids are
// not UUIDs, so they are hashed into a stable name-based one.
func treatmentID(t *Treatment) uuid.UUID {
	if t.SyncID != "" {
		if id, err := uuid.Parse(t.SyncID); err == nil {
			return id
		}
	}
	if t.ID != "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("nightscout:treatments:"+t.ID))
	}
	return uuid.New()
}

// ToCarbEntries converts every treatment carrying carbs into a carb entry.
// An absorption time in minutes is kept; otherwise the engine default applies.
func ToCarbEntries(treatments []Treatment) []models.CarbEntry {
	var entries []models.CarbEntry
	for i := range treatments {
		t := &treatments[i]
		if t.Carbs <= 0 || t.Time().IsZero() {
			continue
		}
		entries = append(entries, models.CarbEntry{
			SyncIdentifier: treatmentID(t),
			StartDate:      t.Time(),
			Grams:          t.Carbs,
			FoodType:       t.FoodType,
			AbsorptionTime: time.Duration(t.Absorption * float64(time.Minute)),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate.Before(entries[j].StartDate)
	})
	return entries
}

// ToDoses converts insulin treatments into dose entries:
//
//	boluses        Units, instantaneous (combo boluses spread over their duration)
//	temp basals    U/hr for their duration; a later temp basal or a zero
//	               duration cancel ends the running one
//	pump suspends  a zero rate up to the next resume, or to until if none
//
// Percent temp basals are resolved against basal; with no basal schedule
// they are skipped.
func ToDoses(treatments []Treatment, basal models.BasalRateSchedule, until time.Time) []models.DoseEntry {
	sorted := make([]*Treatment, 0, len(treatments))
	for i := range treatments {
		if !treatments[i].Time().IsZero() {
			sorted = append(sorted, &treatments[i])
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time().Before(sorted[j].Time())
	})

	var doses []models.DoseEntry
	lastTemp := -1
	lastSuspend := -1

	// truncate shortens an open rate dose so it ends no later than at
	truncate := func(idx int, at time.Time) {
		if idx >= 0 && doses[idx].EndDate.After(at) {
			doses[idx].EndDate = at
		}
	}

	for _, t := range sorted {
		start := t.Time()
		switch t.EventType {
		case EventTempBasal:
			truncate(lastTemp, start)
			lastTemp = -1
			if t.Duration <= 0 {
				continue
			}
			r, ok := tempBasalRate(t, basal, start)
			if !ok {
				continue
			}
			doses = append(doses, models.DoseEntry{
				Type:        models.DoseTempBasal,
				StartDate:   start,
				EndDate:     start.Add(minutes(t.Duration)),
				Value:       r,
				Unit:        models.UnitsPerHour,
				InsulinType: t.InsulinType,
				Description: t.EnteredBy,
			})
			lastTemp = len(doses) - 1

		case EventSuspendPump:
			truncate(lastTemp, start)
			lastTemp = -1
			end := until
			if t.Duration > 0 {
				end = start.Add(minutes(t.Duration))
			}
			if end.Before(start) {
				end = start
			}
			doses = append(doses, models.DoseEntry{
				Type:      models.DoseSuspend,
				StartDate: start,
				EndDate:   end,
				Unit:      models.UnitsPerHour,
			})
			lastSuspend = len(doses) - 1

		case EventResumePump:
			truncate(lastSuspend, start)
			lastSuspend = -1

		default:
			if t.Insulin <= 0 {
				continue
			}
			end := start
			if t.EventType == EventComboBolus && t.Duration > 0 {
				end = start.Add(minutes(t.Duration))
			}
			doses = append(doses, models.DoseEntry{
				Type:        models.DoseBolus,
				StartDate:   start,
				EndDate:     end,
				Value:       t.Insulin,
				Unit:        models.Units,
				InsulinType: t.InsulinType,
				Description: t.EventType,
			})
		}
	}
	return doses
}

func tempBasalRate(t *Treatment, basal models.BasalRateSchedule, at time.Time) (float64, bool) {
	switch {
	case t.Absolute != nil:
		return *t.Absolute, *t.Absolute >= 0
	case t.Rate != nil:
		return *t.Rate, *t.Rate >= 0
	case t.Percent != nil && !basal.IsZero():
		scheduled, err := basal.At(at)
		if err != nil {
			return 0, false
		}
		r := scheduled * (1 + *t.Percent/100)
		if r < 0 {
			r = 0
		}
		return r, true
	}
	return 0, false
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
