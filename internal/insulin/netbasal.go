package insulin

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/models"
)

// NetBasalDoses expresses basal deliveries relative to the scheduled basal,
// since the curves only account for insulin beyond what the schedule already
// covers. Boluses pass through unchanged. Rate doses are split where the
// schedule changes and carry rate minus scheduled rate; suspends become the
// negative scheduled rate; reservoir doses carry units minus scheduled units.
func NetBasalDoses(doses []models.DoseEntry, basal models.BasalRateSchedule) ([]models.DoseEntry, error) {
	out := make([]models.DoseEntry, 0, len(doses))
	for _, d := range doses {
		if err := d.Validate(); err != nil {
			return nil, err
		}

		switch d.Type {
		case models.DoseBolus:
			out = append(out, d)

		case models.DoseReservoir:
			scheduled, err := models.ScheduledUnits(basal, d.StartDate, d.EndDate)
			if err != nil {
				return nil, err
			}
			net := d
			net.Value = d.TotalUnits() - scheduled
			net.Unit = models.Units
			out = append(out, net)

		default:
			if d.Duration() <= 0 {
				continue
			}
			rate := d.Value
			if d.Unit == models.Units {
				rate = d.TotalUnits() / d.Duration().Hours()
			}
			if d.Type == models.DoseSuspend {
				rate = 0
			}

			scheduled, err := basal.Between(d.StartDate, d.EndDate)
			if err != nil {
				return nil, err
			}
			for _, s := range scheduled {
				net := d
				net.StartDate = s.StartDate
				net.EndDate = s.EndDate
				net.Value = rate - s.Value
				net.Unit = models.UnitsPerHour
				out = append(out, net)
			}
		}
	}
	return out, nil
}

// TrimDoses drops doses that end before start and truncates any running past end
func TrimDoses(doses []models.DoseEntry, start, end time.Time) []models.DoseEntry {
	var out []models.DoseEntry
	for _, d := range doses {
		if d.EndDate.Before(start) || d.StartDate.After(end) {
			continue
		}
		if d.Unit == models.UnitsPerHour && d.EndDate.After(end) {
			d.EndDate = end
		}
		out = append(out, d)
	}
	return out
}
