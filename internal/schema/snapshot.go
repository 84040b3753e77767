package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// GlucoseDocument is one glucose reading in the snapshot's units
type GlucoseDocument struct {
	Date        time.Time `json:"date" yaml:"date"`
	Value       float64   `json:"value" yaml:"value"`
	DisplayOnly bool      `json:"displayOnly,omitempty" yaml:"displayOnly,omitempty"`
	Device      string    `json:"device,omitempty" yaml:"device,omitempty"`
}

// CarbDocument is one carb entry. AbsorptionTime may be a duration or one
// of "fast", "medium" and "slow".
type CarbDocument struct {
	ID             string    `json:"id,omitempty" yaml:"id,omitempty"`
	Date           time.Time `json:"date" yaml:"date"`
	Grams          float64   `json:"grams" yaml:"grams"`
	FoodType       string    `json:"foodType,omitempty" yaml:"foodType,omitempty"`
	AbsorptionTime string    `json:"absorptionTime,omitempty" yaml:"absorptionTime,omitempty"`
}

// DoseDocument is one insulin delivery. End defaults to Start for boluses.
type DoseDocument struct {
	Type        string    `json:"type" yaml:"type"`
	Start       time.Time `json:"start" yaml:"start"`
	End         time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Value       float64   `json:"value" yaml:"value"`
	Unit        string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	InsulinType string    `json:"insulinType,omitempty" yaml:"insulinType,omitempty"`
}

// ReservoirReadingDocument is one raw reservoir volume
type ReservoirReadingDocument struct {
	Date   time.Time `json:"date" yaml:"date"`
	Volume float64   `json:"volume" yaml:"volume"`
}

// SnapshotDocument is the stored form of loop.Snapshot. Glucose values are
// in Units; the embedded therapy document carries its own units.
type SnapshotDocument struct {
	Version int       `json:"version" yaml:"version"`
	Now     time.Time `json:"now" yaml:"now"`
	Units   string    `json:"units" yaml:"units"`

	Glucose        []GlucoseDocument          `json:"glucose" yaml:"glucose"`
	Carbs          []CarbDocument             `json:"carbs,omitempty" yaml:"carbs,omitempty"`
	Doses          []DoseDocument             `json:"doses,omitempty" yaml:"doses,omitempty"`
	Reservoir      []ReservoirReadingDocument `json:"reservoir,omitempty" yaml:"reservoir,omitempty"`
	Therapy        TherapyDocument            `json:"therapy" yaml:"therapy"`
	PendingInsulin float64                    `json:"pendingInsulin,omitempty" yaml:"pendingInsulin,omitempty"`
	// PumpSuspended forces a suspended pump regardless of the dose history
	PumpSuspended bool `json:"pumpSuspended,omitempty" yaml:"pumpSuspended,omitempty"`
}

func (d *SnapshotDocument) version() int { return d.Version }

// Snapshot converts the document for the engine. Absorption times named by
// speed are resolved against times; the pump state is inferred from the doses.
func (d *SnapshotDocument) Snapshot(times models.AbsorptionTimes) (loop.Snapshot, error) {
	therapy, err := d.Therapy.TherapySettings()
	if err != nil {
		return loop.Snapshot{}, errors.Wrap(err, "therapy")
	}

	samples, err := d.glucose()
	if err != nil {
		return loop.Snapshot{}, err
	}
	entries, err := d.carbEntries(times)
	if err != nil {
		return loop.Snapshot{}, err
	}
	doses, err := d.doses()
	if err != nil {
		return loop.Snapshot{}, err
	}

	snap := loop.Snapshot{
		Now:               d.Now,
		Glucose:           samples,
		CarbEntries:       entries,
		Doses:             doses,
		ReservoirReadings: ReservoirReadings(d.Reservoir),
		Therapy:           *therapy,
		Pump:              loop.PumpStateFromDoses(doses, d.Now),
		PendingInsulin:    d.PendingInsulin,
	}
	if d.PumpSuspended {
		snap.Pump.IsSuspended = true
		snap.Pump.BasalDeliveryState = dosing.BasalSuspended
	}
	return snap, nil
}

func (d *SnapshotDocument) glucose() ([]models.GlucoseSample, error) {
	unit := models.MilligramsPerDeciliter
	if d.Units != "" {
		u, err := models.ParseUnit(d.Units)
		if err != nil {
			return nil, err
		}
		unit = u
	}

	samples := make([]models.GlucoseSample, 0, len(d.Glucose))
	for _, g := range d.Glucose {
		s, err := models.NewGlucoseSample(g.Date, models.Q(g.Value, unit))
		if err != nil {
			return nil, errors.Wrapf(err, "glucose at %s", g.Date.Format(time.RFC3339))
		}
		s.IsDisplayOnly = g.DisplayOnly
		s.Device = g.Device
		samples = append(samples, s)
	}
	return models.SortGlucose(samples), nil
}

func (d *SnapshotDocument) carbEntries(times models.AbsorptionTimes) ([]models.CarbEntry, error) {
	entries := make([]models.CarbEntry, 0, len(d.Carbs))
	for _, c := range d.Carbs {
		absorption, err := absorptionTime(c.AbsorptionTime, times)
		if err != nil {
			return nil, err
		}
		entry := models.NewCarbEntry(c.Date, c.Grams, c.FoodType, absorption)
		if c.ID != "" {
			if entry.SyncIdentifier, err = uuid.Parse(c.ID); err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "carb entry id %q", c.ID)
			}
		} else {
			// stable across reads so repeated runs report the same entries
			entry.SyncIdentifier = uuid.NewSHA1(uuid.NameSpaceOID,
				[]byte(fmt.Sprintf("carbs:%s/%g", c.Date.UTC().Format(time.RFC3339), c.Grams)))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func absorptionTime(s string, times models.AbsorptionTimes) (time.Duration, error) {
	switch s {
	case "":
		return 0, nil
	case "fast", "medium", "slow":
		return times.ForSpeed(s), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidConfiguration, "absorption time %q", s)
	}
	return d, nil
}

func (d *SnapshotDocument) doses() ([]models.DoseEntry, error) {
	doses := make([]models.DoseEntry, 0, len(d.Doses))
	for _, doc := range d.Doses {
		dose := models.DoseEntry{
			Type:        models.DoseType(doc.Type),
			StartDate:   doc.Start,
			EndDate:     doc.End,
			Value:       doc.Value,
			Unit:        models.DoseUnit(doc.Unit),
			InsulinType: doc.InsulinType,
		}
		switch dose.Type {
		case models.DoseBolus, models.DoseReservoir:
			if dose.Unit == "" {
				dose.Unit = models.Units
			}
		case models.DoseBasal, models.DoseTempBasal, models.DoseSuspend:
			if dose.Unit == "" {
				dose.Unit = models.UnitsPerHour
			}
		default:
			return nil, errors.Wrapf(errors.ErrInvalidConfiguration, "unknown dose type %q", doc.Type)
		}
		if dose.EndDate.IsZero() {
			dose.EndDate = dose.StartDate
		}
		if err := dose.Validate(); err != nil {
			return nil, err
		}
		doses = append(doses, dose)
	}
	return doses, nil
}

// ReservoirReadings converts documents to readings, keeping their order
func ReservoirReadings(docs []ReservoirReadingDocument) []models.ReservoirReading {
	if len(docs) == 0 {
		return nil
	}
	readings := make([]models.ReservoirReading, len(docs))
	for i, r := range docs {
		readings[i] = models.ReservoirReading{StartDate: r.Date, UnitVolume: r.Volume}
	}
	return readings
}

// ReservoirDocument is a standalone reservoir history
type ReservoirDocument struct {
	Version  int                        `json:"version" yaml:"version"`
	Readings []ReservoirReadingDocument `json:"readings" yaml:"readings"`
}

func (d *ReservoirDocument) version() int { return d.Version }
