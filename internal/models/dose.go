package models

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// DoseUnit is the unit of DoseEntry.Value
type DoseUnit string

const (
	// Units is an absolute amount delivered over the entry's span
	Units DoseUnit = "U"
	// UnitsPerHour is a rate held for the entry's span
	UnitsPerHour DoseUnit = "U/hr"
)

// DoseType describes where a dose came from
type DoseType string

// Dose types
const (
	DoseBolus     DoseType = "bolus"
	DoseBasal     DoseType = "basal"
	DoseTempBasal DoseType = "tempBasal"
	DoseSuspend   DoseType = "suspend"
	DoseReservoir DoseType = "reservoir"
)

// DoseEntry is one insulin delivery. A rate entry's amount is implied by its
// span; EndDate is never before StartDate.
type DoseEntry struct {
	Type        DoseType  `json:"type"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Value       float64   `json:"value"`
	Unit        DoseUnit  `json:"unit"`
	InsulinType string    `json:"insulinType,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the span and unit of d
func (d DoseEntry) Validate() error {
	if d.EndDate.Before(d.StartDate) {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "dose ends %s before it starts %s",
			d.EndDate.Format(time.RFC3339), d.StartDate.Format(time.RFC3339))
	}
	switch d.Unit {
	case Units, UnitsPerHour:
	default:
		return errors.Wrapf(errors.ErrIncompatibleUnits, "dose unit %q", d.Unit)
	}
	return nil
}

// Duration returns the span of the dose
func (d DoseEntry) Duration() time.Duration {
	return d.EndDate.Sub(d.StartDate)
}

// TotalUnits returns the insulin delivered over the dose's span
func (d DoseEntry) TotalUnits() float64 {
	switch d.Unit {
	case UnitsPerHour:
		return d.Value * d.Duration().Hours()
	default:
		return d.Value
	}
}

// IsActiveAt reports whether a rate dose is still running at t
func (d DoseEntry) IsActiveAt(t time.Time) bool {
	return !t.Before(d.StartDate) && t.Before(d.EndDate)
}

// ReservoirReading is a raw pump reservoir volume
type ReservoirReading struct {
	StartDate  time.Time `json:"startDate"`
	UnitVolume float64   `json:"unitVolume"`
}
