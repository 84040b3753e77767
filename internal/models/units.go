// Package models contains the value types shared by every stage of the loop
package models

import (
	"fmt"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// Unit names the unit of a Quantity
type Unit string

// Supported units
const (
	MilligramsPerDeciliter    Unit = "mg/dL"
	MillimolesPerLiter        Unit = "mmol/L"
	Grams                     Unit = "g"
	InsulinUnits              Unit = "U"
	InsulinUnitsPerHour       Unit = "U/hr"
	GramsPerUnit              Unit = "g/U"
	MilligramsPerDeciliterPer Unit = "mg/dL/U"
	MillimolesPerLiterPer     Unit = "mmol/L/U"
)

// MgdlPerMmol is the molar mass factor between the glucose unit systems
const MgdlPerMmol = 18.0182

// ParseUnit accepts the spellings seen in Nightscout and settings files
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "mg/dL", "mg/dl", "mgdl", "mg":
		return MilligramsPerDeciliter, nil
	case "mmol/L", "mmol/l", "mmol":
		return MillimolesPerLiter, nil
	case "g", "grams":
		return Grams, nil
	case "U", "u", "units":
		return InsulinUnits, nil
	case "U/hr", "U/h", "u/hr":
		return InsulinUnitsPerHour, nil
	case "g/U", "g/u":
		return GramsPerUnit, nil
	case "mg/dL/U", "mg/dl/u":
		return MilligramsPerDeciliterPer, nil
	case "mmol/L/U", "mmol/l/u":
		return MillimolesPerLiterPer, nil
	}
	return "", errors.Wrapf(errors.ErrIncompatibleUnits, "unknown unit %q", s)
}

// ParseGlucoseUnit is ParseUnit restricted to mg/dL and mmol/L
func ParseGlucoseUnit(s string) (Unit, error) {
	u, err := ParseUnit(s)
	if err != nil {
		return "", err
	}
	if u != MilligramsPerDeciliter && u != MillimolesPerLiter {
		return "", errors.Wrapf(errors.ErrIncompatibleUnits, "%s is not a glucose unit", u)
	}
	return u, nil
}

// Quantity is a value with an explicit unit
type Quantity struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Q builds a Quantity
func Q(value float64, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// In converts q to the target unit. Only glucose concentrations (and
// sensitivities expressed per unit of insulin) convert between systems;
// anything else must already match.
func (q Quantity) In(target Unit) (float64, error) {
	if q.Unit == target {
		return q.Value, nil
	}

	switch {
	case q.Unit == MillimolesPerLiter && target == MilligramsPerDeciliter,
		q.Unit == MillimolesPerLiterPer && target == MilligramsPerDeciliterPer:
		return ToMgdl(q.Value), nil
	case q.Unit == MilligramsPerDeciliter && target == MillimolesPerLiter,
		q.Unit == MilligramsPerDeciliterPer && target == MillimolesPerLiterPer:
		return ToMmol(q.Value), nil
	}

	return 0, errors.Wrapf(errors.ErrIncompatibleUnits, "cannot convert %s to %s", q.Unit, target)
}

// Add returns q + other expressed in q's unit
func (q Quantity) Add(other Quantity) (Quantity, error) {
	v, err := other.In(q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: q.Value + v, Unit: q.Unit}, nil
}

func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Value, q.Unit)
}

// ToMmol converts a mg/dL value to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / MgdlPerMmol
}

// ToMgdl converts a mmol/L value to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * MgdlPerMmol
}

// glucoseUnitPer maps a glucose concentration unit to its per-insulin-unit form
func glucoseUnitPer(u Unit) (Unit, error) {
	switch u {
	case MilligramsPerDeciliter, MilligramsPerDeciliterPer:
		return MilligramsPerDeciliterPer, nil
	case MillimolesPerLiter, MillimolesPerLiterPer:
		return MillimolesPerLiterPer, nil
	}
	return "", errors.Wrapf(errors.ErrIncompatibleUnits, "%s is not a glucose unit", u)
}
