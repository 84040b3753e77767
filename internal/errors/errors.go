// Package errors provides error handling for the loop engine.
//
// This package re-exports github.com/cockroachdb/errors and defines the
// error taxonomy every pipeline stage reports through:
//
//	ErrInsufficientData       too few or stale samples; no recommendation
//	ErrInvalidConfiguration   missing or malformed schedules and settings
//	ErrGuardrailViolation     a requested action exceeds a safety bound
//	ErrReconciliationAnomaly  reservoir history with no plausible reading
//
// Wrap the sentinels to add context; callers branch with errors.Is or the
// Is* helpers below.
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
	FlattenHints   = crdb.FlattenHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Taxonomy sentinels.
var (
	// ErrInsufficientData indicates too few, gapped or stale samples
	ErrInsufficientData = New("insufficient data")

	// ErrInvalidConfiguration indicates a missing or malformed schedule or setting
	ErrInvalidConfiguration = New("invalid configuration")

	// ErrGuardrailViolation indicates a requested action exceeds a configured safety bound
	ErrGuardrailViolation = New("guardrail violation")

	// ErrReconciliationAnomaly indicates reservoir readings with no plausible delivery, rewind or prime reading
	ErrReconciliationAnomaly = New("reconciliation anomaly")

	// ErrIncompatibleUnits indicates arithmetic between quantities of unrelated units.
	// It wraps ErrInvalidConfiguration.
	ErrIncompatibleUnits = Wrap(ErrInvalidConfiguration, "incompatible units")
)

// IsInsufficientData reports whether err is or wraps ErrInsufficientData.
func IsInsufficientData(err error) bool {
	return err != nil && Is(err, ErrInsufficientData)
}

// IsInvalidConfiguration reports whether err is or wraps ErrInvalidConfiguration.
func IsInvalidConfiguration(err error) bool {
	return err != nil && Is(err, ErrInvalidConfiguration)
}

// IsGuardrailViolation reports whether err is or wraps ErrGuardrailViolation.
func IsGuardrailViolation(err error) bool {
	return err != nil && Is(err, ErrGuardrailViolation)
}

// IsReconciliationAnomaly reports whether err is or wraps ErrReconciliationAnomaly.
func IsReconciliationAnomaly(err error) bool {
	return err != nil && Is(err, ErrReconciliationAnomaly)
}

// IsNoRecommendation reports whether err means the engine declined to recommend
// rather than failed. Automatic dosing paths treat these as "do nothing".
func IsNoRecommendation(err error) bool {
	return IsInsufficientData(err) || IsInvalidConfiguration(err)
}

// Kind returns a stable name for the taxonomy class of err, or "internal"
// when err belongs to none of them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInsufficientData(err):
		return "insufficient_data"
	case IsInvalidConfiguration(err):
		return "invalid_configuration"
	case IsGuardrailViolation(err):
		return "guardrail_violation"
	case IsReconciliationAnomaly(err):
		return "reconciliation_anomaly"
	default:
		return "internal"
	}
}
