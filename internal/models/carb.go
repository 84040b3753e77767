package models

import (
	"time"

	"github.com/google/uuid"
)

// CarbEntry is a logged meal. Entries are never mutated: an edit produces a
// new entry via Supersede that keeps the SyncIdentifier.
type CarbEntry struct {
	SyncIdentifier uuid.UUID     `json:"syncIdentifier"`
	StartDate      time.Time     `json:"startDate"`
	Grams          float64       `json:"grams"`
	FoodType       string        `json:"foodType,omitempty"`
	AbsorptionTime time.Duration `json:"absorptionTime,omitempty"` // zero means "use the default"
}

// NewCarbEntry creates an entry with a fresh sync identifier
func NewCarbEntry(start time.Time, grams float64, foodType string, absorptionTime time.Duration) CarbEntry {
	return CarbEntry{
		SyncIdentifier: uuid.New(),
		StartDate:      start,
		Grams:          grams,
		FoodType:       foodType,
		AbsorptionTime: absorptionTime,
	}
}

// Supersede returns the replacement for e, carrying over its sync identifier
func (e CarbEntry) Supersede(start time.Time, grams float64, foodType string, absorptionTime time.Duration) CarbEntry {
	id := e.SyncIdentifier
	if id == uuid.Nil {
		id = uuid.New()
	}
	return CarbEntry{
		SyncIdentifier: id,
		StartDate:      start,
		Grams:          grams,
		FoodType:       foodType,
		AbsorptionTime: absorptionTime,
	}
}

// Quantity returns the entry's carbohydrate amount
func (e CarbEntry) Quantity() Quantity {
	return Q(e.Grams, Grams)
}

// EffectiveAbsorptionTime returns the entry's absorption time or fallback
func (e CarbEntry) EffectiveAbsorptionTime(fallback time.Duration) time.Duration {
	if e.AbsorptionTime > 0 {
		return e.AbsorptionTime
	}
	return fallback
}

// WithAbsorptionTime returns a copy of e using d as its absorption time
func (e CarbEntry) WithAbsorptionTime(d time.Duration) CarbEntry {
	e.AbsorptionTime = d
	return e
}

// AbsorptionTimes is the configured fast/medium/slow table
type AbsorptionTimes struct {
	Fast   time.Duration `json:"fast"`
	Medium time.Duration `json:"medium"`
	Slow   time.Duration `json:"slow"`
}

// DefaultAbsorptionTimes returns 2h/3h/4h
func DefaultAbsorptionTimes() AbsorptionTimes {
	return AbsorptionTimes{
		Fast:   2 * time.Hour,
		Medium: 3 * time.Hour,
		Slow:   4 * time.Hour,
	}
}

// Default is the absorption time used when an entry carries none
func (a AbsorptionTimes) Default() time.Duration {
	return a.Medium
}

// ForSpeed maps "fast", "medium" or "slow" to a duration; anything else is medium
func (a AbsorptionTimes) ForSpeed(speed string) time.Duration {
	switch speed {
	case "fast":
		return a.Fast
	case "slow":
		return a.Slow
	default:
		return a.Medium
	}
}

// TotalCarbs sums the grams of entries, dated at the earliest entry.
// ok is false when entries is empty.
func TotalCarbs(entries []CarbEntry) (total CarbValue, ok bool) {
	if len(entries) == 0 {
		return CarbValue{}, false
	}
	total.StartDate = entries[0].StartDate
	for _, e := range entries {
		total.Grams += e.Grams
		if e.StartDate.Before(total.StartDate) {
			total.StartDate = e.StartDate
		}
	}
	return total, true
}
