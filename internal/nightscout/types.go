package nightscout

import (
	"time"
)

// GlucoseEntry represents a single sensor glucose reading from Nightscout
type GlucoseEntry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`  // Sensor glucose value in mg/dL
	Date      int64  `json:"date"` // Unix timestamp in milliseconds
	DateStr   string `json:"dateString"`
	Trend     int    `json:"trend"`     // Trend direction (1-7)
	Direction string `json:"direction"` // Trend direction as string
	Device    string `json:"device"`
	Type      string `json:"type"`
	Mills     int64  `json:"mills"`
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	if g.Date > 0 {
		return time.UnixMilli(g.Date)
	}
	return time.UnixMilli(g.Mills)
}

// Treatment represents a careportal treatment (insulin, carbs, temp basal...)
type Treatment struct {
	ID          string  `json:"_id"`
	EventType   string  `json:"eventType"`
	Date        int64   `json:"date,omitempty"` // Unix timestamp in milliseconds
	CreatedAt   string  `json:"created_at"`
	Insulin     float64 `json:"insulin,omitempty"`        // Units of insulin
	Carbs       float64 `json:"carbs,omitempty"`          // Grams of carbohydrates
	Duration    float64 `json:"duration,omitempty"`       // Minutes
	Absorption  float64 `json:"absorptionTime,omitempty"` // Minutes
	FoodType    string  `json:"foodType,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	EnteredBy   string  `json:"enteredBy,omitempty"`
	Device      string  `json:"device,omitempty"`
	SyncID      string  `json:"syncIdentifier,omitempty"`
	InsulinType string  `json:"insulinType,omitempty"`

	// For basal changes
	Percent  *float64 `json:"percent,omitempty"`  // Basal change in percent
	Absolute *float64 `json:"absolute,omitempty"` // Basal rate in U/hr
	Rate     *float64 `json:"rate,omitempty"`     // Older uploaders send rate instead of absolute

	// For temp targets
	TargetTop    float64 `json:"targetTop,omitempty"`
	TargetBottom float64 `json:"targetBottom,omitempty"`
	Units        string  `json:"units,omitempty"`

	// For profile switches
	Profile string `json:"profile,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	// Fallback to created_at
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// Event types the adapter understands
const (
	EventBolus           = "Bolus"
	EventSnackBolus      = "Snack Bolus"
	EventMealBolus       = "Meal Bolus"
	EventCorrectionBolus = "Correction Bolus"
	EventComboBolus      = "Combo Bolus"
	EventBolusWizard     = "Bolus Wizard"
	EventCarbCorrection  = "Carb Correction"
	EventTempBasal       = "Temp Basal"
	EventTemporaryTarget = "Temporary Target"
	EventSuspendPump     = "Suspend Pump"
	EventResumePump      = "Resume Pump"
	EventProfileSwitch   = "Profile Switch"
)

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status            string         `json:"status"`
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ServerTime        string         `json:"serverTime"`
	APIEnabled        bool           `json:"apiEnabled"`
	CareportalEnabled bool           `json:"careportalEnabled"`
	Head              string         `json:"head"`
	Settings          ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains the Nightscout server settings the loop cares about
type ServerSettings struct {
	Units      string     `json:"units"`
	Thresholds Thresholds `json:"thresholds,omitempty"`
}

// Thresholds contains glucose threshold settings
type Thresholds struct {
	BGHigh         int `json:"bgHigh"`
	BGLow          int `json:"bgLow"`
	BGTargetTop    int `json:"bgTargetTop"`
	BGTargetBottom int `json:"bgTargetBottom"`
}

// ProfileDocument is one stored profile set from /api/v1/profile
type ProfileDocument struct {
	ID             string             `json:"_id"`
	DefaultProfile string             `json:"defaultProfile"`
	StartDate      string             `json:"startDate"`
	Units          string             `json:"units"`
	Store          map[string]Profile `json:"store"`
}

// Profile is a named therapy profile
type Profile struct {
	DIA        float64        `json:"dia"` // Hours
	CarbRatio  []ProfileEntry `json:"carbratio"`
	Sens       []ProfileEntry `json:"sens"`
	Basal      []ProfileEntry `json:"basal"`
	TargetLow  []ProfileEntry `json:"target_low"`
	TargetHigh []ProfileEntry `json:"target_high"`
	Timezone   string         `json:"timezone"`
	Units      string         `json:"units"`
}

// ProfileEntry is one time-of-day value in a profile schedule
type ProfileEntry struct {
	Time          string  `json:"time"` // "HH:MM"
	Value         float64 `json:"value"`
	TimeAsSeconds *int    `json:"timeAsSeconds,omitempty"`
}
