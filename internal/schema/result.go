package schema

import (
	"time"

	"github.com/mrcode/nightscout-loop/internal/carbs"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/reservoir"
)

// PointDocument is one dated value
type PointDocument struct {
	Date  time.Time `json:"date" yaml:"date"`
	Value float64   `json:"value" yaml:"value"`
}

// TempBasalDocument is a recommended temp basal; a zero duration cancels
type TempBasalDocument struct {
	Rate     float64  `json:"rate" yaml:"rate"`
	Duration Duration `json:"duration" yaml:"duration"`
}

// BolusDocument is a recommended bolus
type BolusDocument struct {
	Amount         float64 `json:"amount" yaml:"amount"`
	PendingInsulin float64 `json:"pendingInsulin,omitempty" yaml:"pendingInsulin,omitempty"`
	Notice         string  `json:"notice,omitempty" yaml:"notice,omitempty"`
}

// RecommendationDocument is the reported form of dosing.Recommendation
type RecommendationDocument struct {
	State             string             `json:"state" yaml:"state"`
	SuspendReason     string             `json:"suspendReason,omitempty" yaml:"suspendReason,omitempty"`
	Reason            string             `json:"reason" yaml:"reason"`
	TempBasal         *TempBasalDocument `json:"tempBasal,omitempty" yaml:"tempBasal,omitempty"`
	Bolus             *BolusDocument     `json:"bolus,omitempty" yaml:"bolus,omitempty"`
	ReducedConfidence bool               `json:"reducedConfidence,omitempty" yaml:"reducedConfidence,omitempty"`
}

// AbsorptionDocument reports one entry's revised absorption
type AbsorptionDocument struct {
	Date          time.Time `json:"date" yaml:"date"`
	Grams         float64   `json:"grams" yaml:"grams"`
	ObservedGrams float64   `json:"observedGrams" yaml:"observedGrams"`
	Original      Duration  `json:"original" yaml:"original"`
	Revised       Duration  `json:"revised" yaml:"revised"`
}

// InterruptionDocument is a span of unknown delivery
type InterruptionDocument struct {
	Kind  string    `json:"kind" yaml:"kind"`
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// ResultDocument is the reported form of one engine run. Glucose values
// are in Units.
type ResultDocument struct {
	Version int       `json:"version" yaml:"version"`
	Date    time.Time `json:"date" yaml:"date"`
	Units   string    `json:"units" yaml:"units"`

	Glucose        float64 `json:"glucose" yaml:"glucose"`
	GlucoseStatus  string  `json:"glucoseStatus" yaml:"glucoseStatus"`
	Eventual       float64 `json:"eventual" yaml:"eventual"`
	EventualStatus string  `json:"eventualStatus" yaml:"eventualStatus"`
	HighInMinutes  float64 `json:"highInMinutes" yaml:"highInMinutes"`
	LowInMinutes   float64 `json:"lowInMinutes" yaml:"lowInMinutes"`
	IOB            float64 `json:"iob" yaml:"iob"`
	COB            float64 `json:"cob" yaml:"cob"`
	CarbsEntered   float64 `json:"carbsEntered" yaml:"carbsEntered"`
	Coverage       float64 `json:"coverage" yaml:"coverage"`

	Recommendation *RecommendationDocument `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Prediction     []PointDocument         `json:"prediction" yaml:"prediction"`
	Absorption     []AbsorptionDocument    `json:"absorption,omitempty" yaml:"absorption,omitempty"`
	Interruptions  []InterruptionDocument  `json:"interruptions,omitempty" yaml:"interruptions,omitempty"`
}

// NewResultDocument reports r with glucose values converted to unit
func NewResultDocument(r *loop.Result, unit models.Unit) (*ResultDocument, error) {
	if r == nil {
		return nil, errors.New("no result to report")
	}
	convert := func(mgdl float64) (float64, error) {
		return models.Q(mgdl, models.MilligramsPerDeciliter).In(unit)
	}

	doc := &ResultDocument{
		Version:        Version,
		Date:           r.Date,
		Units:          string(unit),
		GlucoseStatus:  r.Status.CurrentStatus,
		EventualStatus: r.Status.EventualStatus,
		HighInMinutes:  r.Status.HighInMinutes,
		LowInMinutes:   r.Status.LowInMinutes,
		IOB:            r.IOB,
		COB:            r.COB,
		CarbsEntered:   r.CarbsEntered,
		Coverage:       r.Coverage,
		Prediction:     make([]PointDocument, 0, len(r.Prediction)),
		Absorption:     absorptionDocuments(r.Absorption),
		Interruptions:  interruptionDocuments(r.Interruptions),
	}

	var err error
	if doc.Glucose, err = convert(r.Glucose.Value); err != nil {
		return nil, err
	}
	if doc.Eventual, err = convert(r.Status.Eventual); err != nil {
		return nil, err
	}
	for _, p := range r.Prediction {
		v, err := convert(p.Value)
		if err != nil {
			return nil, err
		}
		doc.Prediction = append(doc.Prediction, PointDocument{Date: p.StartDate, Value: v})
	}

	if rec := r.Recommendation; rec != nil {
		doc.Recommendation = &RecommendationDocument{
			State:             string(rec.State),
			SuspendReason:     string(rec.SuspendReason),
			Reason:            rec.Reason,
			ReducedConfidence: rec.ReducedConfidence,
		}
		if tb := rec.TempBasal; tb != nil {
			doc.Recommendation.TempBasal = &TempBasalDocument{Rate: tb.Rate, Duration: Duration(tb.Duration)}
		}
		if b := rec.Bolus; b != nil {
			doc.Recommendation.Bolus = &BolusDocument{
				Amount:         b.Amount,
				PendingInsulin: b.PendingInsulin,
				Notice:         string(b.Notice),
			}
		}
	}
	return doc, nil
}

func absorptionDocuments(statuses []carbs.AbsorptionStatus) []AbsorptionDocument {
	var docs []AbsorptionDocument
	for _, s := range statuses {
		docs = append(docs, AbsorptionDocument{
			Date:          s.Entry.StartDate,
			Grams:         s.Entry.Grams,
			ObservedGrams: s.ObservedGrams,
			Original:      Duration(s.OriginalTime),
			Revised:       Duration(s.RevisedTime),
		})
	}
	return docs
}

func interruptionDocuments(interruptions []reservoir.Interruption) []InterruptionDocument {
	var docs []InterruptionDocument
	for _, i := range interruptions {
		docs = append(docs, InterruptionDocument{Kind: string(i.Kind), Start: i.StartDate, End: i.EndDate})
	}
	return docs
}

// ReconciliationDocument reports reservoir reconciliation
type ReconciliationDocument struct {
	Version       int                    `json:"version" yaml:"version"`
	Start         time.Time              `json:"start" yaml:"start"`
	End           time.Time              `json:"end" yaml:"end"`
	Coverage      float64                `json:"coverage" yaml:"coverage"`
	TotalUnits    float64                `json:"totalUnits" yaml:"totalUnits"`
	Doses         []DoseDocument         `json:"doses" yaml:"doses"`
	Interruptions []InterruptionDocument `json:"interruptions,omitempty" yaml:"interruptions,omitempty"`
}

// NewReconciliationDocument reports a reconciliation result
func NewReconciliationDocument(r *reservoir.Result, totalUnits float64) ReconciliationDocument {
	doc := ReconciliationDocument{
		Version:       Version,
		Start:         r.StartDate,
		End:           r.EndDate,
		Coverage:      r.Coverage(),
		TotalUnits:    totalUnits,
		Doses:         make([]DoseDocument, 0, len(r.Doses)),
		Interruptions: interruptionDocuments(r.Interruptions),
	}
	for _, d := range r.Doses {
		doc.Doses = append(doc.Doses, DoseDocument{
			Type:  string(d.Type),
			Start: d.StartDate,
			End:   d.EndDate,
			Value: d.Value,
			Unit:  string(d.Unit),
		})
	}
	return doc
}
