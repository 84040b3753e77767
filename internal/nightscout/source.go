package nightscout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// Source serves glucose, carb, dose and therapy history from a Nightscout
// site. It satisfies the loop's provider interfaces.
type Source struct {
	client     *Client
	guardrails models.Guardrails
	thresholds models.GlucoseThresholds
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	settings *models.TherapySettings
}

// NewSource wraps client. Guardrails are not stored by Nightscout and must be
// supplied from local configuration.
func NewSource(client *Client, guardrails models.Guardrails, thresholds models.GlucoseThresholds, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{
		client:     client,
		guardrails: guardrails,
		thresholds: thresholds,
		logger:     logger,
	}
}

// GlucoseSamples returns sensor readings in [start, end]
func (s *Source) GlucoseSamples(ctx context.Context, start, end time.Time) ([]models.GlucoseSample, error) {
	entries, err := s.client.GetEntries(ctx, start, end, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fetching glucose entries")
	}
	return ToGlucoseSamples(entries), nil
}

// CarbEntries returns carb treatments in [start, end]
func (s *Source) CarbEntries(ctx context.Context, start, end time.Time) ([]models.CarbEntry, error) {
	treatments, err := s.client.GetTreatments(ctx, start, end, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fetching carb treatments")
	}
	return ToCarbEntries(treatments), nil
}

// Doses returns insulin treatments in [start, end]. Open suspends run to end.
// Percent temp basals are resolved against the last fetched profile.
func (s *Source) Doses(ctx context.Context, start, end time.Time) ([]models.DoseEntry, error) {
	var basal models.BasalRateSchedule
	if settings := s.cached(); settings != nil {
		basal = settings.BasalRates
	} else {
		s.logger.Debugw("No profile cached, percent temp basals are skipped")
	}
	return s.DosesWithBasal(ctx, start, end, basal)
}

// DosesWithBasal is Doses with percent temp basals resolved against basal
func (s *Source) DosesWithBasal(ctx context.Context, start, end time.Time, basal models.BasalRateSchedule) ([]models.DoseEntry, error) {
	treatments, err := s.client.GetTreatments(ctx, start, end, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fetching insulin treatments")
	}
	return ToDoses(treatments, basal, end), nil
}

// TherapySettings returns the active profile with any temporary target
// running at the given time applied.
func (s *Source) TherapySettings(ctx context.Context, at time.Time) (*models.TherapySettings, error) {
	docs, err := s.client.GetProfiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching profile")
	}
	profile, err := ActiveProfile(docs)
	if err != nil {
		return nil, err
	}
	settings, err := profile.TherapySettings(s.guardrails, s.thresholds)
	if err != nil {
		return nil, err
	}

	treatments, err := s.client.GetTreatments(ctx, at.Add(-24*time.Hour), at, 0)
	if err != nil {
		s.logger.Warnw("Could not fetch temporary targets", "error", err)
	} else {
		override, err := ActiveOverride(treatments, at)
		if err != nil {
			s.logger.Warnw("Ignoring temporary target", "error", err)
		} else if override != nil {
			settings.TargetRanges = settings.TargetRanges.WithOverride(override)
		}
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return settings, nil
}

func (s *Source) cached() *models.TherapySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}
