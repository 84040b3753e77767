package loop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcode/nightscout-loop/internal/delivery"
	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/models"
)

// GlucoseProvider returns ordered glucose readings in a date range
type GlucoseProvider interface {
	GlucoseSamples(ctx context.Context, start, end time.Time) ([]models.GlucoseSample, error)
}

// CarbProvider returns carb entries in a date range
type CarbProvider interface {
	CarbEntries(ctx context.Context, start, end time.Time) ([]models.CarbEntry, error)
}

// DoseProvider returns reconciled dose entries in a date range
type DoseProvider interface {
	Doses(ctx context.Context, start, end time.Time) ([]models.DoseEntry, error)
}

// BasalDoseProvider is a DoseProvider whose doses depend on the scheduled
// basal, such as temp basals stored as a percentage of it. The Service
// fetches settings first and passes their basal schedule in.
type BasalDoseProvider interface {
	DosesWithBasal(ctx context.Context, start, end time.Time, basal models.BasalRateSchedule) ([]models.DoseEntry, error)
}

// SettingsProvider returns the therapy settings in force at a date
type SettingsProvider interface {
	TherapySettings(ctx context.Context, at time.Time) (*models.TherapySettings, error)
}

// Providers bundles the history sources a Service reads from
type Providers struct {
	Glucose  GlucoseProvider
	Carbs    CarbProvider
	Doses    DoseProvider
	Settings SettingsProvider
}

// Service fetches snapshots, runs the engine over them and hands each
// recommendation to a delivery delegate. It keeps the last result for
// callers that only want to read it.
type Service struct {
	engine    *Engine
	providers Providers
	delegate  delivery.Delegate
	logger    *zap.SugaredLogger
	clock     func() time.Time

	mu                sync.RWMutex
	lastResult        *Result
	lastSuccessTime   time.Time
	consecutiveErrors int
	onResult          func(*Result)
}

// NewService creates a new loop service. A nil delegate logs
// recommendations without enacting them.
func NewService(engine *Engine, providers Providers, delegate delivery.Delegate, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if delegate == nil {
		delegate = delivery.NewLogDelegate(logger)
	}
	return &Service{
		engine:    engine,
		providers: providers,
		delegate:  delegate,
		logger:    logger.Named("service"),
		clock:     time.Now,
	}
}

// Snapshot fetches every history the engine needs for a run at now. The
// providers are queried concurrently.
func (s *Service) Snapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	if s.providers.Glucose == nil || s.providers.Settings == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfiguration, "glucose and settings providers are required")
	}

	start := now.Add(-s.engine.Config().HistoryWindow())
	snap := &Snapshot{Now: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples, err := s.providers.Glucose.GlucoseSamples(gctx, start, now)
		snap.Glucose = samples
		return err
	})
	basalDoses, needsBasal := s.providers.Doses.(BasalDoseProvider)
	g.Go(func() error {
		settings, err := s.providers.Settings.TherapySettings(gctx, now)
		if err != nil {
			return err
		}
		snap.Therapy = *settings
		if !needsBasal {
			return nil
		}
		doses, err := basalDoses.DosesWithBasal(gctx, start, now, settings.BasalRates)
		snap.Doses = doses
		return err
	})
	if s.providers.Carbs != nil {
		g.Go(func() error {
			entries, err := s.providers.Carbs.CarbEntries(gctx, start, now)
			snap.CarbEntries = entries
			return err
		})
	}
	if s.providers.Doses != nil && !needsBasal {
		g.Go(func() error {
			doses, err := s.providers.Doses.Doses(gctx, start, now)
			snap.Doses = doses
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Pump = PumpStateFromDoses(snap.Doses, now)
	return snap, nil
}

// Cycle runs one fetch, compute and enact pass. When the engine declines to
// recommend, nothing is enacted and the error is returned.
func (s *Service) Cycle(ctx context.Context) (*Result, error) {
	now := s.clock()

	snap, err := s.Snapshot(ctx, now)
	if err != nil {
		s.recordFailure(err)
		return nil, errors.Wrap(err, "fetching snapshot")
	}

	result, err := s.engine.Run(*snap)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	if err := s.delegate.Enact(ctx, result.Recommendation); err != nil {
		s.recordFailure(err)
		return result, errors.Wrap(err, "enacting recommendation")
	}

	s.mu.Lock()
	s.lastResult = result
	s.lastSuccessTime = now
	s.consecutiveErrors = 0
	onResult := s.onResult
	s.mu.Unlock()

	if onResult != nil {
		onResult(result)
	}
	return result, nil
}

// OnResult registers fn to be called after every successful cycle
func (s *Service) OnResult(fn func(*Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	s.consecutiveErrors++
	count := s.consecutiveErrors
	s.mu.Unlock()

	if errors.IsNoRecommendation(err) {
		s.logger.Warnw("Loop produced no recommendation", "attempt", count, "kind", errors.Kind(err), "error", err)
		return
	}
	s.logger.Errorw("Loop cycle failed", "attempt", count, "kind", errors.Kind(err), "error", err)
}

// Start runs Cycle every interval until ctx is done
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "loop interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial run
	_, _ = s.Cycle(ctx)

	for {
		select {
		case <-ticker.C:
			_, _ = s.Cycle(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LastResult returns the most recent successful result without running again
func (s *Service) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// Health reports when the loop last succeeded and how many cycles failed since
func (s *Service) Health() (lastSuccess time.Time, consecutiveErrors int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccessTime, s.consecutiveErrors
}

// PumpStateFromDoses infers the pump state at now from the dose history:
// a running suspend means suspended, a running temp basal is reported as
// the active temp basal.
func PumpStateFromDoses(doses []models.DoseEntry, now time.Time) dosing.PumpState {
	state := dosing.PumpState{BasalDeliveryState: dosing.BasalActive}
	var lastTemp *models.DoseEntry
	for i := range doses {
		d := &doses[i]
		switch d.Type {
		case models.DoseSuspend:
			if d.IsActiveAt(now) {
				state.IsSuspended = true
				state.BasalDeliveryState = dosing.BasalSuspended
			}
		case models.DoseTempBasal:
			if d.Unit != models.UnitsPerHour || d.StartDate.After(now) {
				continue
			}
			if lastTemp == nil || d.StartDate.After(lastTemp.StartDate) {
				lastTemp = d
			}
		}
	}
	if lastTemp != nil {
		tb := *lastTemp
		state.TempBasal = &tb
		if !state.IsSuspended && tb.IsActiveAt(now) {
			state.BasalDeliveryState = dosing.BasalTempBasal
		}
	}
	return state
}
