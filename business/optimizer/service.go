package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
	"adsOptimizer/pkg/micros"
)

// maxWriteAttempts bounds optimistic-concurrency retries per entity.
const maxWriteAttempts = 3

// ---- Repository interfaces ----

type BidStateRepository interface {
	GetState(ctx context.Context, key domain.EntityKey) (*domain.BidState, error)
	ListStates(ctx context.Context, profileID string) ([]domain.BidState, error)
	ListProfiles(ctx context.Context) ([]string, error)
	CreateState(ctx context.Context, state *domain.BidState) error
	// FoldCycle persists a folded state together with the cycle row. It fails
	// with ErrDuplicateCycle when the cycle was already folded and with
	// ErrVersionConflict when the state moved underneath.
	FoldCycle(ctx context.Context, state *domain.BidState, obs *domain.BidObservation) error
	// SaveState is a version-checked update; it bumps state.Version on success.
	SaveState(ctx context.Context, state *domain.BidState) error
	// ClaimCooldown sets last_optimized_at = now only if the previous value is
	// older than cooldown. It reports whether this caller won.
	ClaimCooldown(ctx context.Context, stateID uint64, now time.Time, cooldown time.Duration) (bool, error)
	History(ctx context.Context, stateID uint64, limit int) ([]domain.BidObservation, error)
}

type CurveFitRepository interface {
	GetFit(ctx context.Context, stateID uint64) (*domain.CurveFitResult, error)
	SaveFit(ctx context.Context, fit *domain.CurveFitResult) error
	ListFits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error)
}

// Lease is a held per-entity lock.
type Lease interface {
	Release(ctx context.Context) error
	// Extend pushes the expiry out. It fails with ErrLeaseHeld once the
	// lease has been lost.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker hands out per-entity leases. Acquire returns ErrLeaseHeld when
// another worker owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ---- Usecase / Service ----

type Service struct {
	stateRepo   BidStateRepository
	fitRepo     CurveFitRepository
	locker      Locker
	cfgLoader   *ConfigLoader
	selector    *Selector
	eligChecker EligibilityChecker
	now         func() time.Time
}

func NewService(
	stateRepo BidStateRepository,
	fitRepo CurveFitRepository,
	locker Locker,
	cfgLoader *ConfigLoader,
	selector *Selector,
	eligChecker EligibilityChecker,
) *Service {
	if eligChecker == nil {
		eligChecker = NoopEligibilityChecker{}
	}
	return &Service{
		stateRepo:   stateRepo,
		fitRepo:     fitRepo,
		locker:      locker,
		cfgLoader:   cfgLoader,
		selector:    selector,
		eligChecker: eligChecker,
		now:         time.Now,
	}
}

// WithClock replaces the time source; tests use it to walk through cool-downs.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Config(ctx context.Context, profileID string) Config {
	return s.cfgLoader.Load(ctx, profileID)
}

// EntityResult is the outcome of one entity's update+fit+select cycle.
type EntityResult struct {
	Key       domain.EntityKey     `json:"key"`
	Folded    int                  `json:"folded"`
	Skipped   int                  `json:"skipped"`
	Outcome   domain.EntityOutcome `json:"outcome"`
	Change    *domain.BidChange    `json:"change,omitempty"`
	Selection *Selection           `json:"selection,omitempty"`
	FitErr    error                `json:"-"`
}

// ProcessEntity folds cycles for one entity and, when optimize is set, fits
// the bid curve and selects a new bid, all under a single entity lease. Each
// cycle commits on its own so a failure later keeps earlier folds.
func (s *Service) ProcessEntity(
	ctx context.Context,
	key domain.EntityKey,
	obs []domain.Observation,
	runID string,
	optimize bool,
) (EntityResult, error) {
	res := EntityResult{Key: key, Outcome: domain.OutcomeUnchanged}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("context error: %w", err)
	}

	cfg := s.cfgLoader.Load(ctx, key.ProfileID)

	lease, err := s.locker.Acquire(ctx, key.String(), cfg.LeaseTTL)
	if err != nil {
		res.Outcome = leaseOutcome(err)
		return res, err
	}
	defer s.ReleaseEntity(ctx, key, lease)

	return s.processHeld(ctx, lease, key, obs, runID, optimize, cfg, res)
}

// LockEntity takes the entity lease for a caller that must do more than
// ProcessEntity under it. Release it with ReleaseEntity.
func (s *Service) LockEntity(ctx context.Context, key domain.EntityKey) (Lease, error) {
	cfg := s.cfgLoader.Load(ctx, key.ProfileID)
	return s.locker.Acquire(ctx, key.String(), cfg.LeaseTTL)
}

// ReleaseEntity drops the lease even if the caller's context was cancelled.
func (s *Service) ReleaseEntity(ctx context.Context, key domain.EntityKey, lease Lease) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lease.Release(relCtx); err != nil {
		logger.Warn("entity lease release failed", "entity", key.String(), "error", err)
	}
}

// ProcessHeld is ProcessEntity for a caller that already holds the lease
// from LockEntity.
func (s *Service) ProcessHeld(
	ctx context.Context,
	lease Lease,
	key domain.EntityKey,
	obs []domain.Observation,
	runID string,
	optimize bool,
) (EntityResult, error) {
	res := EntityResult{Key: key, Outcome: domain.OutcomeUnchanged}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("context error: %w", err)
	}
	cfg := s.cfgLoader.Load(ctx, key.ProfileID)
	return s.processHeld(ctx, lease, key, obs, runID, optimize, cfg, res)
}

func leaseOutcome(err error) domain.EntityOutcome {
	if errors.Is(err, ErrLeaseHeld) {
		return domain.OutcomeLocked
	}
	return domain.OutcomeError
}

func (s *Service) processHeld(
	ctx context.Context,
	lease Lease,
	key domain.EntityKey,
	obs []domain.Observation,
	runID string,
	optimize bool,
	cfg Config,
	res EntityResult,
) (EntityResult, error) {
	for _, o := range obs {
		outcome, err := s.foldCycle(ctx, key, o, cfg)
		switch {
		case err == nil && outcome == domain.OutcomeUpdated:
			res.Folded++
			res.Outcome = domain.OutcomeUpdated
		case err == nil:
		case errors.Is(err, ErrInvalidObservation):
			res.Skipped++
			logger.Warn("observation cycle skipped",
				"trace_id", TraceIDFromContext(ctx),
				"entity", key.String(),
				"window_start", o.WindowStart.Format(time.RFC3339),
				"error", err,
			)
		default:
			res.Outcome = domain.OutcomeError
			return res, fmt.Errorf("fold cycle %s for %s: %w", o.WindowStart.Format(time.RFC3339), key, err)
		}
	}
	if res.Skipped > 0 && res.Folded == 0 && len(obs) == res.Skipped {
		res.Outcome = domain.OutcomeInvalidObservation
	}

	if !optimize {
		return res, nil
	}

	// a long fold may have eaten most of the TTL; the fit and the write must
	// not outlive the lease
	if err := lease.Extend(ctx, cfg.LeaseTTL); err != nil {
		res.Outcome = leaseOutcome(err)
		return res, fmt.Errorf("renew lease for %s: %w", key, err)
	}

	return s.optimizeLocked(ctx, key, runID, cfg, res)
}

func (s *Service) foldCycle(ctx context.Context, key domain.EntityKey, o domain.Observation, cfg Config) (domain.EntityOutcome, error) {
	if o.Key() != key {
		ObservationsTotal.WithLabelValues("invalid").Inc()
		return domain.OutcomeInvalidObservation, invalidObservation("observation for %s routed to %s", o.Key(), key)
	}
	if err := ValidateObservation(o); err != nil {
		ObservationsTotal.WithLabelValues("invalid").Inc()
		return domain.OutcomeInvalidObservation, err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		state, err := s.stateRepo.GetState(ctx, key)
		if err != nil {
			return domain.OutcomeError, fmt.Errorf("load bid state: %w", err)
		}
		if state == nil {
			state = NewBidState(key, o.CampaignID, cfg.PriorFor(key.EntityType))
		}

		Fold(state, o)
		applyConfidence(state, cfg)

		err = s.stateRepo.FoldCycle(ctx, state, toBidObservation(state.ID, o))
		switch {
		case err == nil:
			ObservationsTotal.WithLabelValues("folded").Inc()
			return domain.OutcomeUpdated, nil
		case errors.Is(err, ErrDuplicateCycle):
			ObservationsTotal.WithLabelValues("duplicate").Inc()
			logger.Debug("observation cycle already folded", "entity", key.String(), "window_start", o.WindowStart)
			return domain.OutcomeUnchanged, nil
		case errors.Is(err, ErrVersionConflict):
			continue
		default:
			return domain.OutcomeError, fmt.Errorf("persist folded cycle: %w", err)
		}
	}
	return domain.OutcomeError, ErrVersionConflict
}

func (s *Service) optimizeLocked(ctx context.Context, key domain.EntityKey, runID string, cfg Config, res EntityResult) (EntityResult, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		state, err := s.stateRepo.GetState(ctx, key)
		if err != nil {
			res.Outcome = domain.OutcomeError
			return res, fmt.Errorf("load bid state: %w", err)
		}
		if state == nil {
			res.Outcome = domain.OutcomeInsufficientData
			return res, nil
		}

		applyConfidence(state, cfg)

		if !state.OptimizationEnabled {
			res.Outcome = domain.OutcomeDisabled
			return res, s.saveQuiet(ctx, state)
		}
		ok, err := s.eligChecker.IsEligible(ctx, state)
		if err != nil {
			logger.Warn("eligibility check failed", "entity", key.String(), "error", err)
		}
		if err != nil || !ok {
			res.Outcome = domain.OutcomeDisabled
			return res, s.saveQuiet(ctx, state)
		}
		if !HasSufficientData(state, cfg) {
			res.Outcome = domain.OutcomeInsufficientData
			return res, s.saveQuiet(ctx, state)
		}

		fit, err := s.fitCurve(ctx, state, cfg)
		if err != nil {
			res.FitErr = err
		}

		sel := s.selector.Select(state, fit, cfg)
		now := s.now()
		previous := state.CurrentBidMicros

		state.RecommendedBidMicros = sel.RecommendedMicros
		state.ConfidenceIntervalLowerMicros = sel.IntervalLowerMicros
		state.ConfidenceIntervalUpperMicros = sel.IntervalUpperMicros
		state.LastOptimizedAt = &now

		err = s.stateRepo.SaveState(ctx, state)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			res.Outcome = domain.OutcomeError
			return res, fmt.Errorf("save recommendation: %w", err)
		}

		res.Selection = &sel
		SelectionsTotal.WithLabelValues(string(state.ConfidenceLevel)).Inc()

		if sel.RecommendedMicros == previous {
			if res.Outcome != domain.OutcomeUpdated {
				res.Outcome = domain.OutcomeUnchanged
			}
			return res, nil
		}

		res.Outcome = domain.OutcomeUpdated
		res.Change = &domain.BidChange{
			RunID:                runID,
			EntityID:             state.EntityID,
			EntityType:           state.EntityType,
			PreviousBidMicros:    previous,
			RecommendedBidMicros: sel.RecommendedMicros,
			RecommendedBid:       micros.Format(sel.RecommendedMicros),
			ConfidenceLevel:      sel.ConfidenceLevel,
			ConfidencePct:        sel.ConfidencePct,
		}
		BidChangesTotal.Inc()

		logger.Debug("bid_recommendation",
			"trace_id", TraceIDFromContext(ctx),
			"run_id", runID,
			"entity", key.String(),
			"previous", micros.Format(previous),
			"recommended", micros.Format(sel.RecommendedMicros),
			"confidence", sel.ConfidenceLevel,
			"curve_weight", sel.CurveWeight,
		)
		return res, nil
	}

	res.Outcome = domain.OutcomeError
	return res, ErrVersionConflict
}

// saveQuiet persists refreshed confidence fields. A conflict is harmless here:
// the winner recomputed the same derived values.
func (s *Service) saveQuiet(ctx context.Context, state *domain.BidState) error {
	if err := s.stateRepo.SaveState(ctx, state); err != nil && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("save confidence: %w", err)
	}
	return nil
}

// fitCurve fits and stores the curve. Fit failures are returned for logging
// but the returned result is always usable by the selector.
func (s *Service) fitCurve(ctx context.Context, state *domain.BidState, cfg Config) (*domain.CurveFitResult, error) {
	history, err := s.stateRepo.History(ctx, state.ID, cfg.MaxHistoryPoints)
	if err != nil {
		return nil, fmt.Errorf("load bid history: %w", err)
	}
	history = capHistory(history, cfg.MaxHistoryPoints)

	fit, fitErr := FitBidCurve(history, state.AverageOrderValueMicros(), cfg, s.now())
	fit.BidStateID = state.ID
	CurveFitsTotal.WithLabelValues(string(fit.Status)).Inc()
	if fitErr != nil {
		logger.Info("curve fit not usable",
			"entity", state.Key().String(),
			"status", fit.Status,
			"bid_levels", fit.BidLevels,
			"error", fitErr,
		)
	}

	if err := s.fitRepo.SaveFit(ctx, &fit); err != nil {
		logger.Error("failed to save curve fit", "entity", state.Key().String(), "error", err)
	}
	return &fit, fitErr
}

// ---- Read side ----

func (s *Service) Entity(ctx context.Context, key domain.EntityKey) (*domain.EntityView, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}
	state, err := s.stateRepo.GetState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load bid state: %w", err)
	}
	if state == nil {
		return nil, ErrStateNotFound
	}
	fit, err := s.fitRepo.GetFit(ctx, state.ID)
	if err != nil {
		return nil, fmt.Errorf("load curve fit: %w", err)
	}
	cfg := s.cfgLoader.Load(ctx, key.ProfileID)

	return &domain.EntityView{
		State:        *state,
		CurveFit:     fit,
		DisplayLabel: DisplayLabel(state, fit, cfg),
		CurrentBid:   micros.Format(state.CurrentBidMicros),
		Recommended:  micros.Format(state.RecommendedBidMicros),
	}, nil
}

// ModelAccuracy aggregates curve-fit diagnostics for enabled entities.
func (s *Service) ModelAccuracy(ctx context.Context, profileID string) (domain.ModelAccuracy, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelAccuracy{}, fmt.Errorf("context error: %w", err)
	}
	states, err := s.stateRepo.ListStates(ctx, profileID)
	if err != nil {
		return domain.ModelAccuracy{}, fmt.Errorf("list bid states: %w", err)
	}
	fits, err := s.fitRepo.ListFits(ctx, profileID)
	if err != nil {
		return domain.ModelAccuracy{}, fmt.Errorf("list curve fits: %w", err)
	}

	enabled := make(map[uint64]bool, len(states))
	for i := range states {
		if states[i].OptimizationEnabled {
			enabled[states[i].ID] = true
		}
	}
	eligible := make([]domain.CurveFitResult, 0, len(fits))
	for _, f := range fits {
		if enabled[f.BidStateID] {
			eligible = append(eligible, f)
		}
	}
	return SummarizeFits(eligible, len(enabled)), nil
}

// SetEnablement turns optimization on or off. Enabling an unknown entity
// creates its state; history is never deleted.
func (s *Service) SetEnablement(ctx context.Context, key domain.EntityKey, campaignID string, enabled bool) (*domain.BidState, error) {
	if !key.EntityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", key.EntityType)
	}
	cfg := s.cfgLoader.Load(ctx, key.ProfileID)

	lease, err := s.locker.Acquire(ctx, key.String(), cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseEntity(ctx, key, lease)

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		state, err := s.stateRepo.GetState(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load bid state: %w", err)
		}
		if state == nil {
			if !enabled {
				return nil, ErrStateNotFound
			}
			state = NewBidState(key, campaignID, cfg.PriorFor(key.EntityType))
			if err := s.stateRepo.CreateState(ctx, state); err != nil {
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				return nil, fmt.Errorf("create bid state: %w", err)
			}
			return state, nil
		}

		state.OptimizationEnabled = enabled
		err = s.stateRepo.SaveState(ctx, state)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save enablement: %w", err)
		}
		logger.Info("optimization enablement changed", "entity", key.String(), "enabled", enabled)
		return state, nil
	}
	return nil, ErrVersionConflict
}

// ClaimCooldown is the durable compare-and-swap behind the real-time trigger.
func (s *Service) ClaimCooldown(ctx context.Context, state *domain.BidState, cooldown time.Duration) (bool, error) {
	return s.stateRepo.ClaimCooldown(ctx, state.ID, s.now(), cooldown)
}

func (s *Service) State(ctx context.Context, key domain.EntityKey) (*domain.BidState, error) {
	return s.stateRepo.GetState(ctx, key)
}

func (s *Service) States(ctx context.Context, profileID string) ([]domain.BidState, error) {
	return s.stateRepo.ListStates(ctx, profileID)
}

func (s *Service) Profiles(ctx context.Context) ([]string, error) {
	return s.stateRepo.ListProfiles(ctx)
}

func (s *Service) Fits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error) {
	return s.fitRepo.ListFits(ctx, profileID)
}

func (s *Service) Now() time.Time {
	return s.now()
}
