package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/business/portfolio"
	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
)

var (
	ErrInvalidTransition = errors.New("invalid run status transition")
	ErrRunFailure        = errors.New("optimizer run failed")
	ErrEntityDisabled    = errors.New("optimization disabled for entity")
)

const (
	defaultLookback = 72 * time.Hour
	defaultWorkers  = 4
)

type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.OptimizerRun) error
	// UpdateRun persists the run only if the stored status is still from.
	UpdateRun(ctx context.Context, run *domain.OptimizerRun, from domain.RunStatus) error
	ListRuns(ctx context.Context, profileID string, limit int) ([]domain.OptimizerRun, error)
	HasCompletedRun(ctx context.Context, profileID string) (bool, error)
	BidsChangedSince(ctx context.Context, profileID string, since time.Time) (int, error)
}

// Ledger reads aggregation cycles from the performance ledger.
type Ledger interface {
	Snapshot(ctx context.Context, profileID string, since time.Time) (domain.LedgerSnapshot, error)
	EntitySnapshot(ctx context.Context, key domain.EntityKey, since time.Time) (domain.LedgerSnapshot, error)
	// ActiveProfiles lists profiles with ledger cycles starting at or after since.
	ActiveProfiles(ctx context.Context, since time.Time) ([]string, error)
}

type Options struct {
	Lookback time.Duration
	Workers  int
}

type Controller struct {
	opt       *optimizer.Service
	portfolio *portfolio.Service
	runs      RunRepository
	ledger    Ledger
	lookback  time.Duration
	workers   int
}

func New(opt *optimizer.Service, pf *portfolio.Service, runs RunRepository, ledger Ledger, o Options) *Controller {
	if o.Lookback <= 0 {
		o.Lookback = defaultLookback
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	return &Controller{
		opt:       opt,
		portfolio: pf,
		runs:      runs,
		ledger:    ledger,
		lookback:  o.Lookback,
		workers:   o.Workers,
	}
}

// transition moves a run through the lifecycle and persists it.
func (c *Controller) transition(ctx context.Context, run *domain.OptimizerRun, to domain.RunStatus) error {
	from := run.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	run.Status = to
	if to.Terminal() {
		now := c.opt.Now()
		run.CompletedAt = &now
	}
	if err := c.runs.UpdateRun(ctx, run, from); err != nil {
		run.Status = from
		return fmt.Errorf("persist run %s: %w", run.ID, err)
	}
	return nil
}

func (c *Controller) newRun(profileID string, kind domain.RunKind) *domain.OptimizerRun {
	return &domain.OptimizerRun{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Kind:      kind,
		Status:    domain.RunPending,
		StartedAt: c.opt.Now(),
		Outcomes:  datatypes.JSONMap{},
	}
}

// fail marks the run failed with a detached context so cancellation of the
// caller never leaves a run stuck in running.
func (c *Controller) fail(ctx context.Context, run *domain.OptimizerRun, cause error) {
	run.Error = cause.Error()
	if err := c.transition(context.WithoutCancel(ctx), run, domain.RunFailed); err != nil {
		logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}
	RunsTotal.WithLabelValues(string(run.Kind), string(domain.RunFailed)).Inc()
	logger.Error("optimizer run failed",
		"run_id", run.ID,
		"profile_id", run.ProfileID,
		"kind", run.Kind,
		"error", cause,
	)
}

// RunBatch optimizes every entity of a profile and then the portfolio.
func (c *Controller) RunBatch(ctx context.Context, profileID string) (*domain.RunReport, error) {
	run := c.newRun(profileID, domain.RunKindBatch)
	ctx = optimizer.WithTraceID(ctx, run.ID)
	start := time.Now()
	defer func() { RunDuration.WithLabelValues(string(run.Kind)).Observe(time.Since(start).Seconds()) }()

	if err := c.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger.Info("optimizer run started", "run_id", run.ID, "profile_id", profileID, "kind", run.Kind)

	if err := c.transition(ctx, run, domain.RunRunning); err != nil {
		c.fail(ctx, run, err)
		return &domain.RunReport{Run: *run}, fmt.Errorf("%w: %v", ErrRunFailure, err)
	}

	snapshot, err := c.ledger.Snapshot(ctx, profileID, c.opt.Now().Add(-c.lookback))
	if err != nil {
		c.fail(ctx, run, err)
		return &domain.RunReport{Run: *run}, fmt.Errorf("%w: read ledger: %v", ErrRunFailure, err)
	}
	if snapshot.Source != domain.SourceReal {
		// nothing from a non-real snapshot may reach the posterior
		logger.Warn("ledger snapshot is not real data, skipping ingestion",
			"run_id", run.ID, "profile_id", profileID, "source", snapshot.Source)
		snapshot.Observations = nil
	}

	work, err := c.planEntities(ctx, profileID, snapshot.Observations)
	if err != nil {
		c.fail(ctx, run, err)
		return &domain.RunReport{Run: *run}, fmt.Errorf("%w: %v", ErrRunFailure, err)
	}

	results, cancelled := c.processAll(ctx, run.ID, work)

	report := &domain.RunReport{BidChanges: make([]domain.BidChange, 0)}
	outcomes := map[domain.EntityOutcome]int{}
	errored := 0
	for _, r := range results {
		outcomes[r.Outcome]++
		if r.Outcome == domain.OutcomeError {
			errored++
		}
		if r.Change != nil {
			report.BidChanges = append(report.BidChanges, *r.Change)
		}
	}
	sort.Slice(report.BidChanges, func(i, j int) bool {
		a, b := report.BidChanges[i], report.BidChanges[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID < b.EntityID
	})

	run.EntitiesConsidered = len(results)
	run.BidsChanged = len(report.BidChanges)
	for k, v := range outcomes {
		run.Outcomes[string(k)] = v
	}

	switch {
	case cancelled:
		c.fail(ctx, run, fmt.Errorf("run cancelled: %w", ctx.Err()))
	case run.EntitiesConsidered > 0 && 2*errored > run.EntitiesConsidered:
		c.fail(ctx, run, fmt.Errorf("%d of %d entities errored", errored, run.EntitiesConsidered))
	default:
		cfg := c.opt.Config(ctx, profileID)
		plan, err := c.portfolio.Optimize(ctx, profileID, run.ID, portfolio.ParamsFrom(cfg), c.opt.Now())
		if err != nil {
			c.fail(ctx, run, fmt.Errorf("portfolio: %w", err))
			break
		}
		report.Reallocations = plan.Opportunities
		score := plan.EfficiencyScore
		report.Efficiency = &score

		if err := c.transition(ctx, run, domain.RunCompleted); err != nil {
			c.fail(ctx, run, err)
			break
		}
		RunsTotal.WithLabelValues(string(run.Kind), string(domain.RunCompleted)).Inc()
		logger.Info("optimizer run completed",
			"run_id", run.ID,
			"profile_id", profileID,
			"entities", run.EntitiesConsidered,
			"bids_changed", run.BidsChanged,
			"errored", errored,
		)
	}

	report.Run = *run
	if run.Status == domain.RunFailed {
		return report, fmt.Errorf("%w: %s", ErrRunFailure, run.Error)
	}
	return report, nil
}

type entityWork struct {
	key domain.EntityKey
	obs []domain.Observation
}

// planEntities groups ledger cycles by entity and adds every known entity
// without new cycles so each one is re-optimized.
func (c *Controller) planEntities(ctx context.Context, profileID string, obs []domain.Observation) ([]entityWork, error) {
	byKey := make(map[domain.EntityKey][]domain.Observation)
	for _, o := range obs {
		if o.ProfileID != profileID {
			continue
		}
		byKey[o.Key()] = append(byKey[o.Key()], o)
	}

	states, err := c.opt.States(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list bid states: %w", err)
	}
	for i := range states {
		k := states[i].Key()
		if _, ok := byKey[k]; !ok {
			byKey[k] = nil
		}
	}

	work := make([]entityWork, 0, len(byKey))
	for k, o := range byKey {
		sort.Slice(o, func(i, j int) bool { return o[i].WindowStart.Before(o[j].WindowStart) })
		work = append(work, entityWork{key: k, obs: o})
	}
	sort.Slice(work, func(i, j int) bool { return work[i].key.String() < work[j].key.String() })
	return work, nil
}

// processAll runs entities on a bounded pool. Cancellation is only checked
// before an entity starts; a started entity always finishes its cycle.
func (c *Controller) processAll(ctx context.Context, runID string, work []entityWork) ([]optimizer.EntityResult, bool) {
	var (
		mu        sync.Mutex
		results   = make([]optimizer.EntityResult, 0, len(work))
		cancelled bool
	)

	entityCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, w := range work {
		if ctx.Err() != nil {
			mu.Lock()
			cancelled = true
			mu.Unlock()
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				cancelled = true
				mu.Unlock()
				return nil
			}
			res, err := c.opt.ProcessEntity(entityCtx, w.key, w.obs, runID, true)
			if err != nil && !errors.Is(err, optimizer.ErrLeaseHeld) {
				logger.Error("entity optimization failed",
					"run_id", runID,
					"entity", w.key.String(),
					"error", err,
				)
			}
			if errors.Is(err, optimizer.ErrLeaseHeld) {
				logger.Info("entity busy, skipped this run", "run_id", runID, "entity", w.key.String())
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return results, cancelled
}

// TriggerEntity is the real-time path for a single entity. Inside the
// cool-down window it returns *optimizer.RateLimitedError and leaves the
// state untouched.
func (c *Controller) TriggerEntity(ctx context.Context, key domain.EntityKey) (*domain.RunReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}
	cfg := c.opt.Config(ctx, key.ProfileID)

	state, err := c.opt.State(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load bid state: %w", err)
	}
	if state == nil {
		return nil, optimizer.ErrStateNotFound
	}

	if !state.OptimizationEnabled {
		return nil, ErrEntityDisabled
	}

	now := c.opt.Now()
	if state.LastOptimizedAt != nil {
		if elapsed := now.Sub(*state.LastOptimizedAt); elapsed < cfg.Cooldown {
			return nil, &optimizer.RateLimitedError{Remaining: cfg.Cooldown - elapsed}
		}
	}
	if !optimizer.HasSufficientData(state, cfg) {
		return nil, fmt.Errorf("%w: %d observations, %d impressions",
			optimizer.ErrInsufficientData, state.ObservationsCount, state.TotalImpressions)
	}

	// the lease is held across the claim so a busy entity is never put into
	// cool-down without a new bid
	lease, err := c.opt.LockEntity(ctx, key)
	if err != nil {
		return nil, err
	}
	defer c.opt.ReleaseEntity(ctx, key, lease)

	won, err := c.opt.ClaimCooldown(ctx, state, cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("claim cool-down: %w", err)
	}
	if !won {
		// someone else claimed between our read and the swap
		return nil, &optimizer.RateLimitedError{Remaining: cfg.Cooldown}
	}

	run := c.newRun(key.ProfileID, domain.RunKindRealtime)
	ctx = optimizer.WithTraceID(ctx, run.ID)
	start := time.Now()
	defer func() { RunDuration.WithLabelValues(string(run.Kind)).Observe(time.Since(start).Seconds()) }()

	if err := c.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := c.transition(ctx, run, domain.RunRunning); err != nil {
		c.fail(ctx, run, err)
		return &domain.RunReport{Run: *run}, fmt.Errorf("%w: %v", ErrRunFailure, err)
	}

	var pending []domain.Observation
	snap, err := c.ledger.EntitySnapshot(ctx, key, now.Add(-c.lookback))
	switch {
	case err != nil:
		logger.Warn("ledger read failed, optimizing on stored state", "entity", key.String(), "error", err)
	case snap.Source != domain.SourceReal:
		logger.Warn("ledger snapshot is not real data, skipping ingestion", "entity", key.String(), "source", snap.Source)
	default:
		pending = snap.Observations
	}

	res, err := c.opt.ProcessHeld(context.WithoutCancel(ctx), lease, key, pending, run.ID, true)
	run.EntitiesConsidered = 1
	run.Outcomes[string(res.Outcome)] = 1
	report := &domain.RunReport{BidChanges: make([]domain.BidChange, 0, 1)}
	if res.Change != nil {
		report.BidChanges = append(report.BidChanges, *res.Change)
		run.BidsChanged = 1
	}

	if err != nil {
		c.fail(ctx, run, err)
		report.Run = *run
		return report, fmt.Errorf("%w: %v", ErrRunFailure, err)
	}
	if err := c.transition(ctx, run, domain.RunCompleted); err != nil {
		c.fail(ctx, run, err)
		report.Run = *run
		return report, fmt.Errorf("%w: %v", ErrRunFailure, err)
	}
	RunsTotal.WithLabelValues(string(run.Kind), string(domain.RunCompleted)).Inc()

	logger.Info("real-time optimization completed",
		"run_id", run.ID,
		"entity", key.String(),
		"outcome", res.Outcome,
	)
	report.Run = *run
	return report, nil
}

// Profiles lists every profile a scheduled batch should visit: those with
// bid states plus those whose first cycles only exist in the ledger.
func (c *Controller) Profiles(ctx context.Context) ([]string, error) {
	known, err := c.opt.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	active, err := c.ledger.ActiveProfiles(ctx, c.opt.Now().Add(-c.lookback))
	if err != nil {
		return nil, fmt.Errorf("list ledger profiles: %w", err)
	}

	seen := make(map[string]bool, len(known)+len(active))
	out := make([]string, 0, len(known)+len(active))
	for _, ids := range [][]string{known, active} {
		for _, p := range ids {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Controller) ListRuns(ctx context.Context, profileID string, limit int) ([]domain.OptimizerRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return c.runs.ListRuns(ctx, profileID, limit)
}
