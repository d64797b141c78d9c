//go:build !integration

package optimizer

import (
	"context"
	"sort"
	"sync"
	"time"

	"adsOptimizer/domain"
)

// memStateRepo mirrors the version and uniqueness rules of the postgres repo.
type memStateRepo struct {
	mu     sync.Mutex
	nextID uint64
	states map[domain.EntityKey]*domain.BidState
	cycles map[uint64]map[time.Time]domain.BidObservation

	// conflicts makes the next N SaveState calls lose the version race
	conflicts int
	saves     int
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{
		states: make(map[domain.EntityKey]*domain.BidState),
		cycles: make(map[uint64]map[time.Time]domain.BidObservation),
	}
}

func (r *memStateRepo) GetState(ctx context.Context, key domain.EntityKey) (*domain.BidState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memStateRepo) ListStates(ctx context.Context, profileID string) ([]domain.BidState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BidState
	for _, s := range r.states {
		if s.ProfileID == profileID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (r *memStateRepo) ListProfiles(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range r.states {
		if !seen[s.ProfileID] {
			seen[s.ProfileID] = true
			out = append(out, s.ProfileID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memStateRepo) CreateState(ctx context.Context, state *domain.BidState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(state)
}

func (r *memStateRepo) createLocked(state *domain.BidState) error {
	if _, ok := r.states[state.Key()]; ok {
		return ErrVersionConflict
	}
	r.nextID++
	state.ID = r.nextID
	cp := *state
	r.states[state.Key()] = &cp
	return nil
}

func (r *memStateRepo) FoldCycle(ctx context.Context, state *domain.BidState, obs *domain.BidObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state.ID != 0 {
		if _, dup := r.cycles[state.ID][obs.WindowStart]; dup {
			return ErrDuplicateCycle
		}
		if err := r.updateLocked(state); err != nil {
			return err
		}
	} else if err := r.createLocked(state); err != nil {
		return err
	}

	obs.BidStateID = state.ID
	if r.cycles[state.ID] == nil {
		r.cycles[state.ID] = make(map[time.Time]domain.BidObservation)
	}
	r.cycles[state.ID][obs.WindowStart] = *obs
	return nil
}

func (r *memStateRepo) SaveState(ctx context.Context, state *domain.BidState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		// someone else bumped the row
		r.states[state.Key()].Version++
		return ErrVersionConflict
	}
	return r.updateLocked(state)
}

func (r *memStateRepo) updateLocked(state *domain.BidState) error {
	cur, ok := r.states[state.Key()]
	if !ok || cur.Version != state.Version {
		return ErrVersionConflict
	}
	state.Version++
	cp := *state
	r.states[state.Key()] = &cp
	return nil
}

func (r *memStateRepo) ClaimCooldown(ctx context.Context, stateID uint64, now time.Time, cooldown time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s.ID != stateID {
			continue
		}
		if s.LastOptimizedAt != nil && s.LastOptimizedAt.After(now.Add(-cooldown)) {
			return false, nil
		}
		t := now
		s.LastOptimizedAt = &t
		s.Version++
		return true, nil
	}
	return false, nil
}

func (r *memStateRepo) History(ctx context.Context, stateID uint64, limit int) ([]domain.BidObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BidObservation
	for _, o := range r.cycles[stateID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.After(out[j].WindowStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memFitRepo struct {
	mu   sync.Mutex
	fits map[uint64]domain.CurveFitResult
}

func newMemFitRepo() *memFitRepo {
	return &memFitRepo{fits: make(map[uint64]domain.CurveFitResult)}
}

func (r *memFitRepo) GetFit(ctx context.Context, stateID uint64) (*domain.CurveFitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fits[stateID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *memFitRepo) SaveFit(ctx context.Context, fit *domain.CurveFitResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits[fit.BidStateID] = *fit
	return nil
}

func (r *memFitRepo) ListFits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CurveFitResult
	for _, f := range r.fits {
		out = append(out, f)
	}
	return out, nil
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	extends  int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLeaseHeld
	}
	l.held[key] = true
	l.acquires++
	return &memLease{l: l, key: key}, nil
}

type memLease struct {
	l   *memLocker
	key string
}

func (m *memLease) Release(ctx context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	delete(m.l.held, m.key)
	return nil
}

func (m *memLease) Extend(ctx context.Context, ttl time.Duration) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if !m.l.held[m.key] {
		return ErrLeaseHeld
	}
	m.l.extends++
	return nil
}

type staticConfigRepo struct {
	row domain.OptimizerConfig
	ok  bool
	err error
}

func (r staticConfigRepo) GetConfig(ctx context.Context, profileID string) (domain.OptimizerConfig, bool, error) {
	return r.row, r.ok, r.err
}

func (r staticConfigRepo) UpsertConfig(ctx context.Context, cfg domain.OptimizerConfig) error {
	return nil
}

type denyEligibility struct{}

func (denyEligibility) IsEligible(ctx context.Context, state *domain.BidState) (bool, error) {
	return false, nil
}
