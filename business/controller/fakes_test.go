//go:build !integration

package controller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/business/portfolio"
	"adsOptimizer/domain"
)

var errStoreDown = errors.New("store unreachable")

type memStates struct {
	mu       sync.Mutex
	nextID   uint64
	states   map[domain.EntityKey]*domain.BidState
	cycles   map[uint64]map[time.Time]domain.BidObservation
	failFold map[string]bool
	// onGet runs before every GetState, outside the lock
	onGet func()
}

func newMemStates() *memStates {
	return &memStates{
		states:   make(map[domain.EntityKey]*domain.BidState),
		cycles:   make(map[uint64]map[time.Time]domain.BidObservation),
		failFold: make(map[string]bool),
	}
}

func (r *memStates) put(s domain.BidState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.states[s.Key()] = &s
}

func (r *memStates) get(key domain.EntityKey) domain.BidState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.states[key]
}

func (r *memStates) GetState(ctx context.Context, key domain.EntityKey) (*domain.BidState, error) {
	if r.onGet != nil {
		r.onGet()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memStates) ListStates(ctx context.Context, profileID string) ([]domain.BidState, error) {
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

func (r *memStates) ListProfiles(ctx context.Context) ([]string, error) {
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

func (r *memStates) CreateState(ctx context.Context, state *domain.BidState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[state.Key()]; ok {
		return optimizer.ErrVersionConflict
	}
	r.nextID++
	state.ID = r.nextID
	cp := *state
	r.states[state.Key()] = &cp
	return nil
}

func (r *memStates) FoldCycle(ctx context.Context, state *domain.BidState, obs *domain.BidObservation) error {
	if r.failFold[state.EntityID] {
		return errStoreDown
	}
	if state.ID == 0 {
		if err := r.CreateState(ctx, state); err != nil {
			return err
		}
	} else {
		r.mu.Lock()
		_, dup := r.cycles[state.ID][obs.WindowStart]
		r.mu.Unlock()
		if dup {
			return optimizer.ErrDuplicateCycle
		}
		if err := r.SaveState(ctx, state); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cycles[state.ID] == nil {
		r.cycles[state.ID] = make(map[time.Time]domain.BidObservation)
	}
	obs.BidStateID = state.ID
	r.cycles[state.ID][obs.WindowStart] = *obs
	return nil
}

func (r *memStates) SaveState(ctx context.Context, state *domain.BidState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.states[state.Key()]
	if !ok || cur.Version != state.Version {
		return optimizer.ErrVersionConflict
	}
	state.Version++
	cp := *state
	r.states[state.Key()] = &cp
	return nil
}

func (r *memStates) ClaimCooldown(ctx context.Context, stateID uint64, now time.Time, cooldown time.Duration) (bool, error) {
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

func (r *memStates) History(ctx context.Context, stateID uint64, limit int) ([]domain.BidObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BidObservation
	for _, o := range r.cycles[stateID] {
		out = append(out, o)
	}
	return out, nil
}

type memFits struct {
	mu   sync.Mutex
	fits map[uint64]domain.CurveFitResult
}

func (r *memFits) GetFit(ctx context.Context, stateID uint64) (*domain.CurveFitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fits[stateID]; ok {
		return &f, nil
	}
	return nil, nil
}

func (r *memFits) SaveFit(ctx context.Context, fit *domain.CurveFitResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits[fit.BidStateID] = *fit
	return nil
}

func (r *memFits) ListFits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CurveFitResult, 0, len(r.fits))
	for _, f := range r.fits {
		out = append(out, f)
	}
	return out, nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (optimizer.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, optimizer.ErrLeaseHeld
	}
	l.held[key] = true
	return &memLease{l: l, key: key}, nil
}

// hold simulates another worker owning the entity.
func (l *memLocker) hold(k domain.EntityKey, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[k.String()] = held
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
		return optimizer.ErrLeaseHeld
	}
	return nil
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.OptimizerRun
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]domain.OptimizerRun)}
}

func (r *memRuns) CreateRun(ctx context.Context, run *domain.OptimizerRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) UpdateRun(ctx context.Context, run *domain.OptimizerRun, from domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.runs[run.ID]
	if !ok || cur.Status != from {
		return ErrInvalidTransition
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) ListRuns(ctx context.Context, profileID string, limit int) ([]domain.OptimizerRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OptimizerRun
	for _, run := range r.runs {
		if run.ProfileID == profileID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRuns) HasCompletedRun(ctx context.Context, profileID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.ProfileID == profileID && run.Status == domain.RunCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRuns) BidsChangedSince(ctx context.Context, profileID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, run := range r.runs {
		if run.ProfileID == profileID && run.Status == domain.RunCompleted && !run.StartedAt.Before(since) {
			total += run.BidsChanged
		}
	}
	return total, nil
}

func (r *memRuns) byStatus(status domain.RunStatus) []domain.OptimizerRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OptimizerRun
	for _, run := range r.runs {
		if run.Status == status {
			out = append(out, run)
		}
	}
	return out
}

type memLedger struct {
	snapshot domain.LedgerSnapshot
	err      error
}

func (l *memLedger) Snapshot(ctx context.Context, profileID string, since time.Time) (domain.LedgerSnapshot, error) {
	if l.err != nil {
		return domain.LedgerSnapshot{}, l.err
	}
	out := domain.LedgerSnapshot{Source: l.snapshot.Source}
	for _, o := range l.snapshot.Observations {
		if o.ProfileID == profileID {
			out.Observations = append(out.Observations, o)
		}
	}
	return out, nil
}

func (l *memLedger) ActiveProfiles(ctx context.Context, since time.Time) ([]string, error) {
	if l.err != nil {
		return nil, l.err
	}
	seen := map[string]bool{}
	var out []string
	for _, o := range l.snapshot.Observations {
		if o.WindowStart.Before(since) || seen[o.ProfileID] {
			continue
		}
		seen[o.ProfileID] = true
		out = append(out, o.ProfileID)
	}
	sort.Strings(out)
	return out, nil
}

func (l *memLedger) EntitySnapshot(ctx context.Context, key domain.EntityKey, since time.Time) (domain.LedgerSnapshot, error) {
	if l.err != nil {
		return domain.LedgerSnapshot{}, l.err
	}
	out := domain.LedgerSnapshot{Source: l.snapshot.Source}
	for _, o := range l.snapshot.Observations {
		if o.Key() == key {
			out.Observations = append(out.Observations, o)
		}
	}
	return out, nil
}

func (l *memLedger) CampaignSpend(ctx context.Context, profileID string, from, to time.Time) ([]domain.CampaignSpend, error) {
	byCampaign := map[string]*domain.CampaignSpend{}
	var ids []string
	for _, o := range l.snapshot.Observations {
		if o.ProfileID != profileID || o.WindowStart.Before(from) || !o.WindowStart.Before(to) {
			continue
		}
		cs, ok := byCampaign[o.CampaignID]
		if !ok {
			cs = &domain.CampaignSpend{CampaignID: o.CampaignID}
			byCampaign[o.CampaignID] = cs
			ids = append(ids, o.CampaignID)
		}
		cs.SpendMicros += o.SpendMicros
		cs.SalesMicros += o.SalesMicros
	}
	sort.Strings(ids)
	out := make([]domain.CampaignSpend, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byCampaign[id])
	}
	return out, nil
}

type memCurves struct {
	mu     sync.Mutex
	curves []domain.PortfolioMarginalCurve
}

func (m *memCurves) ReplaceCurves(ctx context.Context, profileID string, curves []domain.PortfolioMarginalCurve) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curves = curves
	return nil
}

func (m *memCurves) ListCurves(ctx context.Context, profileID string) ([]domain.PortfolioMarginalCurve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curves, nil
}

type fixture struct {
	ctrl   *Controller
	svc    *optimizer.Service
	states *memStates
	runs   *memRuns
	ledger *memLedger
	locker *memLocker
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		states: newMemStates(),
		runs:   newMemRuns(),
		ledger: &memLedger{snapshot: domain.LedgerSnapshot{Source: domain.SourceReal}},
		locker: newMemLocker(),
		now:    time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = optimizer.NewService(
		f.states,
		&memFits{fits: map[uint64]domain.CurveFitResult{}},
		f.locker,
		optimizer.NewConfigLoader(nil, optimizer.DefaultConfig()),
		optimizer.NewSelector(optimizer.MeanSampler{}),
		nil,
	).WithClock(func() time.Time { return f.now })
	pf := portfolio.NewService(f.ledger, f.svc, &memCurves{})
	f.ctrl = New(f.svc, pf, f.runs, f.ledger, Options{Workers: 2})
	return f
}

func key(id string) domain.EntityKey {
	return domain.EntityKey{ProfileID: "P1", EntityType: domain.EntityKeyword, EntityID: id}
}

// matureState has enough evidence for a bid change and no cool-down.
func matureState(id string) domain.BidState {
	return domain.BidState{
		ProfileID:           "P1",
		EntityType:          domain.EntityKeyword,
		EntityID:            id,
		CampaignID:          "C1",
		Alpha:               15,
		Beta:                127,
		PriorAlpha:          1,
		PriorBeta:           1,
		ObservationsCount:   7,
		TotalImpressions:    1400,
		TotalClicks:         140,
		TotalConversions:    14,
		TotalSpendMicros:    70_000_000,
		TotalSalesMicros:    700_000_000,
		OptimizationEnabled: true,
		CurrentBidMicros:    800_000,
		ConfidenceLevel:     domain.ConfidenceLow,
	}
}

// cycles returns n daily ledger rows for an entity ending before now.
func cycles(id string, now time.Time, n int) []domain.Observation {
	out := make([]domain.Observation, n)
	for i := range out {
		start := now.Add(-time.Duration(n-i) * 24 * time.Hour)
		out[i] = domain.Observation{
			ProfileID:   "P1",
			EntityType:  domain.EntityKeyword,
			EntityID:    id,
			CampaignID:  "C1",
			WindowStart: start,
			WindowEnd:   start.Add(24 * time.Hour),
			Impressions: 200,
			Clicks:      20,
			Conversions: 2,
			SpendMicros: 10_000_000,
			SalesMicros: 100_000_000,
			BidMicros:   800_000,
			Source:      domain.SourceReal,
		}
	}
	return out
}
