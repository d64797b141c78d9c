package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
)

// SpendLedger rolls ledger rows up to campaign spend over [from, to).
type SpendLedger interface {
	CampaignSpend(ctx context.Context, profileID string, from, to time.Time) ([]domain.CampaignSpend, error)
}

// EntitySource exposes entity states and their curve fits.
type EntitySource interface {
	States(ctx context.Context, profileID string) ([]domain.BidState, error)
	Fits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error)
}

type CurveRepository interface {
	// ReplaceCurves upserts one row per campaign; the newest run wins.
	ReplaceCurves(ctx context.Context, profileID string, curves []domain.PortfolioMarginalCurve) error
	ListCurves(ctx context.Context, profileID string) ([]domain.PortfolioMarginalCurve, error)
}

type Service struct {
	ledger   SpendLedger
	entities EntitySource
	repo     CurveRepository
}

func NewService(ledger SpendLedger, entities EntitySource, repo CurveRepository) *Service {
	return &Service{ledger: ledger, entities: entities, repo: repo}
}

// Optimize computes and stores the reallocation plan for a profile.
func (s *Service) Optimize(ctx context.Context, profileID, runID string, p Params, now time.Time) (*domain.PortfolioPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}
	window := p.Window
	if window <= 0 {
		window = defaultWindow
	}

	current, err := s.ledger.CampaignSpend(ctx, profileID, now.Add(-window), now)
	if err != nil {
		return nil, fmt.Errorf("load current campaign spend: %w", err)
	}
	previous, err := s.ledger.CampaignSpend(ctx, profileID, now.Add(-2*window), now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("load previous campaign spend: %w", err)
	}

	inputs, err := s.buildInputs(ctx, profileID, current, previous)
	if err != nil {
		return nil, err
	}

	plan := Compute(inputs, p, now)
	plan.RunID = runID
	for i := range plan.Curves {
		plan.Curves[i].ProfileID = profileID
		plan.Curves[i].RunID = runID
	}

	if len(plan.Curves) > 0 {
		if err := s.repo.ReplaceCurves(ctx, profileID, plan.Curves); err != nil {
			return nil, fmt.Errorf("save marginal curves: %w", err)
		}
	}

	logger.Info("portfolio optimized",
		"profile_id", profileID,
		"run_id", runID,
		"method", plan.Method,
		"campaigns", len(plan.Curves),
		"efficiency_score", plan.EfficiencyScore,
	)
	return &plan, nil
}

func (s *Service) buildInputs(ctx context.Context, profileID string, current, previous []domain.CampaignSpend) ([]CampaignInput, error) {
	states, err := s.entities.States(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list bid states: %w", err)
	}
	fits, err := s.entities.Fits(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list curve fits: %w", err)
	}

	fitByState := make(map[uint64]*domain.CurveFitResult, len(fits))
	for i := range fits {
		fitByState[fits[i].BidStateID] = &fits[i]
	}
	statesByCampaign := make(map[string][]domain.BidState)
	for _, st := range states {
		if st.CampaignID == "" || !st.OptimizationEnabled {
			continue
		}
		statesByCampaign[st.CampaignID] = append(statesByCampaign[st.CampaignID], st)
	}

	byID := make(map[string]*CampaignInput)
	for _, c := range current {
		in := &CampaignInput{CampaignID: c.CampaignID, Current: c}
		byID[c.CampaignID] = in
	}
	for _, c := range previous {
		// campaigns that stopped spending still count: they have a zero current window
		in, ok := byID[c.CampaignID]
		if !ok {
			in = &CampaignInput{CampaignID: c.CampaignID, Current: domain.CampaignSpend{CampaignID: c.CampaignID}}
			byID[c.CampaignID] = in
		}
		in.Previous = c
	}

	inputs := make([]CampaignInput, 0, len(byID))
	for id, in := range byID {
		in.CurveMROAS = CurveMROAS(statesByCampaign[id], fitByState)
		inputs = append(inputs, *in)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].CampaignID < inputs[j].CampaignID })
	return inputs, nil
}

// Latest returns the stored curves with the plan rebuilt from them.
func (s *Service) Latest(ctx context.Context, profileID string, topN int) (*domain.PortfolioPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}
	curves, err := s.repo.ListCurves(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list marginal curves: %w", err)
	}
	plan := domain.PortfolioPlan{
		Curves:          curves,
		EfficiencyScore: EfficiencyScore(curves),
		Opportunities:   TopOpportunities(curves, topN),
	}
	if len(curves) > 0 {
		plan.RunID = curves[0].RunID
		plan.Method = curves[0].Method
	}
	return &plan, nil
}
