package optimizer

import (
	"context"
	"fmt"

	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
)

// Explanation is a dry-run of one bid decision with every component exposed.
type Explanation struct {
	State           domain.BidState        `json:"state"`
	Sufficient      bool                   `json:"sufficient_data"`
	CurveFit        *domain.CurveFitResult `json:"curve_fit,omitempty"`
	CurveFitError   string                 `json:"curve_fit_error,omitempty"`
	CurveTrusted    bool                   `json:"curve_trusted"`
	Selection       Selection              `json:"selection"`
	DisplayLabel    string                 `json:"display_label"`
	HistoryPoints   int                    `json:"history_points"`
	TargetACOS      float64                `json:"target_acos"`
	MaxBidChangePct float64                `json:"max_bid_change_pct"`
}

// Explain re-runs fit and selection for an entity without persisting anything.
// It uses the posterior mean instead of a random draw so repeated calls agree.
func (s *Service) Explain(ctx context.Context, key domain.EntityKey) (*Explanation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	cfg := s.cfgLoader.Load(ctx, key.ProfileID)

	logger.Debug("optimizer_explain",
		"trace_id", TraceIDFromContext(ctx),
		"entity", key.String(),
	)

	state, err := s.stateRepo.GetState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get bid state: %w", err)
	}
	if state == nil {
		return nil, ErrStateNotFound
	}
	applyConfidence(state, cfg)

	history, err := s.stateRepo.History(ctx, state.ID, cfg.MaxHistoryPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to load bid history: %w", err)
	}
	history = capHistory(history, cfg.MaxHistoryPoints)

	out := &Explanation{
		State:           *state,
		Sufficient:      HasSufficientData(state, cfg),
		HistoryPoints:   len(history),
		TargetACOS:      cfg.TargetACOS,
		MaxBidChangePct: cfg.MaxBidChangePct,
	}

	fit, fitErr := FitBidCurve(history, state.AverageOrderValueMicros(), cfg, s.now())
	fit.BidStateID = state.ID
	out.CurveFit = &fit
	if fitErr != nil {
		out.CurveFitError = fitErr.Error()
	}
	out.CurveTrusted = fit.Trusted(cfg.CurveTrustR2)

	out.Selection = NewSelector(MeanSampler{}).Select(state, &fit, cfg)
	out.DisplayLabel = DisplayLabel(state, &fit, cfg)

	return out, nil
}
