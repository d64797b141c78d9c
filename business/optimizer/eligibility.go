package optimizer

import (
	"context"

	"adsOptimizer/domain"
)

// EligibilityChecker decides if an entity may receive a new bid this cycle
// (archived campaign, paused ad group, account hold).
type EligibilityChecker interface {
	IsEligible(ctx context.Context, state *domain.BidState) (bool, error)
}

// NoopEligibilityChecker is the default implementation that allows everything.
type NoopEligibilityChecker struct{}

func (NoopEligibilityChecker) IsEligible(ctx context.Context, state *domain.BidState) (bool, error) {
	return true, nil
}
