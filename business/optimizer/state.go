package optimizer

import (
	"adsOptimizer/domain"
)

// NewBidState creates the state for an entity seen for the first time. The
// prior is fixed here and never changes afterwards.
func NewBidState(key domain.EntityKey, campaignID string, prior Prior) *domain.BidState {
	if campaignID == "" && key.EntityType == domain.EntityCampaign {
		campaignID = key.EntityID
	}
	return &domain.BidState{
		ProfileID:           key.ProfileID,
		EntityType:          key.EntityType,
		EntityID:            key.EntityID,
		CampaignID:          campaignID,
		Alpha:               prior.Alpha,
		Beta:                prior.Beta,
		PriorAlpha:          prior.Alpha,
		PriorBeta:           prior.Beta,
		ConfidenceLevel:     domain.ConfidenceLow,
		OptimizationEnabled: true,
	}
}

// HasSufficientData reports whether the entity has enough evidence for a bid change.
func HasSufficientData(s *domain.BidState, cfg Config) bool {
	return s.ObservationsCount >= cfg.MinObservations && s.TotalImpressions >= cfg.MinImpressions
}
