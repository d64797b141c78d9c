package optimizer

import (
	"adsOptimizer/domain"
)

// ValidateObservation rejects ledger cycles that must not touch the posterior.
func ValidateObservation(o domain.Observation) error {
	if o.Source != domain.SourceReal {
		return ErrSimulatedObservation
	}
	if !o.EntityType.Valid() {
		return invalidObservation("unknown entity type %q", o.EntityType)
	}
	if o.ProfileID == "" || o.EntityID == "" {
		return invalidObservation("profile_id and entity_id are required")
	}
	if !o.WindowEnd.After(o.WindowStart) {
		return invalidObservation("window_end %s is not after window_start %s", o.WindowEnd, o.WindowStart)
	}
	if o.Impressions < 0 || o.Clicks < 0 || o.Conversions < 0 ||
		o.SpendMicros < 0 || o.SalesMicros < 0 || o.BidMicros < 0 {
		return invalidObservation("negative counts")
	}
	if o.Conversions > o.Clicks {
		return invalidObservation("conversions %d exceed clicks %d", o.Conversions, o.Clicks)
	}
	if o.Clicks > o.Impressions {
		return invalidObservation("clicks %d exceed impressions %d", o.Clicks, o.Impressions)
	}
	return nil
}

// Fold applies one validated cycle to the state using the conjugate
// Beta-Binomial update. Every change is a sum, so any order of the same
// cycles ends at the same (alpha, beta) and totals.
func Fold(s *domain.BidState, o domain.Observation) {
	if o.Clicks > 0 {
		s.Alpha += float64(o.Conversions)
		s.Beta += float64(o.Clicks - o.Conversions)
	}
	if o.Impressions > 0 {
		s.ObservationsCount++
	}

	s.TotalImpressions += o.Impressions
	s.TotalClicks += o.Clicks
	s.TotalConversions += o.Conversions
	s.TotalSpendMicros += o.SpendMicros
	s.TotalSalesMicros += o.SalesMicros

	if o.BidMicros > 0 {
		s.CurrentBidMicros = o.BidMicros
	}
	if s.CampaignID == "" && o.CampaignID != "" {
		s.CampaignID = o.CampaignID
	}
}

// FoldAll folds a batch of cycles, skipping invalid ones. It returns the
// number folded and the errors of the skipped cycles.
func FoldAll(s *domain.BidState, obs []domain.Observation) (int, []error) {
	folded := 0
	var skipped []error
	for _, o := range obs {
		if err := ValidateObservation(o); err != nil {
			skipped = append(skipped, err)
			continue
		}
		Fold(s, o)
		folded++
	}
	return folded, skipped
}

func toBidObservation(stateID uint64, o domain.Observation) *domain.BidObservation {
	return &domain.BidObservation{
		BidStateID:  stateID,
		WindowStart: o.WindowStart,
		WindowEnd:   o.WindowEnd,
		Impressions: o.Impressions,
		Clicks:      o.Clicks,
		Conversions: o.Conversions,
		SpendMicros: o.SpendMicros,
		SalesMicros: o.SalesMicros,
		BidMicros:   o.BidMicros,
	}
}
