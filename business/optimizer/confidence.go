package optimizer

import (
	"adsOptimizer/domain"
)

// ScoreConfidence derives the label and percentage from the posterior and the
// observed volume.
//
//	high   both volume thresholds met and std error <= TightStdErr
//	medium exactly one volume threshold met, or both met with std error <= ModerateStdErr
//	low    everything else
func ScoreConfidence(s *domain.BidState, cfg Config) (domain.ConfidenceLevel, float64) {
	pct := ConfidencePct(s.EvidenceWeight(), cfg.ConfidenceHalfWeight)

	obsOK := s.ObservationsCount >= cfg.MinObservations
	impOK := s.TotalImpressions >= cfg.MinImpressions
	se := posteriorStdErr(s.Alpha, s.Beta)

	switch {
	case obsOK && impOK && se <= cfg.TightStdErr:
		return domain.ConfidenceHigh, pct
	case obsOK != impOK:
		return domain.ConfidenceMedium, pct
	case obsOK && impOK && se <= cfg.ModerateStdErr:
		return domain.ConfidenceMedium, pct
	default:
		return domain.ConfidenceLow, pct
	}
}

// ConfidencePct maps evidence weight n to [0, 100) with n/(n+half). More
// evidence never lowers it.
func ConfidencePct(n, halfWeight float64) float64 {
	if n <= 0 {
		return 0
	}
	if halfWeight <= 0 {
		halfWeight = defaultConfidenceHalfWeight
	}
	return 100 * n / (n + halfWeight)
}

func applyConfidence(s *domain.BidState, cfg Config) {
	s.ConfidenceLevel, s.ConfidencePct = ScoreConfidence(s, cfg)
}

// LearningProgress is the share of enabled entities at high confidence.
func LearningProgress(states []domain.BidState) float64 {
	enabled, high := 0, 0
	for i := range states {
		if !states[i].OptimizationEnabled {
			continue
		}
		enabled++
		if states[i].ConfidenceLevel == domain.ConfidenceHigh {
			high++
		}
	}
	if enabled == 0 {
		return 0
	}
	return 100 * float64(high) / float64(enabled)
}

// DisplayLabel never leaves an entity blank: anything not yet trusted reads
// as "Learning".
func DisplayLabel(s *domain.BidState, fit *domain.CurveFitResult, cfg Config) string {
	if !HasSufficientData(s, cfg) {
		return domain.DisplayLearning
	}
	if fit != nil && fit.Status != domain.FitStatusFitted && s.ConfidenceLevel != domain.ConfidenceHigh {
		return domain.DisplayLearning
	}
	switch s.ConfidenceLevel {
	case domain.ConfidenceHigh:
		return "High confidence"
	case domain.ConfidenceMedium:
		return "Medium confidence"
	default:
		return domain.DisplayLearning
	}
}
