package optimizer

import (
	"sort"

	"adsOptimizer/domain"
)

// capHistory keeps the most recent cycles so a fit never grows unbounded.
// The returned slice is ordered oldest first.
func capHistory(history []domain.BidObservation, limit int) []domain.BidObservation {
	if limit <= 0 {
		limit = defaultMaxHistoryPoints
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].WindowStart.Before(history[j].WindowStart)
	})

	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
