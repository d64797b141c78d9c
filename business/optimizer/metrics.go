package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ObservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_observations_total",
			Help: "Observation cycles seen by the updater, by result (folded, duplicate, invalid).",
		},
		[]string{"result"},
	)

	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_selections_total",
			Help: "Bid selections by confidence level.",
		},
		[]string{"confidence"},
	)

	BidChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_bid_changes_total",
			Help: "Recommendations that differ from the current bid.",
		},
	)

	CurveFitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_curve_fits_total",
			Help: "Curve fits by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ObservationsTotal, SelectionsTotal, BidChangesTotal, CurveFitsTotal)
}
