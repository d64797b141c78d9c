package domain

import "time"

type FitStatus string

// MinCurveR2 is the lowest R² at which a fitted optimum is ever kept.
// Profiles may raise the threshold, never lower it.
const MinCurveR2 = 0.3

const (
	FitStatusFitted           FitStatus = "fitted"
	FitStatusInsufficientData FitStatus = "insufficient_data"
	FitStatusFailure          FitStatus = "fit_failure"
)

type CurveFitResult struct {
	BidStateID       uint64    `gorm:"column:bid_state_id;primaryKey" json:"bid_state_id"`
	Status           FitStatus `gorm:"column:status;not null" json:"status"`
	RSquared         float64   `gorm:"column:r_squared" json:"r_squared"`
	RMSE             float64   `gorm:"column:rmse" json:"rmse"`
	OptimalBidMicros *int64    `gorm:"column:optimal_bid_micros" json:"optimal_bid_micros"`

	// v(b) = CoefIntercept + CoefLinear*b + CoefQuadratic*b^2, b in currency units
	CoefIntercept   float64 `gorm:"column:coef_intercept" json:"coef_intercept"`
	CoefLinear      float64 `gorm:"column:coef_linear" json:"coef_linear"`
	CoefQuadratic   float64 `gorm:"column:coef_quadratic" json:"coef_quadratic"`
	BidLevels       int     `gorm:"column:bid_levels" json:"bid_levels"`
	MeanSpendMicros float64 `gorm:"column:mean_spend_micros" json:"mean_spend_micros"`

	FittedAt time.Time `gorm:"column:fitted_at" json:"fitted_at"`
}

func (CurveFitResult) TableName() string {
	return "curve_fit_results"
}

// Trusted reports whether the optimum may be used by the bid selector.
func (r *CurveFitResult) Trusted(minR2 float64) bool {
	return r != nil && r.Status == FitStatusFitted && r.OptimalBidMicros != nil && r.RSquared >= max(minR2, MinCurveR2)
}

// Gate clears the optimum when the fit explains too little variance.
func (r *CurveFitResult) Gate(minR2 float64) {
	if r.RSquared < max(minR2, MinCurveR2) {
		r.OptimalBidMicros = nil
	}
}

// ModelAccuracy aggregates curve-fit diagnostics across a profile.
type ModelAccuracy struct {
	AverageRSquared      float64 `json:"average_r_squared"`
	AverageRMSE          float64 `json:"average_rmse"`
	ModelsFitted         int     `json:"models_fitted"`
	ModelsWithOptimalBid int     `json:"models_with_optimal_bid"`
	TotalModels          int     `json:"total_models"`
}
