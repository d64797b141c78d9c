package domain

import "time"

type MarginalMethod string

const (
	MethodFiniteDifference MarginalMethod = "finite_difference"
	MethodCurveFit         MarginalMethod = "curve_fit"
)

type PortfolioMarginalCurve struct {
	ProfileID             string         `gorm:"column:profile_id;primaryKey" json:"profile_id"`
	CampaignID            string         `gorm:"column:campaign_id;primaryKey" json:"campaign_id"`
	RunID                 string         `gorm:"column:run_id" json:"run_id"`
	Method                MarginalMethod `gorm:"column:method" json:"method"`
	CurrentSpendMicros    int64          `gorm:"column:current_spend_micros" json:"current_spend_micros"`
	CurrentROAS           float64        `gorm:"column:current_roas" json:"current_roas"`
	MarginalROASAtCurrent float64        `gorm:"column:marginal_roas_at_current" json:"marginal_roas_at_current"`
	OptimalSpendMicros    int64          `gorm:"column:optimal_spend_micros" json:"optimal_spend_micros"`
	PotentialGainMicros   int64          `gorm:"column:potential_gain_micros" json:"potential_gain_micros"`
	ComputedAt            time.Time      `gorm:"column:computed_at" json:"computed_at"`
}

func (PortfolioMarginalCurve) TableName() string {
	return "portfolio_marginal_curves"
}

// ReallocationOpportunity is one row of the portfolio action plan.
type ReallocationOpportunity struct {
	CampaignID         string  `json:"campaign_id"`
	CurrentSpendMicros int64   `json:"current_spend_micros"`
	OptimalSpendMicros int64   `json:"optimal_spend_micros"`
	MarginalROAS       float64 `json:"marginal_roas"`
	PotentialGain      int64   `json:"potential_gain"`
}

type PortfolioPlan struct {
	RunID           string                    `json:"run_id"`
	Method          MarginalMethod            `json:"method"`
	EfficiencyScore float64                   `json:"efficiency_score"`
	Curves          []PortfolioMarginalCurve  `json:"curves"`
	Opportunities   []ReallocationOpportunity `json:"opportunities"`
}
