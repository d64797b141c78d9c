package domain

import "time"

// OptimizerConfig is the per-profile override row. Zero values mean "use the
// compiled default".
type OptimizerConfig struct {
	ProfileID string `json:"profile_id" gorm:"column:profile_id;primaryKey" validate:"required"`

	TargetACOS        float64 `json:"target_acos" gorm:"column:target_acos" validate:"gte=0,lte=5"`
	MinObservations   int64   `json:"min_observations" gorm:"column:min_observations" validate:"gte=0"`
	MinImpressions    int64   `json:"min_impressions" gorm:"column:min_impressions" validate:"gte=0"`
	CooldownSeconds   int64   `json:"cooldown_seconds" gorm:"column:cooldown_seconds" validate:"gte=0"`
	MaxBidChangePct   float64 `json:"max_bid_change_pct" gorm:"column:max_bid_change_pct" validate:"gte=0"`
	MaxSpendChangePct float64 `json:"max_spend_change_pct" gorm:"column:max_spend_change_pct" validate:"gte=0"`
	CurveTrustR2      float64 `json:"curve_trust_r2" gorm:"column:curve_trust_r2" validate:"omitempty,gte=0.3,lte=1"`
	MinBidMicros      int64   `json:"min_bid_micros" gorm:"column:min_bid_micros" validate:"gte=0"`
	MaxBidMicros      int64   `json:"max_bid_micros" gorm:"column:max_bid_micros" validate:"gte=0"`

	// informative priors per entity type, e.g. {"keyword": [2, 60]}
	PriorsRaw []byte                    `json:"-" gorm:"column:priors"`
	Priors    map[EntityType][2]float64 `json:"priors,omitempty" gorm:"-"`

	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (OptimizerConfig) TableName() string {
	return "optimizer_configs"
}
