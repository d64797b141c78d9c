package domain

import (
	"fmt"
	"time"
)

type EntityType string

const (
	EntityCampaign EntityType = "campaign"
	EntityAdGroup  EntityType = "ad_group"
	EntityKeyword  EntityType = "keyword"
	EntityTarget   EntityType = "target"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityCampaign, EntityAdGroup, EntityKeyword, EntityTarget:
		return true
	}
	return false
}

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// EntityKey identifies one optimizable entity. It is also the lock and cool-down key.
type EntityKey struct {
	ProfileID  string     `json:"profile_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ProfileID, k.EntityType, k.EntityID)
}

type BidState struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	ProfileID  string     `gorm:"column:profile_id;not null;uniqueIndex:ux_bid_states_entity" json:"profile_id"`
	EntityType EntityType `gorm:"column:entity_type;not null;uniqueIndex:ux_bid_states_entity" json:"entity_type"`
	EntityID   string     `gorm:"column:entity_id;not null;uniqueIndex:ux_bid_states_entity" json:"entity_id"`
	CampaignID string     `gorm:"column:campaign_id;index" json:"campaign_id"`

	Alpha      float64 `gorm:"column:alpha;not null" json:"alpha"`
	Beta       float64 `gorm:"column:beta;not null" json:"beta"`
	PriorAlpha float64 `gorm:"column:prior_alpha;not null" json:"prior_alpha"`
	PriorBeta  float64 `gorm:"column:prior_beta;not null" json:"prior_beta"`

	ObservationsCount int64 `gorm:"column:observations_count;not null;default:0" json:"observations_count"`
	TotalClicks       int64 `gorm:"column:total_clicks;not null;default:0" json:"total_clicks"`
	TotalConversions  int64 `gorm:"column:total_conversions;not null;default:0" json:"total_conversions"`
	TotalImpressions  int64 `gorm:"column:total_impressions;not null;default:0" json:"total_impressions"`
	TotalSpendMicros  int64 `gorm:"column:total_spend_micros;not null;default:0" json:"total_spend_micros"`
	TotalSalesMicros  int64 `gorm:"column:total_sales_micros;not null;default:0" json:"total_sales_micros"`

	ConfidenceLevel     ConfidenceLevel `gorm:"column:confidence_level;not null;default:low" json:"confidence_level"`
	ConfidencePct       float64         `gorm:"column:confidence_pct;not null;default:0" json:"confidence_pct"`
	OptimizationEnabled bool            `gorm:"column:optimization_enabled;not null;default:true" json:"optimization_enabled"`

	CurrentBidMicros              int64 `gorm:"column:current_bid_micros" json:"current_bid_micros"`
	RecommendedBidMicros          int64 `gorm:"column:recommended_bid_micros" json:"recommended_bid_micros"`
	ConfidenceIntervalLowerMicros int64 `gorm:"column:confidence_interval_lower_micros" json:"confidence_interval_lower_micros"`
	ConfidenceIntervalUpperMicros int64 `gorm:"column:confidence_interval_upper_micros" json:"confidence_interval_upper_micros"`

	// entity-level bid policy, nil means inherit the account bounds
	MinBidMicros *int64 `gorm:"column:min_bid_micros" json:"min_bid_micros,omitempty"`
	MaxBidMicros *int64 `gorm:"column:max_bid_micros" json:"max_bid_micros,omitempty"`

	LastOptimizedAt *time.Time `gorm:"column:last_optimized_at" json:"last_optimized_at,omitempty"`
	Version         int64      `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BidState) TableName() string {
	return "bid_states"
}

func (s *BidState) Key() EntityKey {
	return EntityKey{ProfileID: s.ProfileID, EntityType: s.EntityType, EntityID: s.EntityID}
}

// AverageOrderValueMicros is lifetime sales per conversion, with at least one
// conversion in the denominator.
func (s *BidState) AverageOrderValueMicros() float64 {
	conv := s.TotalConversions
	if conv < 1 {
		conv = 1
	}
	return float64(s.TotalSalesMicros) / float64(conv)
}

// EvidenceWeight is the posterior concentration gained since the prior.
func (s *BidState) EvidenceWeight() float64 {
	return s.Alpha + s.Beta - s.PriorAlpha - s.PriorBeta
}

func (s *BidState) PosteriorMean() float64 {
	return s.Alpha / (s.Alpha + s.Beta)
}

// BidObservation is one ledger cycle that has been folded into a BidState.
// The unique (bid_state_id, window_start) pair makes replays of a cycle a no-op.
type BidObservation struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	BidStateID  uint64    `gorm:"column:bid_state_id;not null;uniqueIndex:ux_bid_observations_cycle" json:"bid_state_id"`
	WindowStart time.Time `gorm:"column:window_start;not null;uniqueIndex:ux_bid_observations_cycle" json:"window_start"`
	WindowEnd   time.Time `gorm:"column:window_end;not null" json:"window_end"`

	Impressions int64     `gorm:"column:impressions;not null" json:"impressions"`
	Clicks      int64     `gorm:"column:clicks;not null" json:"clicks"`
	Conversions int64     `gorm:"column:conversions;not null" json:"conversions"`
	SpendMicros int64     `gorm:"column:spend_micros;not null" json:"spend_micros"`
	SalesMicros int64     `gorm:"column:sales_micros;not null" json:"sales_micros"`
	BidMicros   int64     `gorm:"column:bid_micros;not null;default:0" json:"bid_micros"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (BidObservation) TableName() string {
	return "bid_observations"
}
