package domain

import "time"

// DataSource tags where ledger numbers came from. Only RealData may reach the
// Bayesian updater.
type DataSource string

const (
	SourceReal        DataSource = "real"
	SourceSimulated   DataSource = "simulated"
	SourceUnavailable DataSource = "unavailable"
)

// Observation is one aggregation cycle for one entity as exposed by the
// Performance Ledger.
type Observation struct {
	ProfileID   string     `json:"profile_id" validate:"required"`
	EntityType  EntityType `json:"entity_type" validate:"required,oneof=campaign ad_group keyword target"`
	EntityID    string     `json:"entity_id" validate:"required"`
	CampaignID  string     `json:"campaign_id"`
	WindowStart time.Time  `json:"window_start" validate:"required"`
	WindowEnd   time.Time  `json:"window_end" validate:"required"`
	Impressions int64      `json:"impressions"`
	Clicks      int64      `json:"clicks"`
	Conversions int64      `json:"conversions"`
	SpendMicros int64      `json:"spend_micros"`
	SalesMicros int64      `json:"sales_micros"`
	BidMicros   int64      `json:"bid_micros"`
	Source      DataSource `json:"source"`
}

func (o Observation) Key() EntityKey {
	return EntityKey{ProfileID: o.ProfileID, EntityType: o.EntityType, EntityID: o.EntityID}
}

// LedgerSnapshot is the tagged result of a ledger read. Consumers switch on
// Source instead of guessing whether a fallback happened.
type LedgerSnapshot struct {
	Source       DataSource    `json:"source"`
	Observations []Observation `json:"observations"`
}

// LedgerRow mirrors the performance_ledger table written by the sync pipeline.
type LedgerRow struct {
	ID          uint64     `gorm:"primaryKey"`
	ProfileID   string     `gorm:"column:profile_id"`
	EntityType  EntityType `gorm:"column:entity_type"`
	EntityID    string     `gorm:"column:entity_id"`
	CampaignID  string     `gorm:"column:campaign_id"`
	WindowStart time.Time  `gorm:"column:window_start"`
	WindowEnd   time.Time  `gorm:"column:window_end"`
	Impressions int64      `gorm:"column:impressions"`
	Clicks      int64      `gorm:"column:clicks"`
	Conversions int64      `gorm:"column:conversions"`
	SpendMicros int64      `gorm:"column:spend_micros"`
	SalesMicros int64      `gorm:"column:sales_micros"`
	BidMicros   int64      `gorm:"column:bid_micros"`
	Source      DataSource `gorm:"column:source"`
}

func (LedgerRow) TableName() string {
	return "performance_ledger"
}

func (r LedgerRow) Observation() Observation {
	src := r.Source
	if src == "" {
		src = SourceReal
	}
	return Observation{
		ProfileID:   r.ProfileID,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		CampaignID:  r.CampaignID,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		Conversions: r.Conversions,
		SpendMicros: r.SpendMicros,
		SalesMicros: r.SalesMicros,
		BidMicros:   r.BidMicros,
		Source:      src,
	}
}

// CampaignSpend is a ledger roll-up of one campaign over one window.
type CampaignSpend struct {
	CampaignID  string `gorm:"column:campaign_id" json:"campaign_id"`
	SpendMicros int64  `gorm:"column:spend_micros" json:"spend_micros"`
	SalesMicros int64  `gorm:"column:sales_micros" json:"sales_micros"`
}
