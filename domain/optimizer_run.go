package domain

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type RunKind string

const (
	RunKindBatch    RunKind = "batch"
	RunKindRealtime RunKind = "realtime"
)

// runTransitions is the whole run lifecycle: pending -> running -> completed|failed.
// A pending run may fail directly when it cannot even start.
var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed},
	RunRunning: {RunCompleted, RunFailed},
}

func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

type OptimizerRun struct {
	ID                 string            `gorm:"column:id;primaryKey" json:"id"`
	ProfileID          string            `gorm:"column:profile_id;not null;index" json:"profile_id"`
	Kind               RunKind           `gorm:"column:kind;not null" json:"kind"`
	Status             RunStatus         `gorm:"column:status;not null" json:"status"`
	StartedAt          time.Time         `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt        *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	BidsChanged        int               `gorm:"column:bids_changed;not null;default:0" json:"bids_changed"`
	EntitiesConsidered int               `gorm:"column:entities_considered;not null;default:0" json:"entities_considered"`
	Outcomes           datatypes.JSONMap `gorm:"column:outcomes;type:jsonb" json:"outcomes,omitempty"`
	Error              string            `gorm:"column:error" json:"error,omitempty"`
}

func (OptimizerRun) TableName() string {
	return "optimizer_runs"
}

// EntityOutcome is what happened to a single entity inside a run.
type EntityOutcome string

const (
	OutcomeUpdated            EntityOutcome = "updated"
	OutcomeUnchanged          EntityOutcome = "unchanged"
	OutcomeDisabled           EntityOutcome = "disabled"
	OutcomeInsufficientData   EntityOutcome = "insufficient_data"
	OutcomeInvalidObservation EntityOutcome = "invalid_observation"
	OutcomeLocked             EntityOutcome = "locked"
	OutcomeError              EntityOutcome = "error"
)

// BidChange is one row of the action plan handed to the application layer.
// (EntityID, RecommendedBidMicros, RunID) is its idempotency key.
type BidChange struct {
	RunID                string          `json:"run_id"`
	EntityID             string          `json:"entity_id"`
	EntityType           EntityType      `json:"entity_type"`
	PreviousBidMicros    int64           `json:"previous_bid_micros"`
	RecommendedBidMicros int64           `json:"recommended_bid_micros"`
	RecommendedBid       string          `json:"recommended_bid"`
	ConfidenceLevel      ConfidenceLevel `json:"confidence_level"`
	ConfidencePct        float64         `json:"confidence_pct"`
}

// RunReport is returned to callers of a batch or real-time run.
type RunReport struct {
	Run           OptimizerRun              `json:"run"`
	BidChanges    []BidChange               `json:"bid_changes"`
	Reallocations []ReallocationOpportunity `json:"reallocations,omitempty"`
	Efficiency    *float64                  `json:"efficiency_score,omitempty"`
}
