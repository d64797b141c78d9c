package domain

import "time"

// ProfileState replaces status strings that used to be inferred by cascading
// conditionals. Transitions:
//
//	setup_required -> learning   first BidState exists
//	learning       -> active     first completed run
//	active         -> warning    last run failed
//	warning        -> active     next completed run
type ProfileState string

const (
	ProfileSetupRequired ProfileState = "setup_required"
	ProfileLearning      ProfileState = "learning"
	ProfileActive        ProfileState = "active"
	ProfileWarning       ProfileState = "warning"
)

// DeriveProfileState is the single place the profile status is decided.
func DeriveProfileState(totalEntities int, lastRun *OptimizerRun, hasCompletedRun bool) ProfileState {
	switch {
	case totalEntities == 0:
		return ProfileSetupRequired
	case lastRun != nil && lastRun.Status == RunFailed:
		return ProfileWarning
	case hasCompletedRun:
		return ProfileActive
	default:
		return ProfileLearning
	}
}

// DisplayLearning is shown for entities still accumulating evidence.
const DisplayLearning = "Learning"

type OptimizerStatus struct {
	ProfileID             string       `json:"profile_id"`
	State                 ProfileState `json:"status"`
	TotalEntities         int          `json:"total_entities"`
	HighConfidenceCount   int          `json:"high_confidence_count"`
	MediumConfidenceCount int          `json:"medium_confidence_count"`
	LowConfidenceCount    int          `json:"low_confidence_count"`
	AverageConfidencePct  float64      `json:"average_confidence_pct"`
	LearningProgressPct   float64      `json:"learning_progress_pct"`
	LastRunAt             *time.Time   `json:"last_run_at"`
	LastRunStatus         RunStatus    `json:"last_run_status,omitempty"`
	BidsChangedToday      int          `json:"bids_changed_today"`
}

// EntityView is the read model for one entity in the UI.
type EntityView struct {
	State        BidState        `json:"state"`
	CurveFit     *CurveFitResult `json:"curve_fit,omitempty"`
	DisplayLabel string          `json:"display_label"`
	CurrentBid   string          `json:"current_bid"`
	Recommended  string          `json:"recommended_bid"`
}
