package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

type BidStateRepository struct {
	DB *gorm.DB
}

var _ optimizer.BidStateRepository = (*BidStateRepository)(nil)

func NewBidStateRepository(db *gorm.DB) *BidStateRepository {
	return &BidStateRepository{DB: db}
}

// ---- State ----

func (r *BidStateRepository) GetState(ctx context.Context, key domain.EntityKey) (*domain.BidState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var state domain.BidState
	err := r.DB.WithContext(ctx).
		Where("profile_id = ? AND entity_type = ? AND entity_id = ?", key.ProfileID, key.EntityType, key.EntityID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bid_states: %w", err)
	}

	return &state, nil
}

func (r *BidStateRepository) ListStates(ctx context.Context, profileID string) ([]domain.BidState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var states []domain.BidState
	if err := r.DB.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("entity_type, entity_id").
		Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list bid_states: %w", err)
	}

	return states, nil
}

func (r *BidStateRepository) ListProfiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var ids []string
	if err := r.DB.WithContext(ctx).
		Model(&domain.BidState{}).
		Distinct("profile_id").
		Order("profile_id").
		Pluck("profile_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	return ids, nil
}

// CreateState inserts a new state. Losing a creation race is reported as a
// version conflict so the caller reloads.
func (r *BidStateRepository) CreateState(ctx context.Context, state *domain.BidState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return createState(r.DB.WithContext(ctx), state)
}

func createState(tx *gorm.DB, state *domain.BidState) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(state)
	if res.Error != nil {
		return fmt.Errorf("failed to insert bid_state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return optimizer.ErrVersionConflict
	}
	return nil
}

// FoldCycle stores the cycle and the folded state in one transaction.
func (r *BidStateRepository) FoldCycle(ctx context.Context, state *domain.BidState, obs *domain.BidObservation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	isNew := state.ID == 0
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isNew {
			if err := createState(tx, state); err != nil {
				return err
			}
		}

		obs.BidStateID = state.ID
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bid_state_id"}, {Name: "window_start"}},
			DoNothing: true,
		}).Create(obs)
		if res.Error != nil {
			return fmt.Errorf("failed to insert bid_observation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return optimizer.ErrDuplicateCycle
		}

		if isNew {
			return nil
		}
		return updateState(tx, state)
	})
	if err != nil && isNew {
		// rolled back: the row never existed
		state.ID = 0
	}
	return err
}

func (r *BidStateRepository) SaveState(ctx context.Context, state *domain.BidState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return updateState(r.DB.WithContext(ctx), state)
}

// updateState writes every mutable column if the stored version still
// matches, then advances state.Version.
func updateState(tx *gorm.DB, state *domain.BidState) error {
	res := tx.Model(&domain.BidState{}).
		Where("id = ? AND version = ?", state.ID, state.Version).
		Updates(map[string]any{
			"campaign_id":                      state.CampaignID,
			"alpha":                            state.Alpha,
			"beta":                             state.Beta,
			"observations_count":               state.ObservationsCount,
			"total_clicks":                     state.TotalClicks,
			"total_conversions":                state.TotalConversions,
			"total_impressions":                state.TotalImpressions,
			"total_spend_micros":               state.TotalSpendMicros,
			"total_sales_micros":               state.TotalSalesMicros,
			"confidence_level":                 state.ConfidenceLevel,
			"confidence_pct":                   state.ConfidencePct,
			"optimization_enabled":             state.OptimizationEnabled,
			"current_bid_micros":               state.CurrentBidMicros,
			"recommended_bid_micros":           state.RecommendedBidMicros,
			"confidence_interval_lower_micros": state.ConfidenceIntervalLowerMicros,
			"confidence_interval_upper_micros": state.ConfidenceIntervalUpperMicros,
			"last_optimized_at":                state.LastOptimizedAt,
			"version":                          state.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update bid_state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return optimizer.ErrVersionConflict
	}
	state.Version++
	return nil
}

func (r *BidStateRepository) ClaimCooldown(ctx context.Context, stateID uint64, now time.Time, cooldown time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}

	res := r.DB.WithContext(ctx).
		Model(&domain.BidState{}).
		Where("id = ? AND (last_optimized_at IS NULL OR last_optimized_at <= ?)", stateID, now.Add(-cooldown)).
		Updates(map[string]any{
			"last_optimized_at": now,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim cool-down: %w", res.Error)
	}

	return res.RowsAffected == 1, nil
}

// ---- History ----

func (r *BidStateRepository) History(ctx context.Context, stateID uint64, limit int) ([]domain.BidObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var rows []domain.BidObservation
	q := r.DB.WithContext(ctx).
		Where("bid_state_id = ?", stateID).
		Order("window_start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query bid_observations: %w", err)
	}

	return rows, nil
}
