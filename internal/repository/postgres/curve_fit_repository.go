package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

type CurveFitRepository struct {
	DB *gorm.DB
}

var _ optimizer.CurveFitRepository = (*CurveFitRepository)(nil)

func NewCurveFitRepository(db *gorm.DB) *CurveFitRepository {
	return &CurveFitRepository{DB: db}
}

func (r *CurveFitRepository) GetFit(ctx context.Context, stateID uint64) (*domain.CurveFitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var fit domain.CurveFitResult
	err := r.DB.WithContext(ctx).First(&fit, "bid_state_id = ?", stateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query curve_fit_results: %w", err)
	}

	return &fit, nil
}

// SaveFit replaces the previous fit of the entity.
func (r *CurveFitRepository) SaveFit(ctx context.Context, fit *domain.CurveFitResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := r.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "bid_state_id"}},
			UpdateAll: true,
		},
	).Create(fit).Error; err != nil {
		return fmt.Errorf("failed to upsert curve_fit_result: %w", err)
	}

	return nil
}

func (r *CurveFitRepository) ListFits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var fits []domain.CurveFitResult
	if err := r.DB.WithContext(ctx).
		Joins("JOIN bid_states ON bid_states.id = curve_fit_results.bid_state_id").
		Where("bid_states.profile_id = ?", profileID).
		Find(&fits).Error; err != nil {
		return nil, fmt.Errorf("failed to list curve_fit_results: %w", err)
	}

	return fits, nil
}
