package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"adsOptimizer/business/controller"
	"adsOptimizer/domain"
)

type OptimizerRunRepository struct {
	DB *gorm.DB
}

var _ controller.RunRepository = (*OptimizerRunRepository)(nil)

func NewOptimizerRunRepository(db *gorm.DB) *OptimizerRunRepository {
	return &OptimizerRunRepository{DB: db}
}

func (r *OptimizerRunRepository) CreateRun(ctx context.Context, run *domain.OptimizerRun) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := r.DB.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to insert optimizer_run: %w", err)
	}

	return nil
}

// UpdateRun only succeeds while the stored status is still from, so two
// writers can never both finish the same run.
func (r *OptimizerRunRepository) UpdateRun(ctx context.Context, run *domain.OptimizerRun, from domain.RunStatus) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	res := r.DB.WithContext(ctx).
		Model(&domain.OptimizerRun{}).
		Where("id = ? AND status = ?", run.ID, from).
		Updates(map[string]any{
			"status":              run.Status,
			"completed_at":        run.CompletedAt,
			"bids_changed":        run.BidsChanged,
			"entities_considered": run.EntitiesConsidered,
			"outcomes":            run.Outcomes,
			"error":               run.Error,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update optimizer_run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s is no longer %s", controller.ErrInvalidTransition, run.ID, from)
	}

	return nil
}

func (r *OptimizerRunRepository) ListRuns(ctx context.Context, profileID string, limit int) ([]domain.OptimizerRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var runs []domain.OptimizerRun
	if err := r.DB.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list optimizer_runs: %w", err)
	}

	return runs, nil
}

func (r *OptimizerRunRepository) HasCompletedRun(ctx context.Context, profileID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}

	var n int64
	if err := r.DB.WithContext(ctx).
		Model(&domain.OptimizerRun{}).
		Where("profile_id = ? AND status = ?", profileID, domain.RunCompleted).
		Limit(1).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count optimizer_runs: %w", err)
	}

	return n > 0, nil
}

func (r *OptimizerRunRepository) BidsChangedSince(ctx context.Context, profileID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error: %w", err)
	}

	var total int64
	if err := r.DB.WithContext(ctx).
		Model(&domain.OptimizerRun{}).
		Select("COALESCE(SUM(bids_changed), 0)").
		Where("profile_id = ? AND started_at >= ? AND status = ?", profileID, since, domain.RunCompleted).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum bids_changed: %w", err)
	}

	return int(total), nil
}
