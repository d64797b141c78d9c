package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adsOptimizer/business/portfolio"
	"adsOptimizer/domain"
)

type PortfolioRepository struct {
	DB *gorm.DB
}

var _ portfolio.CurveRepository = (*PortfolioRepository)(nil)

func NewPortfolioRepository(db *gorm.DB) *PortfolioRepository {
	return &PortfolioRepository{DB: db}
}

func (r *PortfolioRepository) ReplaceCurves(ctx context.Context, profileID string, curves []domain.PortfolioMarginalCurve) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	for i := range curves {
		curves[i].ProfileID = profileID
	}

	if err := r.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "profile_id"}, {Name: "campaign_id"}},
			UpdateAll: true,
		},
	).Create(&curves).Error; err != nil {
		return fmt.Errorf("failed to upsert portfolio_marginal_curves: %w", err)
	}

	return nil
}

func (r *PortfolioRepository) ListCurves(ctx context.Context, profileID string) ([]domain.PortfolioMarginalCurve, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var curves []domain.PortfolioMarginalCurve
	if err := r.DB.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("computed_at DESC, campaign_id").
		Find(&curves).Error; err != nil {
		return nil, fmt.Errorf("failed to list portfolio_marginal_curves: %w", err)
	}

	return curves, nil
}
