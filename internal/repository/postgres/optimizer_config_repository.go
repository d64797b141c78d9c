package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

type OptimizerConfigRepository struct {
	DB *gorm.DB
}

var _ optimizer.ConfigRepository = (*OptimizerConfigRepository)(nil)

func NewOptimizerConfigRepository(db *gorm.DB) *OptimizerConfigRepository {
	return &OptimizerConfigRepository{DB: db}
}

func (r *OptimizerConfigRepository) GetConfig(ctx context.Context, profileID string) (domain.OptimizerConfig, bool, error) {
	var cfg domain.OptimizerConfig

	err := r.DB.WithContext(ctx).
		Where("profile_id = ?", profileID).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.OptimizerConfig{}, false, nil
	}
	if err != nil {
		return domain.OptimizerConfig{}, false, err
	}

	if len(cfg.PriorsRaw) > 0 {
		if err := json.Unmarshal(cfg.PriorsRaw, &cfg.Priors); err != nil {
			return domain.OptimizerConfig{}, false, fmt.Errorf("invalid priors for profile %s: %w", profileID, err)
		}
	}
	return cfg, true, nil
}

func (r *OptimizerConfigRepository) UpsertConfig(ctx context.Context, cfg domain.OptimizerConfig) error {
	// the typed map is the source of truth when both are present
	if len(cfg.Priors) > 0 {
		raw, err := json.Marshal(cfg.Priors)
		if err != nil {
			return fmt.Errorf("failed to marshal priors: %w", err)
		}
		cfg.PriorsRaw = raw
	}
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"target_acos",
				"min_observations",
				"min_impressions",
				"cooldown_seconds",
				"max_bid_change_pct",
				"max_spend_change_pct",
				"curve_trust_r2",
				"min_bid_micros",
				"max_bid_micros",
				"priors",
				"updated_at",
			}),
		}).
		Create(&cfg).Error
}
