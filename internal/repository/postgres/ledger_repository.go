package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"adsOptimizer/business/controller"
	"adsOptimizer/business/portfolio"
	"adsOptimizer/domain"
)

// LedgerRepository reads the performance_ledger table owned by the sync
// pipeline. It never writes.
type LedgerRepository struct {
	DB *gorm.DB
}

var (
	_ controller.Ledger     = (*LedgerRepository)(nil)
	_ portfolio.SpendLedger = (*LedgerRepository)(nil)
)

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{DB: db}
}

func (r *LedgerRepository) Snapshot(ctx context.Context, profileID string, since time.Time) (domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, r.DB.WithContext(ctx).
		Where("profile_id = ? AND window_start >= ?", profileID, since))
}

func (r *LedgerRepository) EntitySnapshot(ctx context.Context, key domain.EntityKey, since time.Time) (domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, r.DB.WithContext(ctx).
		Where("profile_id = ? AND entity_type = ? AND entity_id = ? AND window_start >= ?",
			key.ProfileID, key.EntityType, key.EntityID, since))
}

func (r *LedgerRepository) ActiveProfiles(ctx context.Context, since time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	var ids []string
	if err := r.DB.WithContext(ctx).
		Model(&domain.LedgerRow{}).
		Where("window_start >= ?", since).
		Distinct("profile_id").
		Order("profile_id").
		Pluck("profile_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger profiles: %w", err)
	}

	return ids, nil
}

// snapshot returns every row with its own source tag; the updater rejects the
// non-real ones. The snapshot itself is real unless no row is.
func (r *LedgerRepository) snapshot(ctx context.Context, q *gorm.DB) (domain.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerSnapshot{Source: domain.SourceUnavailable}, fmt.Errorf("context error: %w", err)
	}

	var rows []domain.LedgerRow
	if err := q.Order("window_start").Find(&rows).Error; err != nil {
		return domain.LedgerSnapshot{Source: domain.SourceUnavailable}, fmt.Errorf("failed to query performance_ledger: %w", err)
	}

	snap := domain.LedgerSnapshot{Source: domain.SourceReal, Observations: make([]domain.Observation, 0, len(rows))}
	realRows := 0
	for _, row := range rows {
		o := row.Observation()
		if o.Source == domain.SourceReal {
			realRows++
		}
		snap.Observations = append(snap.Observations, o)
	}
	if len(rows) > 0 && realRows == 0 {
		snap.Source = snap.Observations[0].Source
	}
	return snap, nil
}

func (r *LedgerRepository) CampaignSpend(ctx context.Context, profileID string, from, to time.Time) ([]domain.CampaignSpend, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	// campaign rows carry the campaign totals; lower levels would double count
	var out []domain.CampaignSpend
	if err := r.DB.WithContext(ctx).
		Model(&domain.LedgerRow{}).
		Select("COALESCE(NULLIF(campaign_id, ''), entity_id) AS campaign_id, "+
			"COALESCE(SUM(spend_micros), 0) AS spend_micros, COALESCE(SUM(sales_micros), 0) AS sales_micros").
		Where("profile_id = ? AND entity_type = ? AND window_start >= ? AND window_start < ? AND (source = ? OR source = '')",
			profileID, domain.EntityCampaign, from, to, domain.SourceReal).
		Group("COALESCE(NULLIF(campaign_id, ''), entity_id)").
		Order("campaign_id").
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate campaign spend: %w", err)
	}

	return out, nil
}
