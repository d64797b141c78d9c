package optimizer

import (
	"context"
	"time"

	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
)

// ConfigLoader resolves the effective Config for a profile: compiled defaults
// overridden by whatever non-zero values the profile row carries.
type ConfigLoader struct {
	repo       ConfigRepository
	defaultCfg Config
}

func NewConfigLoader(repo ConfigRepository, defaultCfg Config) *ConfigLoader {
	return &ConfigLoader{repo: repo, defaultCfg: defaultCfg}
}

func (l *ConfigLoader) Load(ctx context.Context, profileID string) Config {
	if l == nil {
		return DefaultConfig()
	}
	if l.repo == nil {
		return l.defaultCfg
	}

	row, ok, err := l.repo.GetConfig(ctx, profileID)
	if err != nil {
		logger.Warn("optimizer config lookup failed, using defaults", "profile_id", profileID, "error", err)
		return l.defaultCfg
	}
	return EffectiveConfig(l.defaultCfg, row, ok)
}

// EffectiveConfig applies a stored override row, if there is one, to base.
func EffectiveConfig(base Config, row domain.OptimizerConfig, ok bool) Config {
	if !ok {
		return base
	}
	return mergeConfig(base, row)
}

func mergeConfig(base Config, row domain.OptimizerConfig) Config {
	cfg := base

	if row.TargetACOS > 0 {
		cfg.TargetACOS = row.TargetACOS
	}
	if row.MinObservations > 0 {
		cfg.MinObservations = row.MinObservations
	}
	if row.MinImpressions > 0 {
		cfg.MinImpressions = row.MinImpressions
	}
	if row.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(row.CooldownSeconds) * time.Second
	}
	if row.MaxBidChangePct > 0 {
		cfg.MaxBidChangePct = row.MaxBidChangePct
	}
	if row.MaxSpendChangePct > 0 {
		cfg.MaxSpendChangePct = row.MaxSpendChangePct
	}
	if row.CurveTrustR2 > 0 {
		cfg.CurveTrustR2 = max(row.CurveTrustR2, domain.MinCurveR2)
	}
	if row.MinBidMicros > 0 {
		cfg.MinBidMicros = row.MinBidMicros
	}
	if row.MaxBidMicros > 0 {
		cfg.MaxBidMicros = row.MaxBidMicros
	}
	if cfg.MaxBidMicros < cfg.MinBidMicros {
		cfg.MinBidMicros, cfg.MaxBidMicros = base.MinBidMicros, base.MaxBidMicros
	}

	// copy so the shared default map is never mutated
	priors := make(map[domain.EntityType]Prior, len(base.Priors)+len(row.Priors))
	for k, v := range base.Priors {
		priors[k] = v
	}
	for k, v := range row.Priors {
		if v[0] > 0 && v[1] > 0 {
			priors[k] = Prior{Alpha: v[0], Beta: v[1]}
		}
	}
	cfg.Priors = priors

	return cfg
}
