package optimizer

import (
	"context"
	"time"

	"adsOptimizer/domain"
)

// Prior is an informative Beta prior for a category of entities.
type Prior struct {
	Alpha float64
	Beta  float64
}

type Config struct {
	// spend / sales the selector aims for
	TargetACOS float64

	MinObservations int64
	MinImpressions  int64
	Cooldown        time.Duration

	// per-cycle limits, as fractions (0.5 = 50%)
	MaxBidChangePct   float64
	MaxSpendChangePct float64

	CurveTrustR2 float64
	MinBidLevels int

	// account-level bid policy
	MinBidMicros int64
	MaxBidMicros int64

	// posterior standard error thresholds for the confidence label
	TightStdErr    float64
	ModerateStdErr float64

	// evidence weight at which confidence_pct reaches 50
	ConfidenceHalfWeight float64

	// bid history points kept for the curve fitter
	MaxHistoryPoints int

	LeaseTTL time.Duration

	Priors map[domain.EntityType]Prior
}

const (
	defaultTargetACOS           = 0.30
	defaultMinObservations      = 7
	defaultMinImpressions       = 100
	defaultCooldown             = time.Hour
	defaultMaxBidChangePct      = 0.5
	defaultMaxSpendChangePct    = 0.2
	defaultCurveTrustR2         = 0.3
	defaultMinBidLevels         = 5
	defaultMinBidMicros         = 20_000
	defaultMaxBidMicros         = 20_000_000
	defaultTightStdErr          = 0.05
	defaultModerateStdErr       = 0.10
	defaultConfidenceHalfWeight = 50.0
	defaultMaxHistoryPoints     = 180
	defaultLeaseTTL             = 2 * time.Minute
	defaultPriorAlpha           = 1.0
	defaultPriorBeta            = 1.0
)

func DefaultConfig() Config {
	return Config{
		TargetACOS:      defaultTargetACOS,
		MinObservations: defaultMinObservations,
		MinImpressions:  defaultMinImpressions,
		Cooldown:        defaultCooldown,

		MaxBidChangePct:   defaultMaxBidChangePct,
		MaxSpendChangePct: defaultMaxSpendChangePct,

		CurveTrustR2: defaultCurveTrustR2,
		MinBidLevels: defaultMinBidLevels,

		MinBidMicros: defaultMinBidMicros,
		MaxBidMicros: defaultMaxBidMicros,

		TightStdErr:          defaultTightStdErr,
		ModerateStdErr:       defaultModerateStdErr,
		ConfidenceHalfWeight: defaultConfidenceHalfWeight,

		MaxHistoryPoints: defaultMaxHistoryPoints,
		LeaseTTL:         defaultLeaseTTL,

		Priors: map[domain.EntityType]Prior{},
	}
}

// PriorFor returns the configured prior for an entity type, uniform otherwise.
func (cfg Config) PriorFor(t domain.EntityType) Prior {
	if p, ok := cfg.Priors[t]; ok && p.Alpha > 0 && p.Beta > 0 {
		return p
	}
	return Prior{Alpha: defaultPriorAlpha, Beta: defaultPriorBeta}
}

// read per-profile optimizer overrides from DB.
type ConfigRepository interface {
	GetConfig(ctx context.Context, profileID string) (domain.OptimizerConfig, bool, error)
	UpsertConfig(ctx context.Context, cfg domain.OptimizerConfig) error
}
