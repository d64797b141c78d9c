package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Optimizer OptimizerConfig
}

type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	AllowOrigins   []string
	// guards the admin routes when set
	AdminAPIKey string
	// observations endpoint throttle, per profile
	IngestRPS   float64
	IngestBurst int
}

type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	SSLMode     string
	AutoMigrate bool
}

type RedisConfig struct {
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

// OptimizerConfig holds process-wide defaults. Per-profile overrides live in
// the optimizer_configs table.
type OptimizerConfig struct {
	TargetACOS      float64
	MinObservations int64
	MinImpressions  int64
	Cooldown        time.Duration
	MaxBidChangePct float64
	CurveTrustR2    float64
	MinBidMicros    int64
	MaxBidMicros    int64
	LeaseTTL        time.Duration
	LedgerLookback  time.Duration
	Workers         int
	BatchCron       string
	BatchTimeout    time.Duration
	SamplerSeed     int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, errors.New("invalid redis database")
	}

	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Ads Optimizer"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			RequestTimeout: getDuration("REQUEST_TIMEOUT", 30*time.Second),
			AllowOrigins:   []string{getEnv("CORS_ORIGIN", "http://localhost:3000")},
			AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),
			IngestRPS:      getFloat("INGEST_RPS", 20),
			IngestBurst:    getInt("INGEST_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Name:        getEnv("DB_NAME", "ads_optimizer"),
			SSLMode:     getEnv("DB_SSL_MODE", "disable"),
			AutoMigrate: getEnv("DB_AUTO_MIGRATE", "true") == "true",
		},
		Redis: RedisConfig{
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnv("REDIS_PORT", "6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       redisDB,
		},
		Optimizer: OptimizerConfig{
			TargetACOS:      getFloat("OPTIMIZER_TARGET_ACOS", 0.30),
			MinObservations: int64(getInt("OPTIMIZER_MIN_OBSERVATIONS", 7)),
			MinImpressions:  int64(getInt("OPTIMIZER_MIN_IMPRESSIONS", 100)),
			Cooldown:        getDuration("OPTIMIZER_COOLDOWN", time.Hour),
			MaxBidChangePct: getFloat("OPTIMIZER_MAX_BID_CHANGE_PCT", 0.5),
			CurveTrustR2:    getFloat("OPTIMIZER_CURVE_TRUST_R2", 0.3),
			MinBidMicros:    int64(getInt("OPTIMIZER_MIN_BID_MICROS", 20_000)),
			MaxBidMicros:    int64(getInt("OPTIMIZER_MAX_BID_MICROS", 20_000_000)),
			LeaseTTL:        getDuration("OPTIMIZER_LEASE_TTL", 2*time.Minute),
			LedgerLookback:  getDuration("OPTIMIZER_LEDGER_LOOKBACK", 72*time.Hour),
			Workers:         getInt("OPTIMIZER_WORKERS", 4),
			BatchCron:       getEnv("BATCH_CRON", "0 */6 * * *"),
			BatchTimeout:    getDuration("BATCH_TIMEOUT", 30*time.Minute),
			SamplerSeed:     int64(getInt("OPTIMIZER_SAMPLER_SEED", 0)),
		},
	}

	if cfg.Database.Password == "" {
		return nil, errors.New("missing database password")
	}
	if cfg.Optimizer.TargetACOS <= 0 {
		return nil, errors.New("OPTIMIZER_TARGET_ACOS must be positive")
	}
	if cfg.Optimizer.MaxBidMicros < cfg.Optimizer.MinBidMicros {
		return nil, errors.New("OPTIMIZER_MAX_BID_MICROS is below OPTIMIZER_MIN_BID_MICROS")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}
