package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adsOptimizer/app/echo-server/router"
	"adsOptimizer/business/controller"
	"adsOptimizer/business/optimizer"
	"adsOptimizer/business/portfolio"
	"adsOptimizer/domain"
	"adsOptimizer/internal/middleware"
	psqlRepo "adsOptimizer/internal/repository/postgres"
	redisRepo "adsOptimizer/internal/repository/redis"
	"adsOptimizer/internal/rest"
	"adsOptimizer/pkg/config"
	"adsOptimizer/pkg/database"
	redisdb "adsOptimizer/pkg/database/redis"
	"adsOptimizer/pkg/logger"
	"adsOptimizer/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.App.Environment)
	defer logger.Sync()
	logger.Info("Starting Ads Optimizer", "version", cfg.App.Version)

	db, err := database.InitPostgres(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	logger.Info("Database connected successfully")

	redisClient, err := redisdb.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisdb.CloseRedisClient(redisClient)

	metrics.Init()

	// Init repo
	stateRepo := psqlRepo.NewBidStateRepository(db)
	fitRepo := psqlRepo.NewCurveFitRepository(db)
	runRepo := psqlRepo.NewOptimizerRunRepository(db)
	portfolioRepo := psqlRepo.NewPortfolioRepository(db)
	configRepo := psqlRepo.NewOptimizerConfigRepository(db)
	ledgerRepo := psqlRepo.NewLedgerRepository(db)
	leaseRepo := redisRepo.NewLeaseRepository(redisClient)

	// Init service
	defaults := optimizerDefaults(cfg)
	seed := cfg.Optimizer.SamplerSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	optimizerService := optimizer.NewService(
		stateRepo,
		fitRepo,
		leaseRepo,
		optimizer.NewConfigLoader(configRepo, defaults),
		optimizer.NewSelector(optimizer.NewRandSampler(seed)),
		optimizer.NoopEligibilityChecker{},
	)
	portfolioService := portfolio.NewService(ledgerRepo, optimizerService, portfolioRepo)
	runController := controller.New(optimizerService, portfolioService, runRepo, ledgerRepo, controller.Options{
		Lookback: cfg.Optimizer.LedgerLookback,
		Workers:  cfg.Optimizer.Workers,
	})

	// Init handler
	optimizerHandler := rest.NewOptimizerHandler(optimizerService, runController, portfolioService, rest.OptimizerHandlerOptions{
		Timeout:     cfg.Server.RequestTimeout,
		IngestRPS:   cfg.Server.IngestRPS,
		IngestBurst: cfg.Server.IngestBurst,
	})
	adminHandler := rest.NewOptimizerAdminHandler(configRepo, defaults)

	// Init echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// HTTP error handler
	e.HTTPErrorHandler = middleware.ErrorHandler

	// Global middleware
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.Trace())
	e.Use(metrics.Middleware())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	// Setup routes
	api := e.Group("/api/v1")
	router.SetOptimizerRoutes(api, optimizerHandler)

	var adminGuards []echo.MiddlewareFunc
	if cfg.Server.AdminAPIKey != "" {
		adminGuards = append(adminGuards, echomiddleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return key == cfg.Server.AdminAPIKey, nil
		}))
	} else {
		logger.Warn("ADMIN_API_KEY not set, admin routes are unauthenticated")
	}
	router.SetOptimizerAdminRoutes(api, adminHandler, adminGuards...)

	// Batch scheduler
	scheduler := controller.NewScheduler(runController, cfg.Optimizer.BatchTimeout)
	if err := scheduler.Start(cfg.Optimizer.BatchCron); err != nil {
		logger.Fatal("Failed to start scheduler", "error", err)
	}

	// Goroutine server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		logger.Info("Server starting", "address", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// in-flight batch runs stop at the next entity boundary
	scheduler.Stop()

	logger.Info("Server stopped")
}

func optimizerDefaults(cfg *config.Config) optimizer.Config {
	d := optimizer.DefaultConfig()
	d.TargetACOS = cfg.Optimizer.TargetACOS
	d.MinObservations = cfg.Optimizer.MinObservations
	d.MinImpressions = cfg.Optimizer.MinImpressions
	d.Cooldown = cfg.Optimizer.Cooldown
	d.MaxBidChangePct = cfg.Optimizer.MaxBidChangePct
	d.CurveTrustR2 = max(cfg.Optimizer.CurveTrustR2, domain.MinCurveR2)
	d.MinBidMicros = cfg.Optimizer.MinBidMicros
	d.MaxBidMicros = cfg.Optimizer.MaxBidMicros
	d.LeaseTTL = cfg.Optimizer.LeaseTTL
	return d
}
