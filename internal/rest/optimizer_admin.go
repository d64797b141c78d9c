package rest

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

type OptimizerAdminHandler struct {
	validate *validator.Validate
	cfgRepo  optimizer.ConfigRepository
	defaults optimizer.Config
}

func NewOptimizerAdminHandler(cfgRepo optimizer.ConfigRepository, defaults optimizer.Config) *OptimizerAdminHandler {
	return &OptimizerAdminHandler{
		validate: validator.New(),
		cfgRepo:  cfgRepo,
		defaults: defaults,
	}
}

// GET /api/v1/admin/optimizer/config?profile_id=ENTITY123
func (h *OptimizerAdminHandler) GetConfig(c echo.Context) error {
	ctx := c.Request().Context()
	profileID := c.QueryParam("profile_id")

	if profileID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "profile_id is required",
		})
	}

	cfg, ok, err := h.cfgRepo.GetConfig(ctx, profileID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": err.Error(),
		})
	}

	// an unconfigured profile runs on the process defaults
	return c.JSON(http.StatusOK, echo.Map{
		"profile_id": profileID,
		"overrides":  cfg,
		"configured": ok,
		"effective":  effectiveView(optimizer.EffectiveConfig(h.defaults, cfg, ok)),
	})
}

// PUT /api/v1/admin/optimizer/config
// body: OptimizerConfig JSON
func (h *OptimizerAdminHandler) UpsertConfig(c echo.Context) error {
	ctx := c.Request().Context()

	var body domain.OptimizerConfig
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "invalid body: " + err.Error(),
		})
	}
	if err := h.validate.Struct(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": err.Error(),
		})
	}
	if body.MinBidMicros > 0 && body.MaxBidMicros > 0 && body.MaxBidMicros < body.MinBidMicros {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "max_bid_micros must not be below min_bid_micros",
		})
	}

	if err := h.cfgRepo.UpsertConfig(ctx, body); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": "ok",
	})
}

func effectiveView(cfg optimizer.Config) echo.Map {
	return echo.Map{
		"target_acos":          cfg.TargetACOS,
		"min_observations":     cfg.MinObservations,
		"min_impressions":      cfg.MinImpressions,
		"cooldown_seconds":     int64(cfg.Cooldown.Seconds()),
		"max_bid_change_pct":   cfg.MaxBidChangePct,
		"max_spend_change_pct": cfg.MaxSpendChangePct,
		"curve_trust_r2":       cfg.CurveTrustR2,
		"min_bid_micros":       cfg.MinBidMicros,
		"max_bid_micros":       cfg.MaxBidMicros,
	}
}
