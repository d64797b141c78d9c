package rest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AMFarhan21/fres"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"adsOptimizer/business/controller"
	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
	"adsOptimizer/pkg/logger"
	"adsOptimizer/pkg/metrics"
)

type (
	OptimizerHandler struct {
		validate  *validator.Validate
		optimizer OptimizerService
		runs      RunController
		portfolio PortfolioReader
		timeout   time.Duration
		throttle  *profileThrottle
	}

	OptimizerService interface {
		ProcessEntity(ctx context.Context, key domain.EntityKey, obs []domain.Observation, runID string, optimize bool) (optimizer.EntityResult, error)
		Entity(ctx context.Context, key domain.EntityKey) (*domain.EntityView, error)
		Explain(ctx context.Context, key domain.EntityKey) (*optimizer.Explanation, error)
		SetEnablement(ctx context.Context, key domain.EntityKey, campaignID string, enabled bool) (*domain.BidState, error)
		ModelAccuracy(ctx context.Context, profileID string) (domain.ModelAccuracy, error)
	}

	RunController interface {
		RunBatch(ctx context.Context, profileID string) (*domain.RunReport, error)
		TriggerEntity(ctx context.Context, key domain.EntityKey) (*domain.RunReport, error)
		Status(ctx context.Context, profileID string) (*domain.OptimizerStatus, error)
		ListRuns(ctx context.Context, profileID string, limit int) ([]domain.OptimizerRun, error)
	}

	PortfolioReader interface {
		Latest(ctx context.Context, profileID string, topN int) (*domain.PortfolioPlan, error)
	}

	ObservationsRequest struct {
		Observations []domain.Observation `json:"observations" validate:"required,min=1,max=1000,dive"`
	}

	EnablementRequest struct {
		Enabled    *bool  `json:"enabled" validate:"required"`
		CampaignID string `json:"campaign_id"`
	}

	RateLimitedResponse struct {
		Message           string `json:"message"`
		Status            string `json:"status"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}

	RunFailedResponse struct {
		Message string               `json:"message"`
		Run     *domain.OptimizerRun `json:"run,omitempty"`
	}

	IngestResult struct {
		Folded   int                      `json:"folded"`
		Skipped  int                      `json:"skipped"`
		Entities []optimizer.EntityResult `json:"entities"`
	}
)

type OptimizerHandlerOptions struct {
	Timeout     time.Duration
	IngestRPS   float64
	IngestBurst int
}

func NewOptimizerHandler(svc OptimizerService, runs RunController, pf PortfolioReader, o OptimizerHandlerOptions) *OptimizerHandler {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return &OptimizerHandler{
		validate:  validator.New(),
		optimizer: svc,
		runs:      runs,
		portfolio: pf,
		timeout:   o.Timeout,
		throttle:  newProfileThrottle(rate.Limit(o.IngestRPS), o.IngestBurst),
	}
}

// profileThrottle keeps one token bucket per profile so a single noisy sync
// job cannot starve the others.
type profileThrottle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newProfileThrottle(limit rate.Limit, burst int) *profileThrottle {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &profileThrottle{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (t *profileThrottle) allow(profileID string) bool {
	t.mu.Lock()
	l, ok := t.limiters[profileID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[profileID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

func entityKey(c echo.Context) (domain.EntityKey, error) {
	key := domain.EntityKey{
		ProfileID:  c.Param("profile_id"),
		EntityType: domain.EntityType(c.Param("entity_type")),
		EntityID:   c.Param("entity_id"),
	}
	if key.ProfileID == "" || key.EntityID == "" {
		return key, errors.New("profile_id and entity_id are required")
	}
	if !key.EntityType.Valid() {
		return key, errors.New("entity_type must be one of campaign, ad_group, keyword, target")
	}
	return key, nil
}

// writeError maps business errors to HTTP responses.
func writeError(c echo.Context, err error) error {
	var rl *optimizer.RateLimitedError
	switch {
	case errors.As(err, &rl):
		metrics.RateLimitedTotal.Inc()
		secs := int(math.Ceil(rl.Remaining.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, RateLimitedResponse{
			Message:           err.Error(),
			Status:            "rate_limited",
			RetryAfterSeconds: secs,
		})
	case errors.Is(err, optimizer.ErrInsufficientData):
		return c.JSON(http.StatusUnprocessableEntity, ResponseError{Message: err.Error()})
	case errors.Is(err, optimizer.ErrStateNotFound):
		return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
	case errors.Is(err, optimizer.ErrLeaseHeld), errors.Is(err, optimizer.ErrVersionConflict),
		errors.Is(err, controller.ErrEntityDisabled):
		return c.JSON(http.StatusConflict, ResponseError{Message: err.Error()})
	case errors.Is(err, optimizer.ErrInvalidObservation):
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, ResponseError{Message: "request timed out"})
	default:
		logger.Error("optimizer request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}
}

// POST /api/v1/optimizer/profiles/:profile_id/runs
func (h *OptimizerHandler) RunBatch(c echo.Context) error {
	profileID := c.Param("profile_id")
	if profileID == "" {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "profile_id is required"})
	}

	// batch runs outlive short request timeouts; cancellation still stops
	// them at the next entity boundary
	report, err := h.runs.RunBatch(c.Request().Context(), profileID)
	if err != nil {
		if errors.Is(err, controller.ErrRunFailure) && report != nil {
			return c.JSON(http.StatusInternalServerError, RunFailedResponse{Message: err.Error(), Run: &report.Run})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, fres.Response.StatusCreated(report))
}

// GET /api/v1/optimizer/profiles/:profile_id/runs?limit=20
func (h *OptimizerHandler) ListRuns(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.runs.ListRuns(ctx, c.Param("profile_id"), limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(runs))
}

// POST /api/v1/optimizer/profiles/:profile_id/entities/:entity_type/:entity_id/optimize
func (h *OptimizerHandler) Optimize(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	report, err := h.runs.TriggerEntity(ctx, key)
	if err != nil {
		if errors.Is(err, controller.ErrRunFailure) && report != nil {
			return c.JSON(http.StatusInternalServerError, RunFailedResponse{Message: err.Error(), Run: &report.Run})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(report))
}

// GET .../entities/:entity_type/:entity_id
func (h *OptimizerHandler) GetEntity(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	view, err := h.optimizer.Entity(ctx, key)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(view))
}

// GET .../entities/:entity_type/:entity_id/explain
func (h *OptimizerHandler) Explain(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	out, err := h.optimizer.Explain(ctx, key)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(out))
}

// PUT .../entities/:entity_type/:entity_id/enablement
func (h *OptimizerHandler) SetEnablement(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	var req EnablementRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	state, err := h.optimizer.SetEnablement(ctx, key, req.CampaignID, *req.Enabled)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(state))
}

// POST /api/v1/optimizer/profiles/:profile_id/observations
func (h *OptimizerHandler) Observations(c echo.Context) error {
	profileID := c.Param("profile_id")
	if !h.throttle.allow(profileID) {
		metrics.IngestThrottledTotal.Inc()
		return c.JSON(http.StatusTooManyRequests, ResponseError{Message: "ingestion throttled, retry later"})
	}

	var req ObservationsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	// group by entity and keep the request order inside each group
	order := make([]domain.EntityKey, 0)
	byKey := make(map[domain.EntityKey][]domain.Observation)
	for _, o := range req.Observations {
		if o.ProfileID != profileID {
			return c.JSON(http.StatusBadRequest, ResponseError{Message: "observation profile_id does not match path"})
		}
		if o.Source == "" {
			o.Source = domain.SourceReal
		}
		k := o.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], o)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	out := IngestResult{Entities: make([]optimizer.EntityResult, 0, len(order))}
	for _, k := range order {
		res, err := h.optimizer.ProcessEntity(ctx, k, byKey[k], "", false)
		if err != nil && !errors.Is(err, optimizer.ErrLeaseHeld) {
			return writeError(c, err)
		}
		out.Folded += res.Folded
		out.Skipped += res.Skipped
		out.Entities = append(out.Entities, res)
	}

	return c.JSON(http.StatusAccepted, fres.Response.StatusOK(out))
}

// GET /api/v1/optimizer/profiles/:profile_id/status
func (h *OptimizerHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	status, err := h.runs.Status(ctx, c.Param("profile_id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(status))
}

// GET /api/v1/optimizer/profiles/:profile_id/model-accuracy
func (h *OptimizerHandler) ModelAccuracy(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	acc, err := h.optimizer.ModelAccuracy(ctx, c.Param("profile_id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(acc))
}

// GET /api/v1/optimizer/profiles/:profile_id/portfolio?n=10
func (h *OptimizerHandler) Portfolio(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	n, _ := strconv.Atoi(c.QueryParam("n"))
	plan, err := h.portfolio.Latest(ctx, c.Param("profile_id"), n)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, fres.Response.StatusOK(plan))
}
