package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"adsOptimizer/business/optimizer"
)

// Trace makes the request id available to business code as the trace id,
// generating one when the caller sent none.
func Trace() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// RequestID middleware writes the id on the response
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			ctx := optimizer.WithTraceID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
