package router

import (
	"github.com/labstack/echo/v4"

	"adsOptimizer/internal/rest"
)

func SetOptimizerRoutes(api *echo.Group, handler *rest.OptimizerHandler) {
	profiles := api.Group("/optimizer/profiles/:profile_id")

	profiles.POST("/runs", handler.RunBatch)
	profiles.GET("/runs", handler.ListRuns)
	profiles.POST("/observations", handler.Observations)
	profiles.GET("/status", handler.Status)
	profiles.GET("/model-accuracy", handler.ModelAccuracy)
	profiles.GET("/portfolio", handler.Portfolio)

	entities := profiles.Group("/entities/:entity_type/:entity_id")
	entities.GET("", handler.GetEntity)
	entities.GET("/explain", handler.Explain)
	entities.POST("/optimize", handler.Optimize)
	entities.PUT("/enablement", handler.SetEnablement)
}

func SetOptimizerAdminRoutes(api *echo.Group, handler *rest.OptimizerAdminHandler, guards ...echo.MiddlewareFunc) {
	admin := api.Group("/admin/optimizer", guards...)

	admin.GET("/config", handler.GetConfig)
	admin.PUT("/config", handler.UpsertConfig)
}
