package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/loadants/internal/api/handlers"
	"github.com/jroosing/loadants/internal/api/middleware"
	"github.com/jroosing/loadants/internal/config"
	"github.com/jroosing/loadants/internal/metrics"

	_ "github.com/jroosing/loadants/internal/api/docs" // swagger docs
)

// RegisterRoutes mounts the admin API, its swagger UI, and (when met is
// non-nil) a Prometheus /metrics scrape endpoint onto r.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config, met *metrics.Registry) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if met != nil {
		handler := promhttp.HandlerFor(met.Gatherer(), promhttp.HandlerOpts{})
		r.GET("/metrics", gin.WrapH(handler))
	}

	apiGroup := r.Group("/api/v1")

	if cfg != nil && cfg.API.APIKey != "" {
		apiGroup.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	apiGroup.GET("/health", h.Health)
	apiGroup.GET("/stats", h.Stats)
	apiGroup.GET("/rules", h.GetRules)
	apiGroup.POST("/rules/reload", h.ReloadRules)
}
