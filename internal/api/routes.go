package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/kdnsfwd/internal/api/handlers"
	"github.com/jroosing/kdnsfwd/internal/api/middleware"
	"github.com/jroosing/kdnsfwd/internal/config"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RegisterRoutes wires the management API's endpoints onto r.
//
// The swag annotations live in internal/api/handlers; no generated docs
// package is part of this tree or imported here, so /swagger/* serves the
// UI without a registered spec.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiGroup := r.Group("/api/v1")

	if cfg != nil && cfg.API.APIKey != "" {
		apiGroup.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	apiGroup.GET("/health", h.Health)
	apiGroup.GET("/stats", h.Stats)

	apiGroup.GET("/cache", h.ListCacheEntries)
	apiGroup.DELETE("/cache", h.DeleteAllCacheEntries)
}
