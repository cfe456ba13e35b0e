package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/app"
	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg *app.Config) {
	health := handlers.Health(db)
	r.GET("/health", health)
	r.GET("/api/health", health)

	if cfg != nil && cfg.Server.Metrics.Enabled {
		r.GET(metricsEndpoint(cfg), gin.WrapH(promhttp.Handler()))
	}
}
