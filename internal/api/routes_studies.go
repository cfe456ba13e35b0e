package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerStudyRoutes(public, protected *gin.RouterGroup, handler *handlers.StudyHandler) {
	public.GET("/studies/search", handler.Search)
	public.GET("/studies/recent", handler.Recent)
	public.GET("/studies/:path", handler.Get)

	protected.GET("/feed", handler.Feed)
	protected.POST("/studies", handler.Create)

	study := protected.Group("/studies/:path")
	{
		study.DELETE("", handler.Remove)
		study.POST("/join", handler.Join)
		study.POST("/leave", handler.Leave)
	}

	settings := study.Group("/settings")
	{
		settings.GET("", handler.Settings)
		settings.PUT("/description", handler.UpdateDescription)
		settings.PUT("/banner", handler.UpdateBanner)
		settings.POST("/tags/add", handler.AddTag)
		settings.POST("/tags/remove", handler.RemoveTag)
		settings.POST("/zones/add", handler.AddZone)
		settings.POST("/zones/remove", handler.RemoveZone)
		settings.POST("/publish", handler.Publish)
		settings.POST("/close", handler.Close)
		settings.POST("/recruit/start", handler.StartRecruit)
		settings.POST("/recruit/stop", handler.StopRecruit)
		settings.PUT("/path", handler.UpdatePath)
		settings.PUT("/title", handler.UpdateTitle)
	}
}
