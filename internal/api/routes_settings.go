package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerSettingsRoutes(public, protected *gin.RouterGroup, handler *handlers.SettingsHandler) {
	public.GET("/profile/:nickname", handler.Profile)

	settings := protected.Group("/settings")
	{
		settings.PUT("/profile", handler.UpdateProfile)
		settings.PUT("/password", handler.UpdatePassword)
		settings.GET("/notifications", handler.Notifications)
		settings.PUT("/notifications", handler.UpdateNotifications)
		settings.PUT("/nickname", handler.UpdateNickname)

		settings.GET("/tags", handler.Tags)
		settings.POST("/tags/add", handler.AddTag)
		settings.POST("/tags/remove", handler.RemoveTag)

		settings.GET("/zones", handler.Zones)
		settings.POST("/zones/add", handler.AddZone)
		settings.POST("/zones/remove", handler.RemoveZone)
	}
}
