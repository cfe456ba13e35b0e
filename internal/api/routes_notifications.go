package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/count", handler.Count)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
		group.DELETE("/checked", handler.DeleteChecked)
		group.DELETE("/:id", handler.Delete)
	}
}
