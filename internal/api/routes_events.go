package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerEventRoutes(public, protected *gin.RouterGroup, handler *handlers.EventHandler) {
	public.GET("/studies/:path/events", handler.List)
	public.GET("/studies/:path/events/:id", handler.Get)

	events := protected.Group("/studies/:path/events")
	{
		events.POST("", handler.Create)
		events.PUT("/:id", handler.Update)
		events.DELETE("/:id", handler.Cancel)
		events.POST("/:id/enroll", handler.Enroll)
		events.POST("/:id/disenroll", handler.Disenroll)
	}

	enrollments := events.Group("/:id/enrollments/:enrollmentId")
	{
		enrollments.POST("/accept", handler.Accept)
		enrollments.POST("/reject", handler.Reject)
		enrollments.POST("/checkin", handler.Checkin)
		enrollments.POST("/cancel-checkin", handler.CancelCheckin)
	}
}
