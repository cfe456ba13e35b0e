package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/handlers"
)

func registerAuthRoutes(public, protected *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := public.Group("/auth")
	{
		auth.POST("/sign-up", handler.SignUp)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.GET("/check-email-token", handler.CheckEmailToken)
		auth.POST("/email-login", handler.SendLoginLink)
		auth.GET("/login-by-email", handler.LoginByEmail)
	}

	protected.GET("/auth/me", handler.Me)
	protected.POST("/auth/logout", handler.Logout)
	protected.POST("/auth/resend-confirm-email", handler.ResendConfirmEmail)
}
