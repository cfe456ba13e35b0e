package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/app"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/handlers"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/internal/services"
)

// Dependencies carries the long-lived services the HTTP layer is built from.
type Dependencies struct {
	DB            *gorm.DB
	Config        *app.Config
	JWT           *iauth.JWTService
	Sessions      *iauth.SessionService
	Accounts      *services.AccountService
	Studies       *services.StudyService
	Events        *services.EventService
	Tags          *services.TagService
	Zones         *services.ZoneService
	Notifications *services.NotificationService
	Hub           *realtime.Hub
	// RateStore is optional; the in-memory store is used when nil.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.Accounts == nil:
		return fmt.Errorf("account service must be provided")
	case d.Studies == nil:
		return fmt.Errorf("study service must be provided")
	case d.Events == nil:
		return fmt.Errorf("event service must be provided")
	case d.Tags == nil || d.Zones == nil:
		return fmt.Errorf("tag and zone services must be provided")
	case d.Notifications == nil:
		return fmt.Errorf("notification service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(metricsEndpoint(cfg)))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}
	r.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerHealthRoutes(r, deps.DB, cfg)

	requireAuth := middleware.Auth(deps.JWT)
	optionalAuth := middleware.OptionalAuth(deps.JWT)

	api := r.Group("/api")
	protected := api.Group("")
	protected.Use(requireAuth)

	registerAuthRoutes(api, protected, handlers.NewAuthHandler(deps.Accounts, deps.Sessions))
	registerSettingsRoutes(api.Group("", optionalAuth), protected,
		handlers.NewSettingsHandler(deps.Accounts, deps.Tags, deps.Zones))
	registerStudyRoutes(api.Group("", optionalAuth), protected, handlers.NewStudyHandler(deps.Studies))
	registerEventRoutes(api.Group("", optionalAuth), protected, handlers.NewEventHandler(deps.Events))
	registerNotificationRoutes(protected, handlers.NewNotificationHandler(deps.Notifications))

	if deps.Hub != nil {
		// The socket authenticates itself since browsers cannot send headers on upgrade.
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, realtime.StreamNotifications)
		api.GET("/ws", realtimeHandler.Stream)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func metricsEndpoint(cfg *app.Config) string {
	if cfg == nil || !cfg.Server.Metrics.Enabled || cfg.Server.Metrics.Endpoint == "" {
		return "/metrics"
	}
	return cfg.Server.Metrics.Endpoint
}
