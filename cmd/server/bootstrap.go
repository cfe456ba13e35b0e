package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/api"
	"github.com/charlesng35/studyhub/internal/app"
	"github.com/charlesng35/studyhub/internal/app/maintenance"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/cache"
	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Bus       *events.Bus
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	var shared cache.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			shared = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewStoreSessionCache(shared)
	sessionSvc, err := iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	mailer, err := cfg.Email.NewMailer(logger.WithModule("mail"))
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	stack.Bus = events.NewBus(cfg.Notifications.BusOptions(logger.WithModule("events"))...)

	accounts, err := services.NewAccountService(stack.DB, mailer, services.WithAccountHost(cfg.App.Host))
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}
	studies, err := services.NewStudyService(stack.DB, stack.Bus)
	if err != nil {
		return nil, fmt.Errorf("initialise study service: %w", err)
	}
	meetups, err := services.NewEventService(stack.DB, stack.Bus)
	if err != nil {
		return nil, fmt.Errorf("initialise event service: %w", err)
	}
	tags, err := services.NewTagService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise tag service: %w", err)
	}
	zones, err := services.NewZoneService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise zone service: %w", err)
	}

	hub := realtime.NewHub()
	notifications, err := services.NewNotificationService(stack.DB, hub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	notifier, err := services.NewStudyNotifier(stack.DB, mailer, notifications,
		cfg.Notifications.NotifierOptions(cfg.App.Host)...)
	if err != nil {
		return nil, fmt.Errorf("initialise study notifier: %w", err)
	}
	notifier.Register(stack.Bus)
	stack.Bus.Start(context.WithoutCancel(ctx))

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(sessionSvc, notifications, dbStore,
			maintenance.WithNotificationRetentionDays(cfg.Maintenance.NotificationRetentionDays),
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithNotificationSchedule(cfg.Maintenance.NotificationSchedule),
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.RateStore = middleware.NewCacheRateStore(shared)

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		Config:        cfg,
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Accounts:      accounts,
		Studies:       studies,
		Events:        meetups,
		Tags:          tags,
		Zones:         zones,
		Notifications: notifications,
		Hub:           hub,
		RateStore:     stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
// Queued study events are drained before the database closes.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if _, err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Bus != nil {
		s.Bus.Close()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
