package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/pkg/logger"
)

const (
	defaultNotificationRetentionDays = 30
	defaultSessionSpec               = "@hourly"
	defaultNotificationSpec          = "@daily"
	defaultCacheSpec                 = "@every 10m"
)

// SessionCleaner removes refresh sessions that can no longer be used.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// NotificationPurger removes read notifications created before cutoff.
type NotificationPurger interface {
	PurgeCheckedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CachePurger drops expired rows from the database cache.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Stats reports how many rows one cleanup pass removed.
type Stats struct {
	Sessions      int64
	Notifications int64
	CacheEntries  int64
}

// Cleaner runs periodic cleanup of sessions, read notifications and cache rows.
type Cleaner struct {
	sessions      SessionCleaner
	notifications NotificationPurger
	cache         CachePurger
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	retention     int

	sessionSchedule      string
	notificationSchedule string
	cacheSchedule        string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoff comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithNotificationRetentionDays adjusts how long read notifications are kept.
func WithNotificationRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithNotificationSchedule overrides the cron specification for notification retention.
func WithNotificationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.notificationSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the corresponding job being skipped.
func NewCleaner(sessions SessionCleaner, notifications NotificationPurger, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:             sessions,
		notifications:        notifications,
		cache:                cache,
		now:                  time.Now,
		retention:            defaultNotificationRetentionDays,
		sessionSchedule:      defaultSessionSpec,
		notificationSchedule: defaultNotificationSpec,
		cacheSchedule:        defaultCacheSpec,
		log:                  logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.sessions != nil {
		jobs = append(jobs, job{"sessions", c.sessionSchedule, c.sessions.CleanupExpired})
	}
	if c.notifications != nil {
		jobs = append(jobs, job{"notifications", c.notificationSchedule, func(ctx context.Context) (int64, error) {
			return c.notifications.PurgeCheckedBefore(ctx, c.now().AddDate(0, 0, -c.retention))
		}})
	}
	if c.cache != nil {
		jobs = append(jobs, job{"cache", c.cacheSchedule, func(ctx context.Context) (int64, error) {
			return c.cache.PurgeExpired(ctx, c.now())
		}})
	}
	return jobs
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		if _, err := c.cron.AddFunc(j.schedule, func() {
			removed, err := j.run(context.Background())
			if err != nil {
				c.log.Warn("cleanup failed", zap.String("job", j.name), zap.Error(err))
				return
			}
			if removed > 0 {
				c.log.Info("cleanup completed", zap.String("job", j.name), zap.Int64("removed", removed))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s %q: %w", j.name, j.schedule, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. A failing job does not stop the others.
func (c *Cleaner) RunOnce(ctx context.Context) (Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats Stats
		errs  error
	)
	for _, j := range c.jobs() {
		removed, err := j.run(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
			continue
		}
		switch j.name {
		case "sessions":
			stats.Sessions = removed
		case "notifications":
			stats.Notifications = removed
		case "cache":
			stats.CacheEntries = removed
		}
	}
	return stats, errs
}
