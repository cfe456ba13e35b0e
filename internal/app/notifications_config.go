package app

import (
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/services"
)

// BusOptions sizes the in-process event bus.
func (c NotificationsConfig) BusOptions(log *zap.Logger) []events.Option {
	return []events.Option{
		events.WithWorkers(c.Workers),
		events.WithQueueSize(c.QueueSize),
		events.WithLogger(log),
	}
}

// NotifierOptions configures study notification fan-out.
func (c NotificationsConfig) NotifierOptions(host string) []services.NotifierOption {
	return []services.NotifierOption{
		services.WithNotifierHost(host),
		services.WithRecipientConcurrency(c.RecipientConcurrency),
		services.WithRecipientTimeout(c.RecipientTimeout),
	}
}
