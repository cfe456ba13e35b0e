package realtime

// Named realtime streams.
const (
	StreamNotifications = "notifications"
)

// Events emitted on the notifications stream.
const (
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventNotificationReadAll = "notification.read_all"
	EventNotificationDeleted = "notification.deleted"
)
