package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/realtime"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string                  `json:"id"`
	AccountID string                  `json:"account_id"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Link      string                  `json:"link"`
	Message   string                  `json:"message"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
	Checked   bool                    `json:"checked"`
	CreatedAt time.Time               `json:"created_at"`
	CheckedAt *time.Time              `json:"checked_at,omitempty"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	AccountID string
	Type      models.NotificationType
	Title     string
	Link      string
	Message   string
	Metadata  map[string]any
}

// ListNotificationsInput defines filters for querying account notifications.
type ListNotificationsInput struct {
	AccountID string
	Checked   *bool
	Limit     int
	Offset    int
}

// NotificationEventPayload represents data sent to realtime consumers.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notification_id,omitempty"`
}

// NotificationService manages in-app notifications.
type NotificationService struct {
	db  *gorm.DB
	hub realtime.Publisher
	now func() time.Time
}

// NewNotificationService constructs a NotificationService. hub may be nil.
func NewNotificationService(db *gorm.DB, hub realtime.Publisher) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, hub: hub, now: systemClock}, nil
}

// Create persists a notification and pushes it to the account's open connections.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	accountID := strings.TrimSpace(input.AccountID)
	if accountID == "" {
		return nil, errors.New("notification service: account id is required")
	}
	if strings.TrimSpace(string(input.Type)) == "" {
		return nil, errors.New("notification service: type is required")
	}

	notification := models.Notification{
		AccountID: accountID,
		Type:      input.Type,
		Title:     strings.TrimSpace(input.Title),
		Link:      strings.TrimSpace(input.Link),
		Message:   strings.TrimSpace(input.Message),
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	s.broadcast(accountID, realtime.EventNotificationCreated, &NotificationEventPayload{Notification: &dto})
	return &dto, nil
}

// ListForAccount returns notifications ordered by recency, optionally filtered by checked state.
func (s *NotificationService) ListForAccount(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	accountID := strings.TrimSpace(input.AccountID)
	if accountID == "" {
		return nil, errors.New("notification service: account id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Where("account_id = ?", accountID)
	if input.Checked != nil {
		query = query.Where("checked = ?", *input.Checked)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}
	return mapNotificationRows(rows), nil
}

// ViewNew returns the unchecked notifications and marks them checked, as viewing them does.
func (s *NotificationService) ViewNew(ctx context.Context, accountID string) ([]NotificationDTO, error) {
	unchecked := false
	items, err := s.ListForAccount(ctx, ListNotificationsInput{AccountID: accountID, Checked: &unchecked, Limit: 100})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	now := s.now()
	if err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Notification{}).
		Where("account_id = ? AND id IN ?", accountID, ids).
		Updates(map[string]any{"checked": true, "checked_at": now}).Error; err != nil {
		return nil, fmt.Errorf("notification service: check notifications: %w", err)
	}
	return items, nil
}

// ListOld returns notifications already checked.
func (s *NotificationService) ListOld(ctx context.Context, accountID string, limit, offset int) ([]NotificationDTO, error) {
	checked := true
	return s.ListForAccount(ctx, ListNotificationsInput{AccountID: accountID, Checked: &checked, Limit: limit, Offset: offset})
}

// CountUnchecked reports how many notifications the account has not seen.
func (s *NotificationService) CountUnchecked(ctx context.Context, accountID string) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("account_id = ? AND checked = ?", accountID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unchecked: %w", err)
	}
	return count, nil
}

// MarkRead checks a single notification owned by the account.
func (s *NotificationService) MarkRead(ctx context.Context, accountID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", notificationID, accountID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&notification).
		Updates(map[string]any{
			"checked":    true,
			"checked_at": now,
		}).Error; err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}
	notification.Checked = true
	notification.CheckedAt = &now

	dto := mapNotification(notification)
	s.broadcast(accountID, realtime.EventNotificationRead, &NotificationEventPayload{
		Notification:   &dto,
		NotificationID: notification.ID,
	})
	return &dto, nil
}

// MarkAllRead checks every notification of the account.
func (s *NotificationService) MarkAllRead(ctx context.Context, accountID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("account_id = ? AND checked = ?", accountID, false).
		Updates(map[string]any{
			"checked":    true,
			"checked_at": s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	s.broadcast(accountID, realtime.EventNotificationReadAll, nil)
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the account.
func (s *NotificationService) Delete(ctx context.Context, accountID, notificationID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", notificationID, accountID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}

	s.broadcast(accountID, realtime.EventNotificationDeleted, &NotificationEventPayload{
		NotificationID: notificationID,
	})
	return nil
}

// DeleteChecked removes every checked notification of the account.
func (s *NotificationService) DeleteChecked(ctx context.Context, accountID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("account_id = ? AND checked = ?", accountID, true).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: delete checked: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeCheckedBefore removes checked notifications older than cutoff across all accounts.
func (s *NotificationService) PurgeCheckedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("checked = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: purge checked: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) broadcast(accountID, event string, payload *NotificationEventPayload) {
	if s.hub == nil {
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamNotifications,
		Event:  event,
	}
	if payload != nil {
		message.Data = payload
	}
	s.hub.BroadcastToAccount(realtime.StreamNotifications, accountID, message)
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		AccountID: row.AccountID,
		Type:      row.Type,
		Title:     row.Title,
		Link:      row.Link,
		Message:   row.Message,
		Metadata:  decodeJSON(row.Metadata),
		Checked:   row.Checked,
		CreatedAt: row.CreatedAt,
		CheckedAt: row.CheckedAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
