package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/realtime"
)

func TestNotificationServiceCreateAndList(t *testing.T) {
	db := openServiceDB(t)
	account := createAccount(t, db, "alice")
	hub := &recordingHub{}

	svc, err := NewNotificationService(db, hub)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		AccountID: account.ID,
		Type:      models.NotificationStudyCreated,
		Title:     "Spring study",
		Link:      "/study/spring",
		Message:   "A new study matches your interests",
		Metadata:  map[string]any{"study_id": "study-1"},
	})
	require.NoError(t, err)
	require.Equal(t, models.NotificationStudyCreated, dto.Type)
	require.Equal(t, "study-1", dto.Metadata["study_id"])

	items, err := svc.ListForAccount(ctx, ListNotificationsInput{AccountID: account.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, dto.ID, items[0].ID)
	require.False(t, items[0].Checked)

	require.Equal(t, []string{realtime.EventNotificationCreated}, hub.eventsFor(account.ID))
}

func TestNotificationServiceRequiresAccountAndType(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateNotificationInput{Type: models.NotificationStudyUpdated})
	require.Error(t, err)
	_, err = svc.Create(context.Background(), CreateNotificationInput{AccountID: "someone"})
	require.Error(t, err)
}

func TestViewNewChecksNotifications(t *testing.T) {
	db := openServiceDB(t)
	account := createAccount(t, db, "viewer")
	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		_, err := svc.Create(ctx, CreateNotificationInput{AccountID: account.ID, Type: models.NotificationStudyUpdated, Title: title, Link: "/study/x"})
		require.NoError(t, err)
	}

	count, err := svc.CountUnchecked(ctx, account.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	fresh, err := svc.ViewNew(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 2)

	count, err = svc.CountUnchecked(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	old, err := svc.ListOld(ctx, account.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, old, 2)
	require.True(t, old[0].Checked)
	require.NotNil(t, old[0].CheckedAt)

	fresh, err = svc.ViewNew(ctx, account.ID)
	require.NoError(t, err)
	require.Empty(t, fresh)
}

func TestMarkReadDeleteAndOwnership(t *testing.T) {
	db := openServiceDB(t)
	owner := createAccount(t, db, "owner")
	other := createAccount(t, db, "other")
	hub := &recordingHub{}
	svc, err := NewNotificationService(db, hub)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{AccountID: owner.ID, Type: models.NotificationStudyUpdated, Title: "t", Link: "/study/x"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, other.ID, dto.ID)
	require.ErrorIs(t, err, ErrNotificationNotFound)

	read, err := svc.MarkRead(ctx, owner.ID, dto.ID)
	require.NoError(t, err)
	require.True(t, read.Checked)
	require.NotNil(t, read.CheckedAt)

	require.ErrorIs(t, svc.Delete(ctx, other.ID, dto.ID), ErrNotificationNotFound)
	require.NoError(t, svc.Delete(ctx, owner.ID, dto.ID))
	require.ErrorIs(t, svc.Delete(ctx, owner.ID, dto.ID), ErrNotificationNotFound)

	require.Equal(t, []string{
		realtime.EventNotificationCreated,
		realtime.EventNotificationRead,
		realtime.EventNotificationDeleted,
	}, hub.eventsFor(owner.ID))
	require.Empty(t, hub.eventsFor(other.ID))
}

func TestMarkAllReadAndDeleteChecked(t *testing.T) {
	db := openServiceDB(t)
	account := createAccount(t, db, "bulk")
	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateNotificationInput{AccountID: account.ID, Type: models.NotificationStudyCreated, Title: "t", Link: "/study/x"})
		require.NoError(t, err)
	}

	updated, err := svc.MarkAllRead(ctx, account.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, updated)

	_, err = svc.Create(ctx, CreateNotificationInput{AccountID: account.ID, Type: models.NotificationStudyCreated, Title: "new", Link: "/study/x"})
	require.NoError(t, err)

	deleted, err := svc.DeleteChecked(ctx, account.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, deleted)

	remaining, err := svc.ListForAccount(ctx, ListNotificationsInput{AccountID: account.ID})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "new", remaining[0].Title)
}

func TestPurgeCheckedBefore(t *testing.T) {
	db := openServiceDB(t)
	account := createAccount(t, db, "purge")
	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	old, err := svc.Create(ctx, CreateNotificationInput{AccountID: account.ID, Type: models.NotificationStudyCreated, Title: "old", Link: "/study/x"})
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, account.ID, old.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-60*24*time.Hour)).Error)

	unchecked, err := svc.Create(ctx, CreateNotificationInput{AccountID: account.ID, Type: models.NotificationStudyCreated, Title: "unchecked", Link: "/study/x"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", unchecked.ID).
		Update("created_at", time.Now().Add(-60*24*time.Hour)).Error)

	purged, err := svc.PurgeCheckedBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	var ids []string
	require.NoError(t, db.Model(&models.Notification{}).Pluck("id", &ids).Error)
	require.Equal(t, []string{unchecked.ID}, ids)
}
