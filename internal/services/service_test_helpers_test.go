package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/pkg/crypto"
	"github.com/charlesng35/studyhub/pkg/mail"
)

const (
	seoul = "Seoul(서울특별시)/none"
	busan = "Busan(부산광역시)/none"
)

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithSeedData())
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	failFor  map[string]bool
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, to := range msg.To {
		if m.failFor[to] {
			return errors.New("mailbox unavailable")
		}
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sentTo(address string) []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mail.Message
	for _, msg := range m.messages {
		for _, to := range msg.To {
			if to == address {
				out = append(out, msg)
			}
		}
	}
	return out
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type recordingHub struct {
	mu       sync.Mutex
	messages map[string][]realtime.Message
}

func (h *recordingHub) BroadcastToAccount(_ string, accountID string, message realtime.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messages == nil {
		h.messages = make(map[string][]realtime.Message)
	}
	h.messages[accountID] = append(h.messages[accountID], message)
}

func (h *recordingHub) eventsFor(accountID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, msg := range h.messages[accountID] {
		out = append(out, msg.Event)
	}
	return out
}

func createAccount(t *testing.T, db *gorm.DB, nickname string, mutate ...func(*models.Account)) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword("password123")
	require.NoError(t, err)

	account := &models.Account{
		Nickname:      nickname,
		Email:         nickname + "@example.com",
		Password:      hashed,
		EmailVerified: true,
	}
	account.ApplyPreferences(models.DefaultNotificationPreferences())
	for _, fn := range mutate {
		fn(account)
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func followInterests(t *testing.T, db *gorm.DB, account *models.Account, tagTitles []string, zoneNames []string) {
	t.Helper()
	svc, err := NewAccountService(db, nil)
	require.NoError(t, err)
	for _, title := range tagTitles {
		_, err := svc.AddTag(context.Background(), account.ID, title)
		require.NoError(t, err)
	}
	for _, name := range zoneNames {
		_, err := svc.AddZone(context.Background(), account.ID, name)
		require.NoError(t, err)
	}
}

func newStudyService(t *testing.T, db *gorm.DB, bus events.Publisher, clock *testClock) *StudyService {
	t.Helper()
	svc, err := NewStudyService(db, bus, WithStudyClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func createStudy(t *testing.T, svc *StudyService, manager *models.Account, path string) *models.Study {
	t.Helper()
	study, err := svc.Create(context.Background(), manager.ID, CreateStudyInput{
		Path:             path,
		Title:            "Study " + path,
		ShortDescription: "short " + path,
		FullDescription:  "full description of " + path,
	})
	require.NoError(t, err)
	return study
}

func publishedRecruitingStudy(t *testing.T, svc *StudyService, manager *models.Account, path string) *models.Study {
	t.Helper()
	createStudy(t, svc, manager, path)
	_, err := svc.Publish(context.Background(), manager.ID, path)
	require.NoError(t, err)
	study, err := svc.StartRecruit(context.Background(), manager.ID, path)
	require.NoError(t, err)
	return study
}

func newEventService(t *testing.T, db *gorm.DB, bus events.Publisher, clock *testClock) *EventService {
	t.Helper()
	svc, err := NewEventService(db, bus, WithEventClock(clock.Now))
	require.NoError(t, err)
	return svc
}

// eventInput schedules a meetup whose enrollment closes a day after clock.
func eventInput(clock *testClock, kind models.EventType, limit int) EventInput {
	now := clock.Now()
	return EventInput{
		Title:                 "Weekly meetup",
		Description:           "bring a laptop",
		Type:                  kind,
		LimitOfEnrollments:    limit,
		EndEnrollmentDateTime: now.Add(24 * time.Hour),
		StartDateTime:         now.Add(48 * time.Hour),
		EndDateTime:           now.Add(50 * time.Hour),
	}
}
