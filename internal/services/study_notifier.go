package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/mail"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

const (
	defaultRecipientConcurrency = 8
	defaultRecipientTimeout     = 15 * time.Second

	studyCreatedEmailMessage = "새로운 스터디가 생겼습니다."
)

// NotificationCreator persists in-app notifications.
type NotificationCreator interface {
	Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error)
}

// DispatchReport summarises one fan-out run.
type DispatchReport struct {
	Recipients           int `json:"recipients"`
	EmailsSent           int `json:"emails_sent"`
	EmailsFailed         int `json:"emails_failed"`
	NotificationsCreated int `json:"notifications_created"`
	NotificationsFailed  int `json:"notifications_failed"`
}

// NotifierOption customises a StudyNotifier.
type NotifierOption func(*StudyNotifier)

// WithNotifierHost sets the absolute origin used in emailed links.
func WithNotifierHost(host string) NotifierOption {
	return func(n *StudyNotifier) {
		n.host = strings.TrimRight(strings.TrimSpace(host), "/")
	}
}

// WithRecipientConcurrency bounds how many recipients are served at once.
func WithRecipientConcurrency(limit int) NotifierOption {
	return func(n *StudyNotifier) {
		if limit > 0 {
			n.concurrency = limit
		}
	}
}

// WithRecipientTimeout bounds the time spent delivering to a single recipient.
func WithRecipientTimeout(timeout time.Duration) NotifierOption {
	return func(n *StudyNotifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// WithNotifierLogger overrides the notifier logger.
func WithNotifierLogger(log *zap.Logger) NotifierOption {
	return func(n *StudyNotifier) {
		if log != nil {
			n.log = log
		}
	}
}

// StudyNotifier turns study and enrollment events into emails and in-app notifications.
// Delivery is best effort: a failed channel is logged and the rest still run.
type StudyNotifier struct {
	db            *gorm.DB
	mailer        mail.Mailer
	notifications NotificationCreator
	renderer      *mail.Renderer
	host          string
	concurrency   int
	timeout       time.Duration
	log           *zap.Logger
}

// NewStudyNotifier constructs a StudyNotifier. A nil mailer skips the email channel.
func NewStudyNotifier(db *gorm.DB, mailer mail.Mailer, notifications NotificationCreator, opts ...NotifierOption) (*StudyNotifier, error) {
	if db == nil {
		return nil, errors.New("study notifier: db is required")
	}
	if notifications == nil {
		return nil, errors.New("study notifier: notification creator is required")
	}
	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("study notifier: %w", err)
	}

	n := &StudyNotifier{
		db:            db,
		mailer:        mailer,
		notifications: notifications,
		renderer:      renderer,
		host:          "http://localhost:8000",
		concurrency:   defaultRecipientConcurrency,
		timeout:       defaultRecipientTimeout,
		log:           logger.WithModule("notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Register subscribes the notifier to study and enrollment events on bus.
func (n *StudyNotifier) Register(bus *events.Bus) {
	events.On(bus, func(ctx context.Context, evt events.StudyCreated) error {
		_, err := n.NotifyStudyCreated(ctx, evt)
		return err
	})
	events.On(bus, func(ctx context.Context, evt events.StudyUpdated) error {
		_, err := n.NotifyStudyUpdated(ctx, evt)
		return err
	})
	events.On(bus, func(ctx context.Context, evt events.EnrollmentAccepted) error {
		_, err := n.NotifyEnrollmentResult(ctx, evt.EnrollmentID, MessageEnrollmentAccepted)
		return err
	})
	events.On(bus, func(ctx context.Context, evt events.EnrollmentRejected) error {
		_, err := n.NotifyEnrollmentResult(ctx, evt.EnrollmentID, MessageEnrollmentRejected)
		return err
	})
}

// delivery describes one notification sent to every recipient of a dispatch.
type delivery struct {
	notificationType models.NotificationType
	sourceID         string
	subject          string
	title            string
	linkName         string
	link             string
	emailMessage     string
	webMessage       string
	metadata         map[string]any
	byEmail          func(*models.Account) bool
	byWeb            func(*models.Account) bool
}

func studyDelivery(study *models.Study) delivery {
	return delivery{
		sourceID: study.ID,
		title:    study.Title,
		linkName: study.Title,
		link:     study.Link(),
		metadata: map[string]any{"study_id": study.ID},
	}
}

// NotifyStudyCreated tells accounts whose tags and zones both overlap the study.
func (n *StudyNotifier) NotifyStudyCreated(ctx context.Context, evt events.StudyCreated) (DispatchReport, error) {
	ctx = ensureContext(ctx)
	study, err := loadStudy(n.db.WithContext(ctx), "id = ?", evt.StudyID, ProfileTagsAndZones.preloads())
	if err != nil {
		return DispatchReport{}, err
	}

	recipients, err := n.interestedAccounts(ctx, study)
	if err != nil {
		return DispatchReport{}, err
	}

	d := studyDelivery(study)
	d.notificationType = models.NotificationStudyCreated
	d.subject = fmt.Sprintf("스터디올래, '%s' 스터디가 생겼습니다.", study.Title)
	d.emailMessage = studyCreatedEmailMessage
	d.webMessage = study.ShortDescription
	d.byEmail = func(a *models.Account) bool { return a.StudyCreatedByEmail }
	d.byWeb = func(a *models.Account) bool { return a.StudyCreatedByWeb }
	return n.dispatch(ctx, recipients, d)
}

// NotifyStudyUpdated tells the study's managers and members.
func (n *StudyNotifier) NotifyStudyUpdated(ctx context.Context, evt events.StudyUpdated) (DispatchReport, error) {
	ctx = ensureContext(ctx)
	study, err := loadStudy(n.db.WithContext(ctx), "id = ?", evt.StudyID, ProfileManagersAndMembers.preloads())
	if err != nil {
		return DispatchReport{}, err
	}

	d := studyDelivery(study)
	d.notificationType = models.NotificationStudyUpdated
	d.subject = fmt.Sprintf("스터디올래, '%s' 스터디에 새소식이 있습니다.", study.Title)
	d.emailMessage = evt.Message
	d.webMessage = evt.Message
	d.byEmail = func(a *models.Account) bool { return a.StudyUpdatedByEmail }
	d.byWeb = func(a *models.Account) bool { return a.StudyUpdatedByWeb }
	return n.dispatch(ctx, participants(study), d)
}

// NotifyEnrollmentResult tells the enrolled account whether it holds a spot at the meetup.
func (n *StudyNotifier) NotifyEnrollmentResult(ctx context.Context, enrollmentID, message string) (DispatchReport, error) {
	ctx = ensureContext(ctx)
	db := n.db.WithContext(ctx)

	var enrollment models.Enrollment
	err := db.Preload("Account").Take(&enrollment, "id = ?", enrollmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DispatchReport{}, ErrEnrollmentNotFound
	}
	if err != nil {
		return DispatchReport{}, fmt.Errorf("study notifier: load enrollment: %w", err)
	}
	if enrollment.Account == nil {
		return DispatchReport{}, ErrAccountNotFound
	}

	var event models.Event
	err = db.Take(&event, "id = ?", enrollment.EventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DispatchReport{}, ErrEventNotFound
	}
	if err != nil {
		return DispatchReport{}, fmt.Errorf("study notifier: load event: %w", err)
	}
	study, err := loadStudy(db, "id = ?", event.StudyID, nil)
	if err != nil {
		return DispatchReport{}, err
	}

	return n.dispatch(ctx, []models.Account{*enrollment.Account}, delivery{
		notificationType: models.NotificationStudyEnrollment,
		sourceID:         event.ID,
		subject:          fmt.Sprintf("스터디올래, %s 모임 참가 신청 결과입니다.", event.Title),
		title:            study.Title + " / " + event.Title,
		linkName:         study.Title,
		link:             event.Link(study),
		emailMessage:     message,
		webMessage:       message,
		metadata: map[string]any{
			"study_id":      study.ID,
			"event_id":      event.ID,
			"enrollment_id": enrollment.ID,
		},
		byEmail: func(a *models.Account) bool { return a.StudyEnrollmentResultByEmail },
		byWeb:   func(a *models.Account) bool { return a.StudyEnrollmentResultByWeb },
	})
}

func (n *StudyNotifier) interestedAccounts(ctx context.Context, study *models.Study) ([]models.Account, error) {
	if len(study.Tags) == 0 || len(study.Zones) == 0 {
		return nil, nil
	}
	tagIDs := make([]string, 0, len(study.Tags))
	for _, tag := range study.Tags {
		tagIDs = append(tagIDs, tag.ID)
	}
	zoneIDs := make([]string, 0, len(study.Zones))
	for _, zone := range study.Zones {
		zoneIDs = append(zoneIDs, zone.ID)
	}

	byTag := n.db.Table("account_tags").Select("account_id").Where("tag_id IN ?", tagIDs)
	byZone := n.db.Table("account_zones").Select("account_id").Where("zone_id IN ?", zoneIDs)

	var accounts []models.Account
	if err := n.db.WithContext(ctx).
		Where("id IN (?)", byTag).
		Where("id IN (?)", byZone).
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("study notifier: find interested accounts: %w", err)
	}
	return accounts, nil
}

func participants(study *models.Study) []models.Account {
	seen := make(map[string]struct{}, len(study.Managers)+len(study.Members))
	out := make([]models.Account, 0, len(study.Managers)+len(study.Members))
	for _, group := range [][]models.Account{study.Managers, study.Members} {
		for _, account := range group {
			if _, ok := seen[account.ID]; ok {
				continue
			}
			seen[account.ID] = struct{}{}
			out = append(out, account)
		}
	}
	return out
}

func (n *StudyNotifier) dispatch(ctx context.Context, recipients []models.Account, d delivery) (DispatchReport, error) {
	report := DispatchReport{Recipients: len(recipients)}
	if len(recipients) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	record := func(channel string, err error, account *models.Account) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case channel == "email" && err == nil:
			report.EmailsSent++
		case channel == "email":
			report.EmailsFailed++
		case err == nil:
			report.NotificationsCreated++
		default:
			report.NotificationsFailed++
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s to %s: %w", channel, account.ID, err))
			metrics.NotificationDeliveries.WithLabelValues(channel, "failed").Inc()
			n.log.Warn("notification delivery failed",
				zap.String("channel", channel),
				zap.String("source_id", d.sourceID),
				zap.String("account_id", account.ID),
				zap.Error(err))
			return
		}
		metrics.NotificationDeliveries.WithLabelValues(channel, "sent").Inc()
	}

	var group errgroup.Group
	group.SetLimit(n.concurrency)
	for i := range recipients {
		account := &recipients[i]
		group.Go(func() error {
			if d.byEmail(account) && n.mailer != nil {
				record("email", n.bounded(ctx, func(rctx context.Context) error {
					return n.sendEmail(rctx, account, d)
				}), account)
			}
			if d.byWeb(account) {
				record("web", n.bounded(ctx, func(rctx context.Context) error {
					_, err := n.notifications.Create(rctx, CreateNotificationInput{
						AccountID: account.ID,
						Type:      d.notificationType,
						Title:     d.title,
						Link:      d.link,
						Message:   d.webMessage,
						Metadata:  d.metadata,
					})
					return err
				}), account)
			}
			return nil
		})
	}
	_ = group.Wait()

	n.log.Debug("notifications dispatched",
		zap.String("source_id", d.sourceID),
		zap.String("type", string(d.notificationType)),
		zap.Int("recipients", report.Recipients),
		zap.Int("emails_sent", report.EmailsSent),
		zap.Int("notifications_created", report.NotificationsCreated))
	return report, errs
}

// bounded runs one delivery channel under the per-recipient timeout. Each channel gets its
// own budget so a stalled mail server cannot starve the in-app notification.
func (n *StudyNotifier) bounded(ctx context.Context, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return fn(rctx)
}

func (n *StudyNotifier) sendEmail(ctx context.Context, account *models.Account, d delivery) error {
	body, err := n.renderer.Render(mail.TemplateSimpleLink, mail.LinkVars{
		Host:     n.host,
		Link:     d.link,
		LinkName: d.linkName,
		Nickname: account.Nickname,
		Message:  d.emailMessage,
	})
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, mail.Message{
		To:      []string{account.Email},
		Subject: d.subject,
		Body:    body,
		HTML:    true,
	})
}
