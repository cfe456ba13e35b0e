package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/metrics"
	"github.com/charlesng35/studyhub/pkg/validator"
)

// Messages carried by enrollment result notifications.
const (
	MessageEnrollmentAccepted = "모임 참가 신청을 확인했습니다. 모임에 참석하세요."
	MessageEnrollmentRejected = "모임 참가 신청을 거절했습니다."
)

func eventCreatedMessage(title string) string {
	return fmt.Sprintf("'%s' 모임을 만들었습니다.", title)
}

func eventUpdatedMessage(title string) string {
	return fmt.Sprintf("'%s' 모임 정보를 수정했으니 확인하세요.", title)
}

func eventCancelledMessage(title string) string {
	return fmt.Sprintf("'%s' 모임을 취소했습니다.", title)
}

// EventInput captures the meetup form. Type is ignored on update.
type EventInput struct {
	Title                 string           `json:"title" validate:"required,max=50"`
	Description           string           `json:"description"`
	Type                  models.EventType `json:"type" validate:"omitempty,oneof=FCFS CONFIRMATIVE"`
	LimitOfEnrollments    int              `json:"limit_of_enrollments" validate:"gte=2"`
	EndEnrollmentDateTime time.Time        `json:"end_enrollment_date_time"`
	StartDateTime         time.Time        `json:"start_date_time"`
	EndDateTime           time.Time        `json:"end_date_time"`
}

// EventList splits a study's meetups into upcoming and finished ones.
type EventList struct {
	New []models.Event `json:"new_events"`
	Old []models.Event `json:"old_events"`
}

// EventOption customises an EventService.
type EventOption func(*EventService)

// WithEventClock overrides the time source, used by tests.
func WithEventClock(clock func() time.Time) EventOption {
	return func(s *EventService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithEventLogger overrides the service logger.
func WithEventLogger(log *zap.Logger) EventOption {
	return func(s *EventService) {
		if log != nil {
			s.log = log
		}
	}
}

// EventService manages meetups under a study and the enrollments for them.
type EventService struct {
	db    *gorm.DB
	bus   events.Publisher
	now   func() time.Time
	log   *zap.Logger
	locks *keyedMutex
}

// NewEventService constructs an EventService. bus may be nil, in which case no events are raised.
func NewEventService(db *gorm.DB, bus events.Publisher, opts ...EventOption) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service: db is required")
	}
	svc := &EventService{
		db:    db,
		bus:   bus,
		now:   systemClock,
		log:   logger.WithModule("meetups"),
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create schedules a meetup on a published study. Only managers may call it.
func (s *EventService) Create(ctx context.Context, actorID, path string, input EventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)
	input = normalizeEventInput(input)
	if input.Type == "" {
		input.Type = models.EventTypeFCFS
	}
	if err := validateEventInput(input, s.now()); err != nil {
		return nil, err
	}

	study, err := managedStudy(s.db.WithContext(ctx), actorID, path, ProfileManagers.preloads())
	if err != nil {
		return nil, err
	}
	if study.State() != models.StudyStatePublished {
		return nil, ErrStudyInvalidTransition
	}

	event := &models.Event{
		StudyID:               study.ID,
		CreatedByID:           actorID,
		Title:                 input.Title,
		Description:           input.Description,
		Type:                  input.Type,
		EndEnrollmentDateTime: input.EndEnrollmentDateTime,
		StartDateTime:         input.StartDateTime,
		EndDateTime:           input.EndDateTime,
		LimitOfEnrollments:    input.LimitOfEnrollments,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("event service: create event: %w", err)
	}

	s.publish(events.StudyUpdated{StudyID: study.ID, Message: eventCreatedMessage(event.Title)})
	return event, nil
}

// Get loads a meetup with its enrollments, oldest first.
func (s *EventService) Get(ctx context.Context, path, eventID string) (*models.Study, *models.Event, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)
	study, err := loadStudy(db, "path = ?", strings.TrimSpace(path), ProfileManagers.preloads())
	if err != nil {
		return nil, nil, err
	}
	event, err := findEvent(db.Preload("CreatedBy"), study.ID, eventID)
	if err != nil {
		return nil, nil, err
	}
	return study, event, nil
}

// List returns the study's meetups split by whether they have ended.
func (s *EventService) List(ctx context.Context, path string) (*EventList, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)
	study, err := loadStudy(db, "path = ?", strings.TrimSpace(path), nil)
	if err != nil {
		return nil, err
	}

	var all []models.Event
	if err := db.Preload("Enrollments").
		Where("study_id = ?", study.ID).
		Order("start_date_time ASC").
		Find(&all).Error; err != nil {
		return nil, fmt.Errorf("event service: list events: %w", err)
	}

	now := s.now()
	list := &EventList{New: []models.Event{}, Old: []models.Event{}}
	for _, event := range all {
		if event.EndDateTime.Before(now) {
			list.Old = append(list.Old, event)
		} else {
			list.New = append(list.New, event)
		}
	}
	return list, nil
}

// Update rewrites a meetup. Raising the limit of a first-come meetup accepts waiting enrollments.
func (s *EventService) Update(ctx context.Context, actorID, path, eventID string, input EventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)
	input = normalizeEventInput(input)
	input.Type = ""
	if err := validateEventInput(input, s.now()); err != nil {
		return nil, err
	}

	var updated *models.Event
	_, err := s.change(ctx, actorID, path, eventID, "update", true,
		func(tx *gorm.DB, study *models.Study, event *models.Event, _ time.Time) (*models.Enrollment, []events.Event, error) {
			if accepted := event.NumberOfAcceptedEnrollments(); input.LimitOfEnrollments < accepted {
				return nil, nil, apperrors.NewValidation(apperrors.Field("limit_of_enrollments",
					fmt.Sprintf("must be at least the number of accepted enrollments (%d)", accepted)))
			}

			event.Title = input.Title
			event.Description = input.Description
			event.EndEnrollmentDateTime = input.EndEnrollmentDateTime
			event.StartDateTime = input.StartDateTime
			event.EndDateTime = input.EndDateTime
			event.LimitOfEnrollments = input.LimitOfEnrollments
			if err := tx.Model(&models.Event{}).Where("id = ?", event.ID).Updates(map[string]any{
				"title":                    event.Title,
				"description":              event.Description,
				"end_enrollment_date_time": event.EndEnrollmentDateTime,
				"start_date_time":          event.StartDateTime,
				"end_date_time":            event.EndDateTime,
				"limit_of_enrollments":     event.LimitOfEnrollments,
			}).Error; err != nil {
				return nil, nil, fmt.Errorf("event service: update event: %w", err)
			}

			raised, err := saveAccepted(tx, event.AcceptWaitingList())
			if err != nil {
				return nil, nil, err
			}
			updated = event
			raised = append(raised, events.StudyUpdated{StudyID: study.ID, Message: eventUpdatedMessage(event.Title)})
			return nil, raised, nil
		})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel deletes a meetup together with its enrollments.
func (s *EventService) Cancel(ctx context.Context, actorID, path, eventID string) error {
	_, err := s.change(ctx, actorID, path, eventID, "cancel", true,
		func(tx *gorm.DB, study *models.Study, event *models.Event, _ time.Time) (*models.Enrollment, []events.Event, error) {
			if err := tx.Where("event_id = ?", event.ID).Delete(&models.Enrollment{}).Error; err != nil {
				return nil, nil, fmt.Errorf("event service: delete enrollments: %w", err)
			}
			if err := tx.Delete(&models.Event{}, "id = ?", event.ID).Error; err != nil {
				return nil, nil, fmt.Errorf("event service: delete event: %w", err)
			}
			return nil, []events.Event{events.StudyUpdated{StudyID: study.ID, Message: eventCancelledMessage(event.Title)}}, nil
		})
	return err
}

// Enroll registers the actor for a meetup. First-come meetups accept it while spots remain.
func (s *EventService) Enroll(ctx context.Context, actorID, path, eventID string) (*models.Enrollment, error) {
	return s.change(ctx, actorID, path, eventID, "enroll", false,
		func(tx *gorm.DB, _ *models.Study, event *models.Event, now time.Time) (*models.Enrollment, []events.Event, error) {
			var actor models.Account
			if err := tx.Take(&actor, "id = ?", actorID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, nil, ErrAccountNotFound
				}
				return nil, nil, fmt.Errorf("event service: load actor: %w", err)
			}

			enrollment, err := event.Enroll(actor, now)
			if err != nil {
				return nil, nil, translateEventError(err)
			}
			if err := tx.Omit("Account").Create(enrollment).Error; err != nil {
				if isUniqueConstraintError(err) {
					return nil, nil, ErrAlreadyEnrolled
				}
				return nil, nil, fmt.Errorf("event service: create enrollment: %w", err)
			}
			return enrollment, nil, nil
		})
}

// Disenroll cancels the actor's enrollment and lets the next waiting enrollment in.
func (s *EventService) Disenroll(ctx context.Context, actorID, path, eventID string) error {
	_, err := s.change(ctx, actorID, path, eventID, "disenroll", false,
		func(tx *gorm.DB, _ *models.Study, event *models.Event, now time.Time) (*models.Enrollment, []events.Event, error) {
			removed, err := event.Disenroll(actorID, now)
			if err != nil {
				return nil, nil, translateEventError(err)
			}
			if err := tx.Delete(&models.Enrollment{}, "id = ?", removed.ID).Error; err != nil {
				return nil, nil, fmt.Errorf("event service: delete enrollment: %w", err)
			}
			raised, err := saveAccepted(tx, event.AcceptWaitingList())
			return nil, raised, err
		})
	return err
}

// Accept gives an enrollment on a confirmative meetup a spot.
func (s *EventService) Accept(ctx context.Context, actorID, path, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, path, eventID, enrollmentID, "accept",
		func(event *models.Event) (*models.Enrollment, error) { return event.Accept(enrollmentID) },
		func(e *models.Enrollment) events.Event { return events.EnrollmentAccepted{EnrollmentID: e.ID} })
}

// Reject takes the spot back from an accepted enrollment on a confirmative meetup.
func (s *EventService) Reject(ctx context.Context, actorID, path, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, path, eventID, enrollmentID, "reject",
		func(event *models.Event) (*models.Enrollment, error) { return event.Reject(enrollmentID) },
		func(e *models.Enrollment) events.Event { return events.EnrollmentRejected{EnrollmentID: e.ID} })
}

// Checkin records that an accepted enrollment attended.
func (s *EventService) Checkin(ctx context.Context, actorID, path, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, path, eventID, enrollmentID, "checkin",
		func(event *models.Event) (*models.Enrollment, error) { return event.Checkin(enrollmentID) }, nil)
}

// CancelCheckin clears recorded attendance.
func (s *EventService) CancelCheckin(ctx context.Context, actorID, path, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, path, eventID, enrollmentID, "cancel_checkin",
		func(event *models.Event) (*models.Enrollment, error) { return event.CancelCheckin(enrollmentID) }, nil)
}

// decide applies a manager decision to one enrollment and persists its flags.
func (s *EventService) decide(ctx context.Context, actorID, path, eventID, enrollmentID, action string,
	apply func(*models.Event) (*models.Enrollment, error), raise func(*models.Enrollment) events.Event) (*models.Enrollment, error) {
	return s.change(ctx, actorID, path, eventID, action, true,
		func(tx *gorm.DB, _ *models.Study, event *models.Event, _ time.Time) (*models.Enrollment, []events.Event, error) {
			if event.Enrollment(enrollmentID) == nil {
				return nil, nil, ErrEnrollmentNotFound
			}
			enrollment, err := apply(event)
			if err != nil {
				return nil, nil, translateEventError(err)
			}
			if err := saveEnrollmentFlags(tx, enrollment); err != nil {
				return nil, nil, err
			}
			if raise == nil {
				return enrollment, nil, nil
			}
			return enrollment, []events.Event{raise(enrollment)}, nil
		})
}

type eventChange func(tx *gorm.DB, study *models.Study, event *models.Event, now time.Time) (*models.Enrollment, []events.Event, error)

// change runs fn against a locked meetup and publishes the raised events after commit.
func (s *EventService) change(ctx context.Context, actorID, path, eventID, action string, managerOnly bool, fn eventChange) (*models.Enrollment, error) {
	ctx = ensureContext(ctx)
	study, err := loadStudy(s.db.WithContext(ctx), "path = ?", strings.TrimSpace(path), ProfileManagers.preloads())
	if err != nil {
		return nil, err
	}
	if managerOnly && !study.IsManager(actorID) {
		return nil, ErrStudyForbidden
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	var (
		enrollment *models.Enrollment
		raised     []events.Event
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := findEvent(tx.Clauses(clause.Locking{Strength: "UPDATE"}), study.ID, eventID)
		if err != nil {
			return err
		}
		enrollment, raised, err = fn(tx, study, event, s.now())
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEnrollmentClosed) || errors.Is(err, ErrEnrollmentNotAllowed) ||
			errors.Is(err, ErrAlreadyEnrolled) || errors.Is(err, ErrNotEnrolled) {
			metrics.EnrollmentChanges.WithLabelValues(action, "rejected").Inc()
		}
		return nil, err
	}

	metrics.EnrollmentChanges.WithLabelValues(action, "ok").Inc()
	for _, evt := range raised {
		s.publish(evt)
	}
	return enrollment, nil
}

func (s *EventService) publish(evt events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(evt); err != nil {
		s.log.Warn("publish event", zap.String("type", evt.EventType()), zap.Error(err))
	}
}

// findEvent loads a meetup of the study with its enrollments in arrival order.
func findEvent(db *gorm.DB, studyID, eventID string) (*models.Event, error) {
	var event models.Event
	err := db.Where("id = ? AND study_id = ?", strings.TrimSpace(eventID), studyID).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event service: load event: %w", err)
	}
	if err := db.Session(&gorm.Session{NewDB: true}).
		Preload("Account").
		Where("event_id = ?", event.ID).
		Order("enrolled_at ASC").
		Find(&event.Enrollments).Error; err != nil {
		return nil, fmt.Errorf("event service: load enrollments: %w", err)
	}
	return &event, nil
}

func saveEnrollmentFlags(tx *gorm.DB, enrollment *models.Enrollment) error {
	if err := tx.Model(&models.Enrollment{}).Where("id = ?", enrollment.ID).Updates(map[string]any{
		"accepted": enrollment.Accepted,
		"attended": enrollment.Attended,
	}).Error; err != nil {
		return fmt.Errorf("event service: save enrollment: %w", err)
	}
	return nil
}

// saveAccepted persists enrollments promoted from the waiting list and raises their results.
func saveAccepted(tx *gorm.DB, promoted []*models.Enrollment) ([]events.Event, error) {
	raised := make([]events.Event, 0, len(promoted))
	for _, enrollment := range promoted {
		if err := saveEnrollmentFlags(tx, enrollment); err != nil {
			return nil, err
		}
		raised = append(raised, events.EnrollmentAccepted{EnrollmentID: enrollment.ID})
	}
	return raised, nil
}

func normalizeEventInput(input EventInput) EventInput {
	input.Title = strings.TrimSpace(input.Title)
	input.EndEnrollmentDateTime = input.EndEnrollmentDateTime.UTC()
	input.StartDateTime = input.StartDateTime.UTC()
	input.EndDateTime = input.EndDateTime.UTC()
	return input
}

// validateEventInput checks the form fields and then the schedule ordering.
func validateEventInput(input EventInput, now time.Time) error {
	if err := validator.AsAppError(input); err != nil {
		return err
	}
	if fields := scheduleErrors(input, now); len(fields) > 0 {
		return apperrors.NewValidation(fields...)
	}
	return nil
}

// scheduleErrors requires now <= enrollment deadline <= start <= end.
func scheduleErrors(input EventInput, now time.Time) []apperrors.FieldError {
	var fields []apperrors.FieldError
	for _, required := range []struct {
		field string
		value time.Time
	}{
		{"end_enrollment_date_time", input.EndEnrollmentDateTime},
		{"start_date_time", input.StartDateTime},
		{"end_date_time", input.EndDateTime},
	} {
		if required.value.IsZero() {
			fields = append(fields, apperrors.Field(required.field, "is required"))
		}
	}
	if len(fields) > 0 {
		return fields
	}

	if input.EndEnrollmentDateTime.Before(now) {
		fields = append(fields, apperrors.Field("end_enrollment_date_time", "must not be in the past"))
	}
	if input.StartDateTime.Before(input.EndEnrollmentDateTime) {
		fields = append(fields, apperrors.Field("start_date_time", "must not be before the enrollment deadline"))
	}
	if input.EndDateTime.Before(input.StartDateTime) || input.EndDateTime.Before(input.EndEnrollmentDateTime) {
		fields = append(fields, apperrors.Field("end_date_time", "must not be before the start or the enrollment deadline"))
	}
	return fields
}
