package models

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrEnrollmentClosed is returned when enrolling or cancelling after the enrollment deadline.
	ErrEnrollmentClosed = errors.New("event: enrollment is closed")
	// ErrAlreadyEnrolled is returned when an account enrolls twice.
	ErrAlreadyEnrolled = errors.New("event: account is already enrolled")
	// ErrNotEnrolled is returned when cancelling an enrollment that does not exist.
	ErrNotEnrolled = errors.New("event: account is not enrolled")
	// ErrEnrollmentNotAllowed is returned for accept, reject and check-in calls the event does not allow.
	ErrEnrollmentNotAllowed = errors.New("event: enrollment change is not allowed")
)

// EventType decides how enrollments are accepted.
type EventType string

const (
	// EventTypeFCFS accepts enrollments in arrival order while spots remain.
	EventTypeFCFS EventType = "FCFS"
	// EventTypeConfirmative leaves every enrollment waiting until a manager accepts it.
	EventTypeConfirmative EventType = "CONFIRMATIVE"
)

// Event is a meetup organised under a study.
type Event struct {
	BaseModel

	StudyID     string   `gorm:"type:uuid;not null;index" json:"study_id"`
	CreatedByID string   `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedBy   *Account `json:"created_by,omitempty"`

	Title       string    `gorm:"size:50;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Type        EventType `gorm:"type:varchar(16);not null" json:"type"`

	EndEnrollmentDateTime time.Time `gorm:"not null" json:"end_enrollment_date_time"`
	StartDateTime         time.Time `gorm:"not null" json:"start_date_time"`
	EndDateTime           time.Time `gorm:"not null;index" json:"end_date_time"`
	LimitOfEnrollments    int       `gorm:"not null" json:"limit_of_enrollments"`

	Enrollments []Enrollment `gorm:"constraint:OnDelete:CASCADE" json:"enrollments,omitempty"`
}

// Enrollment is one account's request to attend an event.
type Enrollment struct {
	BaseModel

	EventID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_event_account" json:"event_id"`
	AccountID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_event_account;index" json:"account_id"`
	Account    *Account  `json:"account,omitempty"`
	EnrolledAt time.Time `gorm:"not null;index" json:"enrolled_at"`
	Accepted   bool      `json:"accepted"`
	Attended   bool      `json:"attended"`
}

// Link is the event page under its study.
func (e *Event) Link(study *Study) string {
	return study.Link() + "/events/" + e.ID
}

// IsEnrollmentOpen reports whether the enrollment deadline has not passed.
func (e *Event) IsEnrollmentOpen(now time.Time) bool {
	return now.Before(e.EndEnrollmentDateTime)
}

// IsEnrollableFor reports whether accountID may enroll now.
func (e *Event) IsEnrollableFor(accountID string, now time.Time) bool {
	return e.IsEnrollmentOpen(now) && e.EnrollmentOf(accountID) == nil
}

// IsDisenrollableFor reports whether accountID may cancel its enrollment now.
func (e *Event) IsDisenrollableFor(accountID string, now time.Time) bool {
	enrollment := e.EnrollmentOf(accountID)
	return e.IsEnrollmentOpen(now) && enrollment != nil && !enrollment.Attended
}

// EnrollmentOf returns the enrollment held by accountID, or nil.
func (e *Event) EnrollmentOf(accountID string) *Enrollment {
	for i := range e.Enrollments {
		if e.Enrollments[i].AccountID == accountID {
			return &e.Enrollments[i]
		}
	}
	return nil
}

// Enrollment returns the enrollment with the given id, or nil.
func (e *Event) Enrollment(id string) *Enrollment {
	for i := range e.Enrollments {
		if e.Enrollments[i].ID == id {
			return &e.Enrollments[i]
		}
	}
	return nil
}

// NumberOfAcceptedEnrollments counts the accepted enrollments.
func (e *Event) NumberOfAcceptedEnrollments() int {
	count := 0
	for _, enrollment := range e.Enrollments {
		if enrollment.Accepted {
			count++
		}
	}
	return count
}

// NumberOfRemainingSpots is the limit minus accepted enrollments, never negative.
func (e *Event) NumberOfRemainingSpots() int {
	if remaining := e.LimitOfEnrollments - e.NumberOfAcceptedEnrollments(); remaining > 0 {
		return remaining
	}
	return 0
}

// IsAbleToAcceptWaitingEnrollment reports whether a first-come event has a free spot.
func (e *Event) IsAbleToAcceptWaitingEnrollment() bool {
	return e.Type == EventTypeFCFS && e.NumberOfRemainingSpots() > 0
}

// Enroll adds an enrollment for account. First-come events accept it immediately while spots remain.
func (e *Event) Enroll(account Account, now time.Time) (*Enrollment, error) {
	if !e.IsEnrollmentOpen(now) {
		return nil, ErrEnrollmentClosed
	}
	if e.EnrollmentOf(account.ID) != nil {
		return nil, ErrAlreadyEnrolled
	}
	e.Enrollments = append(e.Enrollments, Enrollment{
		EventID:    e.ID,
		AccountID:  account.ID,
		Account:    &account,
		EnrolledAt: now,
		Accepted:   e.IsAbleToAcceptWaitingEnrollment(),
	})
	return &e.Enrollments[len(e.Enrollments)-1], nil
}

// Disenroll removes the enrollment of accountID and returns it.
func (e *Event) Disenroll(accountID string, now time.Time) (Enrollment, error) {
	if !e.IsEnrollmentOpen(now) {
		return Enrollment{}, ErrEnrollmentClosed
	}
	for i := range e.Enrollments {
		if e.Enrollments[i].AccountID != accountID {
			continue
		}
		if e.Enrollments[i].Attended {
			return Enrollment{}, ErrEnrollmentNotAllowed
		}
		removed := e.Enrollments[i]
		e.Enrollments = append(e.Enrollments[:i], e.Enrollments[i+1:]...)
		return removed, nil
	}
	return Enrollment{}, ErrNotEnrolled
}

// AcceptWaitingList accepts waiting enrollments in arrival order until a first-come event is full.
// It returns the newly accepted enrollments.
func (e *Event) AcceptWaitingList() []*Enrollment {
	if e.Type != EventTypeFCFS {
		return nil
	}
	var accepted []*Enrollment
	for _, waiting := range e.waiting() {
		if e.NumberOfRemainingSpots() == 0 {
			break
		}
		waiting.Accepted = true
		accepted = append(accepted, waiting)
	}
	return accepted
}

// CanAccept reports whether a manager may accept enrollment on a confirmative event.
func (e *Event) CanAccept(enrollment *Enrollment) bool {
	return e.Type == EventTypeConfirmative &&
		enrollment != nil &&
		e.Enrollment(enrollment.ID) != nil &&
		e.NumberOfRemainingSpots() > 0 &&
		!enrollment.Attended &&
		!enrollment.Accepted
}

// CanReject reports whether a manager may reject enrollment on a confirmative event.
func (e *Event) CanReject(enrollment *Enrollment) bool {
	return e.Type == EventTypeConfirmative &&
		enrollment != nil &&
		e.Enrollment(enrollment.ID) != nil &&
		!enrollment.Attended &&
		enrollment.Accepted
}

// Accept marks the enrollment with id accepted.
func (e *Event) Accept(id string) (*Enrollment, error) {
	enrollment := e.Enrollment(id)
	if !e.CanAccept(enrollment) {
		return nil, ErrEnrollmentNotAllowed
	}
	enrollment.Accepted = true
	return enrollment, nil
}

// Reject moves an accepted enrollment back to waiting.
func (e *Event) Reject(id string) (*Enrollment, error) {
	enrollment := e.Enrollment(id)
	if !e.CanReject(enrollment) {
		return nil, ErrEnrollmentNotAllowed
	}
	enrollment.Accepted = false
	return enrollment, nil
}

// Checkin records attendance for an accepted enrollment.
func (e *Event) Checkin(id string) (*Enrollment, error) {
	enrollment := e.Enrollment(id)
	if enrollment == nil || !enrollment.Accepted || enrollment.Attended {
		return nil, ErrEnrollmentNotAllowed
	}
	enrollment.Attended = true
	return enrollment, nil
}

// CancelCheckin clears recorded attendance.
func (e *Event) CancelCheckin(id string) (*Enrollment, error) {
	enrollment := e.Enrollment(id)
	if enrollment == nil || !enrollment.Attended {
		return nil, ErrEnrollmentNotAllowed
	}
	enrollment.Attended = false
	return enrollment, nil
}

// waiting returns the not yet accepted enrollments, oldest first.
func (e *Event) waiting() []*Enrollment {
	var out []*Enrollment
	for i := range e.Enrollments {
		if !e.Enrollments[i].Accepted {
			out = append(out, &e.Enrollments[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnrolledAt.Before(out[j].EnrolledAt)
	})
	return out
}
