package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newEvent(kind EventType, limit int) *Event {
	return &Event{
		BaseModel:             BaseModel{ID: "event-1"},
		Type:                  kind,
		LimitOfEnrollments:    limit,
		EndEnrollmentDateTime: studyClock.Add(24 * time.Hour),
		StartDateTime:         studyClock.Add(48 * time.Hour),
		EndDateTime:           studyClock.Add(50 * time.Hour),
	}
}

// enroll adds an enrollment with a stable id, one minute after the previous one.
func enroll(t *testing.T, event *Event, id string) *Enrollment {
	t.Helper()
	at := studyClock.Add(time.Duration(len(event.Enrollments)) * time.Minute)
	enrollment, err := event.Enroll(account(id), at)
	require.NoError(t, err)
	enrollment.ID = "enrollment-" + id
	return enrollment
}

func TestFCFSAcceptsUntilFull(t *testing.T) {
	event := newEvent(EventTypeFCFS, 2)

	require.True(t, enroll(t, event, "a").Accepted)
	require.True(t, enroll(t, event, "b").Accepted)
	require.False(t, enroll(t, event, "c").Accepted)

	require.Equal(t, 2, event.NumberOfAcceptedEnrollments())
	require.Zero(t, event.NumberOfRemainingSpots())
	require.False(t, event.IsAbleToAcceptWaitingEnrollment())
}

func TestEnrollRejectsDuplicatesAndLateComers(t *testing.T) {
	event := newEvent(EventTypeFCFS, 2)
	enroll(t, event, "a")

	require.False(t, event.IsEnrollableFor("a", studyClock))
	_, err := event.Enroll(account("a"), studyClock)
	require.ErrorIs(t, err, ErrAlreadyEnrolled)

	late := event.EndEnrollmentDateTime
	require.False(t, event.IsEnrollableFor("b", late))
	_, err = event.Enroll(account("b"), late)
	require.ErrorIs(t, err, ErrEnrollmentClosed)
	require.Len(t, event.Enrollments, 1)
}

func TestDisenrollThenWaitingListMovesUp(t *testing.T) {
	event := newEvent(EventTypeFCFS, 1)
	enroll(t, event, "a")
	enroll(t, event, "b")
	enroll(t, event, "c")

	removed, err := event.Disenroll("a", studyClock)
	require.NoError(t, err)
	require.Equal(t, "a", removed.AccountID)

	promoted := event.AcceptWaitingList()
	require.Len(t, promoted, 1)
	require.Equal(t, "b", promoted[0].AccountID)
	require.False(t, event.EnrollmentOf("c").Accepted)

	_, err = event.Disenroll("a", studyClock)
	require.ErrorIs(t, err, ErrNotEnrolled)
}

func TestAttendedEnrollmentCannotBeCancelled(t *testing.T) {
	event := newEvent(EventTypeFCFS, 2)
	enroll(t, event, "a")
	_, err := event.Checkin("enrollment-a")
	require.NoError(t, err)

	require.False(t, event.IsDisenrollableFor("a", studyClock))
	_, err = event.Disenroll("a", studyClock)
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
}

func TestRaisedLimitAcceptsWaitingInArrivalOrder(t *testing.T) {
	event := newEvent(EventTypeFCFS, 1)
	enroll(t, event, "a")
	enroll(t, event, "b")
	enroll(t, event, "c")
	enroll(t, event, "d")

	event.LimitOfEnrollments = 3
	promoted := event.AcceptWaitingList()
	require.Len(t, promoted, 2)
	require.Equal(t, "b", promoted[0].AccountID)
	require.Equal(t, "c", promoted[1].AccountID)
	require.False(t, event.EnrollmentOf("d").Accepted)
}

func TestConfirmativeWaitsForManager(t *testing.T) {
	event := newEvent(EventTypeConfirmative, 1)
	enroll(t, event, "a")
	enroll(t, event, "b")
	require.False(t, event.EnrollmentOf("a").Accepted)
	require.Empty(t, event.AcceptWaitingList())
	require.False(t, event.CanReject(event.EnrollmentOf("a")))

	accepted, err := event.Accept("enrollment-a")
	require.NoError(t, err)
	require.True(t, accepted.Accepted)
	require.True(t, event.EnrollmentOf("a").Accepted)

	require.False(t, event.CanAccept(event.EnrollmentOf("b")), "no spots left")
	_, err = event.Accept("enrollment-b")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
	_, err = event.Accept("enrollment-a")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)

	rejected, err := event.Reject("enrollment-a")
	require.NoError(t, err)
	require.False(t, rejected.Accepted)
	_, err = event.Accept("enrollment-b")
	require.NoError(t, err)
}

func TestFCFSIgnoresManagerDecisions(t *testing.T) {
	event := newEvent(EventTypeFCFS, 2)
	enroll(t, event, "a")

	_, err := event.Reject("enrollment-a")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
	_, err = event.Accept("unknown")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
}

func TestCheckinRequiresAcceptance(t *testing.T) {
	event := newEvent(EventTypeConfirmative, 2)
	enroll(t, event, "a")

	_, err := event.Checkin("enrollment-a")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
	_, err = event.Accept("enrollment-a")
	require.NoError(t, err)
	_, err = event.Checkin("enrollment-a")
	require.NoError(t, err)
	_, err = event.Checkin("enrollment-a")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
	require.False(t, event.CanReject(event.EnrollmentOf("a")), "attended enrollments keep their spot")

	cancelled, err := event.CancelCheckin("enrollment-a")
	require.NoError(t, err)
	require.False(t, cancelled.Attended)
	_, err = event.CancelCheckin("enrollment-a")
	require.ErrorIs(t, err, ErrEnrollmentNotAllowed)
}

func TestEventLink(t *testing.T) {
	study := &Study{Path: "spring"}
	event := newEvent(EventTypeFCFS, 2)
	require.Equal(t, "/study/spring/events/event-1", event.Link(study))
}
