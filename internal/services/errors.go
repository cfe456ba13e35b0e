package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = apperrors.New("ACCOUNT_NOT_FOUND", "Account not found", http.StatusNotFound)
	// ErrInvalidEmailToken is returned when an email and token pair does not verify.
	ErrInvalidEmailToken = apperrors.New("INVALID_EMAIL_TOKEN", "Email or token is invalid", http.StatusBadRequest)
	// ErrConfirmEmailTooSoon gates confirmation and login emails to one per hour.
	ErrConfirmEmailTooSoon = apperrors.New("CONFIRM_EMAIL_TOO_SOON", "Emails can be sent once per hour", http.StatusTooManyRequests)
	// ErrEmailAlreadyVerified is returned when resending confirmation to a verified account.
	ErrEmailAlreadyVerified = apperrors.New("EMAIL_ALREADY_VERIFIED", "Email is already verified", http.StatusConflict)

	// ErrStudyNotFound indicates no study matches the requested path or id.
	ErrStudyNotFound = apperrors.New("STUDY_NOT_FOUND", "Study not found", http.StatusNotFound)
	// ErrStudyInvalidTransition is returned for lifecycle calls that the current state does not allow.
	ErrStudyInvalidTransition = apperrors.New("STUDY_INVALID_TRANSITION", "Operation is not allowed in the current study state", http.StatusConflict)
	// ErrStudyNotRemovable is returned when removing a study that has been published.
	ErrStudyNotRemovable = apperrors.New("STUDY_NOT_REMOVABLE", "Published studies cannot be removed", http.StatusConflict)
	// ErrStudyForbidden is returned when a non-manager calls a manager operation.
	ErrStudyForbidden = apperrors.New("STUDY_FORBIDDEN", "Only study managers can do this", http.StatusForbidden)
	// ErrStudyNotJoinable is returned when the study is not recruiting or the account already belongs to it.
	ErrStudyNotJoinable = apperrors.New("STUDY_NOT_JOINABLE", "Study is not accepting this member", http.StatusConflict)
	// ErrAlreadyMember is returned when adding an existing member.
	ErrAlreadyMember = apperrors.New("STUDY_ALREADY_MEMBER", "Account is already a member", http.StatusConflict)
	// ErrNotMember is returned when leaving a study the account is not a member of.
	ErrNotMember = apperrors.New("STUDY_NOT_MEMBER", "Account is not a member", http.StatusConflict)

	// ErrEventNotFound indicates no meetup with that id belongs to the study.
	ErrEventNotFound = apperrors.New("EVENT_NOT_FOUND", "Event not found", http.StatusNotFound)
	// ErrEnrollmentNotFound indicates the enrollment does not belong to the event.
	ErrEnrollmentNotFound = apperrors.New("ENROLLMENT_NOT_FOUND", "Enrollment not found", http.StatusNotFound)
	// ErrEnrollmentClosed is returned after the enrollment deadline.
	ErrEnrollmentClosed = apperrors.New("ENROLLMENT_CLOSED", "Enrollment for this event is closed", http.StatusConflict)
	// ErrAlreadyEnrolled is returned when enrolling twice.
	ErrAlreadyEnrolled = apperrors.New("ENROLLMENT_DUPLICATE", "Account is already enrolled", http.StatusConflict)
	// ErrNotEnrolled is returned when cancelling a missing enrollment.
	ErrNotEnrolled = apperrors.New("ENROLLMENT_MISSING", "Account is not enrolled", http.StatusConflict)
	// ErrEnrollmentNotAllowed is returned for accept, reject and check-in calls the event does not allow.
	ErrEnrollmentNotAllowed = apperrors.New("ENROLLMENT_NOT_ALLOWED", "Enrollment cannot be changed this way", http.StatusConflict)

	// ErrNotificationNotFound indicates the notification does not exist or belongs to someone else.
	ErrNotificationNotFound = apperrors.New("NOTIFICATION_NOT_FOUND", "Notification not found", http.StatusNotFound)

	// ErrTagNotFound is returned when removing an unknown tag.
	ErrTagNotFound = apperrors.New("TAG_NOT_FOUND", "Tag not found", http.StatusBadRequest)
	// ErrZoneNotFound is returned for zone names outside the seeded catalogue.
	ErrZoneNotFound = apperrors.New("ZONE_NOT_FOUND", "Zone not found", http.StatusBadRequest)
)

// translateStudyError maps domain errors raised by models.Study onto API errors.
func translateStudyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrInvalidTransition):
		return ErrStudyInvalidTransition
	case errors.Is(err, models.ErrAlreadyMember):
		return ErrAlreadyMember
	case errors.Is(err, models.ErrNotMember):
		return ErrNotMember
	default:
		return err
	}
}

// translateEventError maps domain errors raised by models.Event onto API errors.
func translateEventError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrEnrollmentClosed):
		return ErrEnrollmentClosed
	case errors.Is(err, models.ErrAlreadyEnrolled):
		return ErrAlreadyEnrolled
	case errors.Is(err, models.ErrNotEnrolled):
		return ErrNotEnrolled
	case errors.Is(err, models.ErrEnrollmentNotAllowed):
		return ErrEnrollmentNotAllowed
	default:
		return err
	}
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
