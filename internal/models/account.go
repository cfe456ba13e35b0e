package models

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmEmailResendInterval bounds how often a confirmation email may be issued.
const ConfirmEmailResendInterval = time.Hour

// Account is a registered member of the community.
type Account struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Nickname string `gorm:"uniqueIndex;not null" json:"nickname"`
	Password string `gorm:"not null" json:"-"`

	EmailVerified              bool       `gorm:"default:false" json:"email_verified"`
	EmailCheckToken            string     `gorm:"index" json:"-"`
	EmailCheckTokenGeneratedAt *time.Time `json:"-"`
	JoinedAt                   *time.Time `json:"joined_at"`

	Bio          string `gorm:"size:35" json:"bio"`
	URL          string `gorm:"size:50" json:"url"`
	Occupation   string `gorm:"size:50" json:"occupation"`
	Location     string `gorm:"size:50" json:"location"`
	ProfileImage string `gorm:"type:text" json:"profile_image"`

	StudyCreatedByEmail          bool `json:"study_created_by_email"`
	StudyCreatedByWeb            bool `json:"study_created_by_web"`
	StudyEnrollmentResultByEmail bool `json:"study_enrollment_result_by_email"`
	StudyEnrollmentResultByWeb   bool `json:"study_enrollment_result_by_web"`
	StudyUpdatedByEmail          bool `json:"study_updated_by_email"`
	StudyUpdatedByWeb            bool `json:"study_updated_by_web"`

	Tags  []Tag  `gorm:"many2many:account_tags;" json:"tags,omitempty"`
	Zones []Zone `gorm:"many2many:account_zones;" json:"zones,omitempty"`
}

// NotificationPreferences groups the six opt-in flags.
type NotificationPreferences struct {
	StudyCreatedByEmail          bool `json:"study_created_by_email"`
	StudyCreatedByWeb            bool `json:"study_created_by_web"`
	StudyEnrollmentResultByEmail bool `json:"study_enrollment_result_by_email"`
	StudyEnrollmentResultByWeb   bool `json:"study_enrollment_result_by_web"`
	StudyUpdatedByEmail          bool `json:"study_updated_by_email"`
	StudyUpdatedByWeb            bool `json:"study_updated_by_web"`
}

// DefaultNotificationPreferences applies on sign-up: in-app on, email off.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		StudyCreatedByWeb:          true,
		StudyEnrollmentResultByWeb: true,
		StudyUpdatedByWeb:          true,
	}
}

// Preferences returns the account's current opt-in flags.
func (a *Account) Preferences() NotificationPreferences {
	return NotificationPreferences{
		StudyCreatedByEmail:          a.StudyCreatedByEmail,
		StudyCreatedByWeb:            a.StudyCreatedByWeb,
		StudyEnrollmentResultByEmail: a.StudyEnrollmentResultByEmail,
		StudyEnrollmentResultByWeb:   a.StudyEnrollmentResultByWeb,
		StudyUpdatedByEmail:          a.StudyUpdatedByEmail,
		StudyUpdatedByWeb:            a.StudyUpdatedByWeb,
	}
}

// ApplyPreferences overwrites all six flags.
func (a *Account) ApplyPreferences(p NotificationPreferences) {
	a.StudyCreatedByEmail = p.StudyCreatedByEmail
	a.StudyCreatedByWeb = p.StudyCreatedByWeb
	a.StudyEnrollmentResultByEmail = p.StudyEnrollmentResultByEmail
	a.StudyEnrollmentResultByWeb = p.StudyEnrollmentResultByWeb
	a.StudyUpdatedByEmail = p.StudyUpdatedByEmail
	a.StudyUpdatedByWeb = p.StudyUpdatedByWeb
}

// GenerateEmailCheckToken replaces the verification token with a fresh random UUID.
func (a *Account) GenerateEmailCheckToken() string {
	a.EmailCheckToken = uuid.NewString()
	return a.EmailCheckToken
}

// IsValidToken reports whether candidate matches the stored token exactly. Tokens do not expire.
func (a *Account) IsValidToken(candidate string) bool {
	return a.EmailCheckToken != "" && a.EmailCheckToken == candidate
}

// CompleteSignUp marks the email as verified and records the join time.
func (a *Account) CompleteSignUp(now time.Time) {
	a.EmailVerified = true
	joined := now
	a.JoinedAt = &joined
}

// CanSendConfirmEmail reports whether a confirmation email may be sent at now. When it may, the
// generation time is stamped so that the next hour is gated.
func (a *Account) CanSendConfirmEmail(now time.Time) bool {
	if a.EmailCheckTokenGeneratedAt != nil && now.Sub(*a.EmailCheckTokenGeneratedAt) < ConfirmEmailResendInterval {
		return false
	}
	stamped := now
	a.EmailCheckTokenGeneratedAt = &stamped
	return true
}

// HasTag reports whether the account follows the tag.
func (a *Account) HasTag(tagID string) bool {
	for _, t := range a.Tags {
		if t.ID == tagID {
			return true
		}
	}
	return false
}

// HasZone reports whether the account follows the zone.
func (a *Account) HasZone(zoneID string) bool {
	for _, z := range a.Zones {
		if z.ID == zoneID {
			return true
		}
	}
	return false
}
