package models

import (
	"errors"
	"net/url"
	"time"
)

// RecruitingUpdateInterval is the minimum spacing between recruiting toggles.
const RecruitingUpdateInterval = 3 * time.Hour

// DefaultBannerImage is shown when a study has not uploaded its own banner.
const DefaultBannerImage = "/images/default_banner.png"

var (
	// ErrInvalidTransition is returned when a lifecycle operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("study: invalid state transition")
	// ErrAlreadyMember is returned when adding an account that already belongs to the study.
	ErrAlreadyMember = errors.New("study: account is already a member")
	// ErrNotMember is returned when removing an account that is not a member.
	ErrNotMember = errors.New("study: account is not a member")
)

// StudyState is the derived lifecycle phase.
type StudyState string

const (
	StudyStateDraft     StudyState = "draft"
	StudyStatePublished StudyState = "published"
	StudyStateClosed    StudyState = "closed"
)

// Study is a topic and location tagged group with a publish/close lifecycle.
type Study struct {
	BaseModel

	Path             string `gorm:"uniqueIndex;not null" json:"path"`
	Title            string `gorm:"size:50;not null" json:"title"`
	ShortDescription string `gorm:"size:100;not null" json:"short_description"`
	FullDescription  string `gorm:"type:text" json:"full_description"`
	Image            string `gorm:"type:text" json:"image"`
	UseBanner        bool   `json:"use_banner"`

	Managers []Account `gorm:"many2many:study_managers;" json:"managers,omitempty"`
	Members  []Account `gorm:"many2many:study_members;" json:"members,omitempty"`
	Tags     []Tag     `gorm:"many2many:study_tags;" json:"tags,omitempty"`
	Zones    []Zone    `gorm:"many2many:study_zones;" json:"zones,omitempty"`

	PublishedDateTime         *time.Time `gorm:"index" json:"published_date_time"`
	ClosedDateTime            *time.Time `json:"closed_date_time"`
	RecruitingUpdatedDateTime *time.Time `json:"recruiting_updated_date_time"`

	Recruiting bool `gorm:"index" json:"recruiting"`
	Published  bool `gorm:"index" json:"published"`
	Closed     bool `gorm:"index" json:"closed"`

	MemberCount int `gorm:"not null;default:0;index" json:"member_count"`
}

// State derives the lifecycle phase from the published and closed flags.
func (s *Study) State() StudyState {
	switch {
	case s.Closed:
		return StudyStateClosed
	case s.Published:
		return StudyStatePublished
	default:
		return StudyStateDraft
	}
}

// Publish moves a draft study to published.
func (s *Study) Publish(now time.Time) error {
	if s.State() != StudyStateDraft {
		return ErrInvalidTransition
	}
	s.Published = true
	s.PublishedDateTime = timePtr(now)
	return nil
}

// Close ends a published study.
func (s *Study) Close(now time.Time) error {
	if s.State() != StudyStatePublished {
		return ErrInvalidTransition
	}
	s.Closed = true
	s.ClosedDateTime = timePtr(now)
	return nil
}

// CanUpdateRecruiting reports whether the recruiting flag may be toggled at now.
func (s *Study) CanUpdateRecruiting(now time.Time) bool {
	if !s.Published {
		return false
	}
	return s.RecruitingUpdatedDateTime == nil || now.Sub(*s.RecruitingUpdatedDateTime) >= RecruitingUpdateInterval
}

// StartRecruit opens the study to new members.
func (s *Study) StartRecruit(now time.Time) error {
	if !s.CanUpdateRecruiting(now) {
		return ErrInvalidTransition
	}
	s.Recruiting = true
	s.RecruitingUpdatedDateTime = timePtr(now)
	return nil
}

// StopRecruit closes the study to new members.
func (s *Study) StopRecruit(now time.Time) error {
	if !s.CanUpdateRecruiting(now) {
		return ErrInvalidTransition
	}
	s.Recruiting = false
	s.RecruitingUpdatedDateTime = timePtr(now)
	return nil
}

// IsRemovable is true only while the study has never been published.
func (s *Study) IsRemovable() bool {
	return !s.Published
}

// IsJoinable reports whether accountID may join right now.
func (s *Study) IsJoinable(accountID string) bool {
	return s.Published && s.Recruiting && !s.IsMember(accountID) && !s.IsManager(accountID)
}

// IsMember reports membership. Managers are tracked separately.
func (s *Study) IsMember(accountID string) bool {
	return containsAccount(s.Members, accountID)
}

// IsManager reports whether accountID manages the study.
func (s *Study) IsManager(accountID string) bool {
	return containsAccount(s.Managers, accountID)
}

// AddManager adds account to the managers. Adding an existing manager is a no-op.
func (s *Study) AddManager(account Account) {
	if s.IsManager(account.ID) {
		return
	}
	s.Managers = append(s.Managers, account)
}

// AddMember adds account to the members and bumps MemberCount in the same step.
func (s *Study) AddMember(account Account) error {
	if s.IsMember(account.ID) || s.IsManager(account.ID) {
		return ErrAlreadyMember
	}
	s.Members = append(s.Members, account)
	s.MemberCount = len(s.Members)
	return nil
}

// RemoveMember removes account from the members and decrements MemberCount in the same step.
func (s *Study) RemoveMember(account Account) error {
	for i, m := range s.Members {
		if m.ID == account.ID {
			s.Members = append(s.Members[:i:i], s.Members[i+1:]...)
			s.MemberCount = len(s.Members)
			return nil
		}
	}
	return ErrNotMember
}

// EncodedPath returns the path escaped for use inside a URL.
func (s *Study) EncodedPath() string {
	return url.PathEscape(s.Path)
}

// Link returns the relative URL of the study page.
func (s *Study) Link() string {
	return "/study/" + s.EncodedPath()
}

// BannerImage returns the configured banner or the default one.
func (s *Study) BannerImage() string {
	if s.Image != "" {
		return s.Image
	}
	return DefaultBannerImage
}

// HasTag reports whether the study carries the tag.
func (s *Study) HasTag(tagID string) bool {
	for _, t := range s.Tags {
		if t.ID == tagID {
			return true
		}
	}
	return false
}

// HasZone reports whether the study carries the zone.
func (s *Study) HasZone(zoneID string) bool {
	for _, z := range s.Zones {
		if z.ID == zoneID {
			return true
		}
	}
	return false
}

func containsAccount(accounts []Account, id string) bool {
	if id == "" {
		return false
	}
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time {
	return &t
}
