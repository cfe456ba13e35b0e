package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationStudyCreated    NotificationType = "STUDY_CREATED"
	NotificationStudyUpdated    NotificationType = "STUDY_UPDATED"
	NotificationStudyEnrollment NotificationType = "STUDY_ENROLLMENT"
)

// Notification represents an in-app notification for an account.
type Notification struct {
	BaseModel

	AccountID string           `gorm:"type:uuid;not null;index" json:"account_id"`
	Type      NotificationType `gorm:"type:varchar(64);not null" json:"type"`
	Title     string           `gorm:"type:varchar(255);not null" json:"title"`
	Link      string           `gorm:"type:text;not null" json:"link"`
	Message   string           `gorm:"type:text" json:"message"`
	Metadata  datatypes.JSON   `json:"metadata"`

	Checked   bool       `gorm:"default:false;index" json:"checked"`
	CheckedAt *time.Time `json:"checked_at"`
}
