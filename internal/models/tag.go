package models

import "strings"

// Tag is a free-form interest keyword shared by accounts and studies.
type Tag struct {
	BaseModel

	Title string `gorm:"uniqueIndex;not null" json:"title"`
}

// NormalizeTagTitle trims surrounding whitespace from a tag title.
func NormalizeTagTitle(title string) string {
	return strings.TrimSpace(title)
}
