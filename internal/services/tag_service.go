package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// TagService manages the shared tag vocabulary.
type TagService struct {
	db *gorm.DB
}

// NewTagService constructs a TagService.
func NewTagService(db *gorm.DB) (*TagService, error) {
	if db == nil {
		return nil, errors.New("tag service: db is required")
	}
	return &TagService{db: db}, nil
}

// FindOrCreate returns the tag with the given title, creating it when absent.
func (s *TagService) FindOrCreate(ctx context.Context, title string) (*models.Tag, error) {
	ctx = ensureContext(ctx)
	return findOrCreateTag(s.db.WithContext(ctx), title)
}

// Find returns an existing tag by title.
func (s *TagService) Find(ctx context.Context, title string) (*models.Tag, error) {
	ctx = ensureContext(ctx)
	title = models.NormalizeTagTitle(title)
	if title == "" {
		return nil, ErrTagNotFound
	}

	var tag models.Tag
	err := s.db.WithContext(ctx).Where("title = ?", title).Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tag service: find tag: %w", err)
	}
	return &tag, nil
}

// Titles lists every known tag title for autocomplete whitelists.
func (s *TagService) Titles(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	var titles []string
	if err := s.db.WithContext(ctx).Model(&models.Tag{}).Order("title ASC").Pluck("title", &titles).Error; err != nil {
		return nil, fmt.Errorf("tag service: list tags: %w", err)
	}
	return titles, nil
}

func findOrCreateTag(db *gorm.DB, title string) (*models.Tag, error) {
	title = models.NormalizeTagTitle(title)
	if title == "" {
		return nil, apperrors.NewValidation(apperrors.Field("title", "must not be blank"))
	}

	var tag models.Tag
	err := db.Where("title = ?", title).Take(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tag service: find tag: %w", err)
	}

	tag = models.Tag{Title: title}
	if err := db.Create(&tag).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("tag service: create tag: %w", err)
		}
		// Lost a race with a concurrent creator.
		if err := db.Where("title = ?", title).Take(&tag).Error; err != nil {
			return nil, fmt.Errorf("tag service: reload tag: %w", err)
		}
	}
	return &tag, nil
}
