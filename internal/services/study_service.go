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

// Messages carried by StudyUpdated events.
const (
	MessageDescriptionUpdated = "스터디 소개를 수정했습니다."
	MessageStudyClosed        = "스터디를 종료했습니다."
	MessageRecruitStarted     = "팀원 모집을 시작합니다."
	MessageRecruitStopped     = "팀원 모집을 중단했습니다."
)

// StudyProfile names a set of associations loaded together with a study.
type StudyProfile int

const (
	ProfileBare StudyProfile = iota
	ProfileAll
	ProfileTagsAndManagers
	ProfileZonesAndManagers
	ProfileManagers
	ProfileMembers
	ProfileTagsAndZones
	ProfileManagersAndMembers
)

func (p StudyProfile) preloads() []string {
	switch p {
	case ProfileAll:
		return []string{"Tags", "Zones", "Managers", "Members"}
	case ProfileTagsAndManagers:
		return []string{"Tags", "Managers"}
	case ProfileZonesAndManagers:
		return []string{"Zones", "Managers"}
	case ProfileManagers:
		return []string{"Managers"}
	case ProfileMembers:
		return []string{"Members"}
	case ProfileTagsAndZones:
		return []string{"Tags", "Zones"}
	case ProfileManagersAndMembers:
		return []string{"Managers", "Members"}
	default:
		return nil
	}
}

// withManagers returns the profile's preloads plus Managers, used by manager-only operations.
func (p StudyProfile) withManagers() []string {
	preloads := p.preloads()
	if containsString(preloads, "Managers") {
		return preloads
	}
	return append(preloads, "Managers")
}

// CreateStudyInput captures the new study form.
type CreateStudyInput struct {
	Path             string `json:"path" validate:"required,studypath"`
	Title            string `json:"title" validate:"required,max=50"`
	ShortDescription string `json:"short_description" validate:"required,max=100"`
	FullDescription  string `json:"full_description" validate:"required"`
}

// DescriptionInput updates the study introduction.
type DescriptionInput struct {
	ShortDescription string `json:"short_description" validate:"required,max=100"`
	FullDescription  string `json:"full_description" validate:"required"`
}

// BannerInput updates the banner image and/or its visibility.
type BannerInput struct {
	Image     *string `json:"image"`
	UseBanner *bool   `json:"use_banner"`
}

type pathInput struct {
	Path string `json:"path" validate:"required,studypath"`
}

type titleInput struct {
	Title string `json:"title" validate:"required,max=50"`
}

// StudyOption customises a StudyService.
type StudyOption func(*StudyService)

// WithStudyClock overrides the time source, used by tests.
func WithStudyClock(clock func() time.Time) StudyOption {
	return func(s *StudyService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithStudyLogger overrides the service logger.
func WithStudyLogger(log *zap.Logger) StudyOption {
	return func(s *StudyService) {
		if log != nil {
			s.log = log
		}
	}
}

// StudyService implements the study lifecycle, settings and membership.
// Every call receives the acting account explicitly.
type StudyService struct {
	db    *gorm.DB
	bus   events.Publisher
	now   func() time.Time
	log   *zap.Logger
	locks *keyedMutex
}

// NewStudyService constructs a StudyService. bus may be nil, in which case no events are raised.
func NewStudyService(db *gorm.DB, bus events.Publisher, opts ...StudyOption) (*StudyService, error) {
	if db == nil {
		return nil, errors.New("study service: db is required")
	}
	svc := &StudyService{
		db:    db,
		bus:   bus,
		now:   systemClock,
		log:   logger.WithModule("studies"),
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create stores a new draft study managed by the actor.
func (s *StudyService) Create(ctx context.Context, actorID string, input CreateStudyInput) (*models.Study, error) {
	ctx = ensureContext(ctx)
	input.Path = strings.TrimSpace(input.Path)
	input.Title = strings.TrimSpace(input.Title)
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}

	var study *models.Study
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := pathExists(tx, input.Path)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewValidation(apperrors.Field("path", "is already in use"))
		}

		var actor models.Account
		if err := tx.Take(&actor, "id = ?", actorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("study service: load actor: %w", err)
		}

		study = &models.Study{
			Path:             input.Path,
			Title:            input.Title,
			ShortDescription: strings.TrimSpace(input.ShortDescription),
			FullDescription:  input.FullDescription,
		}
		study.AddManager(actor)

		if err := tx.Create(study).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewValidation(apperrors.Field("path", "is already in use"))
			}
			return fmt.Errorf("study service: create study: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return study, nil
}

// Get loads a study by path with the associations named by profile.
func (s *StudyService) Get(ctx context.Context, path string, profile StudyProfile) (*models.Study, error) {
	ctx = ensureContext(ctx)
	return loadStudy(s.db.WithContext(ctx), "path = ?", strings.TrimSpace(path), profile.preloads())
}

// GetByID loads a study by id with the associations named by profile.
func (s *StudyService) GetByID(ctx context.Context, id string, profile StudyProfile) (*models.Study, error) {
	ctx = ensureContext(ctx)
	return loadStudy(s.db.WithContext(ctx), "id = ?", strings.TrimSpace(id), profile.preloads())
}

// GetForUpdate loads a study for a manager operation. Managers are always loaded.
func (s *StudyService) GetForUpdate(ctx context.Context, actorID, path string, profile StudyProfile) (*models.Study, error) {
	ctx = ensureContext(ctx)
	return managedStudy(s.db.WithContext(ctx), actorID, path, profile.withManagers())
}

// UpdateDescription rewrites the short and full descriptions and tells members about it.
func (s *StudyService) UpdateDescription(ctx context.Context, actorID, path string, input DescriptionInput) (*models.Study, error) {
	ctx = ensureContext(ctx)
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return nil, err
	}

	study.ShortDescription = strings.TrimSpace(input.ShortDescription)
	study.FullDescription = input.FullDescription
	if err := s.db.WithContext(ctx).Model(study).Updates(map[string]any{
		"short_description": study.ShortDescription,
		"full_description":  study.FullDescription,
	}).Error; err != nil {
		return nil, fmt.Errorf("study service: update description: %w", err)
	}

	s.publish(events.StudyUpdated{StudyID: study.ID, Message: MessageDescriptionUpdated})
	return study, nil
}

// UpdateBanner changes the banner image and/or toggles its display.
func (s *StudyService) UpdateBanner(ctx context.Context, actorID, path string, input BannerInput) (*models.Study, error) {
	ctx = ensureContext(ctx)
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Image != nil {
		study.Image = *input.Image
		updates["image"] = study.Image
	}
	if input.UseBanner != nil {
		study.UseBanner = *input.UseBanner
		updates["use_banner"] = study.UseBanner
	}
	if len(updates) == 0 {
		return study, nil
	}
	if err := s.db.WithContext(ctx).Model(study).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("study service: update banner: %w", err)
	}
	return study, nil
}

// AddTag attaches a tag, creating it in the vocabulary when new.
func (s *StudyService) AddTag(ctx context.Context, actorID, path, title string) (*models.Tag, error) {
	ctx = ensureContext(ctx)
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return nil, err
	}
	tag, err := findOrCreateTag(s.db.WithContext(ctx), title)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(studyRef(study.ID)).Association("Tags").Append(tag); err != nil {
		return nil, fmt.Errorf("study service: add tag: %w", err)
	}
	return tag, nil
}

// RemoveTag detaches a tag.
func (s *StudyService) RemoveTag(ctx context.Context, actorID, path, title string) error {
	ctx = ensureContext(ctx)
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return err
	}
	var tag models.Tag
	err = s.db.WithContext(ctx).Where("title = ?", models.NormalizeTagTitle(title)).Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTagNotFound
	}
	if err != nil {
		return fmt.Errorf("study service: find tag: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(studyRef(study.ID)).Association("Tags").Delete(&tag); err != nil {
		return fmt.Errorf("study service: remove tag: %w", err)
	}
	return nil
}

// AddZone attaches a seeded zone by display name.
func (s *StudyService) AddZone(ctx context.Context, actorID, path, name string) (*models.Zone, error) {
	ctx = ensureContext(ctx)
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return nil, err
	}
	zone, err := findZoneByName(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(studyRef(study.ID)).Association("Zones").Append(zone); err != nil {
		return nil, fmt.Errorf("study service: add zone: %w", err)
	}
	return zone, nil
}

// RemoveZone detaches a zone.
func (s *StudyService) RemoveZone(ctx context.Context, actorID, path, name string) error {
	ctx = ensureContext(ctx)
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return err
	}
	zone, err := findZoneByName(s.db.WithContext(ctx), name)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(studyRef(study.ID)).Association("Zones").Delete(zone); err != nil {
		return fmt.Errorf("study service: remove zone: %w", err)
	}
	return nil
}

// Publish makes a draft study public and announces it to interested accounts.
func (s *StudyService) Publish(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.transition(ctx, actorID, path, "publish",
		func(study *models.Study, now time.Time) (map[string]any, error) {
			if err := study.Publish(now); err != nil {
				return nil, err
			}
			return map[string]any{"published": true, "published_date_time": study.PublishedDateTime}, nil
		},
		func(study *models.Study) events.Event { return events.StudyCreated{StudyID: study.ID} })
}

// Close ends a published study.
func (s *StudyService) Close(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.transition(ctx, actorID, path, "close",
		func(study *models.Study, now time.Time) (map[string]any, error) {
			if err := study.Close(now); err != nil {
				return nil, err
			}
			return map[string]any{"closed": true, "closed_date_time": study.ClosedDateTime}, nil
		},
		func(study *models.Study) events.Event {
			return events.StudyUpdated{StudyID: study.ID, Message: MessageStudyClosed}
		})
}

// StartRecruit opens recruiting. Toggles are at least RecruitingUpdateInterval apart.
func (s *StudyService) StartRecruit(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.transition(ctx, actorID, path, "start_recruit",
		func(study *models.Study, now time.Time) (map[string]any, error) {
			if err := study.StartRecruit(now); err != nil {
				return nil, err
			}
			return recruitingColumns(study), nil
		},
		func(study *models.Study) events.Event {
			return events.StudyUpdated{StudyID: study.ID, Message: MessageRecruitStarted}
		})
}

// StopRecruit closes recruiting.
func (s *StudyService) StopRecruit(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.transition(ctx, actorID, path, "stop_recruit",
		func(study *models.Study, now time.Time) (map[string]any, error) {
			if err := study.StopRecruit(now); err != nil {
				return nil, err
			}
			return recruitingColumns(study), nil
		},
		func(study *models.Study) events.Event {
			return events.StudyUpdated{StudyID: study.ID, Message: MessageRecruitStopped}
		})
}

// UpdatePath moves the study to a new unique path.
func (s *StudyService) UpdatePath(ctx context.Context, actorID, path, newPath string) (*models.Study, error) {
	ctx = ensureContext(ctx)
	input := pathInput{Path: strings.TrimSpace(newPath)}
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}

	var study *models.Study
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		study, err = managedStudy(tx, actorID, path, ProfileManagers.preloads())
		if err != nil {
			return err
		}
		if study.Path == input.Path {
			return nil
		}
		taken, err := pathExists(tx, input.Path)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewValidation(apperrors.Field("path", "is already in use"))
		}
		if err := tx.Model(study).Update("path", input.Path).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewValidation(apperrors.Field("path", "is already in use"))
			}
			return fmt.Errorf("study service: update path: %w", err)
		}
		study.Path = input.Path
		return nil
	})
	if err != nil {
		return nil, err
	}
	return study, nil
}

// UpdateTitle renames the study.
func (s *StudyService) UpdateTitle(ctx context.Context, actorID, path, title string) (*models.Study, error) {
	ctx = ensureContext(ctx)
	input := titleInput{Title: strings.TrimSpace(title)}
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}
	study, err := s.GetForUpdate(ctx, actorID, path, ProfileManagers)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(study).Update("title", input.Title).Error; err != nil {
		return nil, fmt.Errorf("study service: update title: %w", err)
	}
	study.Title = input.Title
	return study, nil
}

// Remove deletes a study that was never published, together with its join rows.
func (s *StudyService) Remove(ctx context.Context, actorID, path string) error {
	ctx = ensureContext(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		study, err := managedStudy(tx, actorID, path, ProfileManagers.preloads())
		if err != nil {
			return err
		}
		if !study.IsRemovable() {
			metrics.StudyTransitions.WithLabelValues("remove", "rejected").Inc()
			return ErrStudyNotRemovable
		}
		if err := tx.Select(clause.Associations).Delete(study).Error; err != nil {
			return fmt.Errorf("study service: remove study: %w", err)
		}
		metrics.StudyTransitions.WithLabelValues("remove", "ok").Inc()
		return nil
	})
}

// Join adds the actor as a member of a recruiting study.
func (s *StudyService) Join(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.changeMembership(ctx, actorID, path, func(tx *gorm.DB, study *models.Study, actor models.Account) error {
		if study.IsMember(actor.ID) || study.IsManager(actor.ID) {
			return ErrAlreadyMember
		}
		if !study.IsJoinable(actor.ID) {
			return ErrStudyNotJoinable
		}
		if err := study.AddMember(actor); err != nil {
			return translateStudyError(err)
		}
		if err := tx.Model(studyRef(study.ID)).Association("Members").Append(&actor); err != nil {
			return fmt.Errorf("study service: add member: %w", err)
		}
		return nil
	})
}

// Leave removes the actor from the members.
func (s *StudyService) Leave(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.changeMembership(ctx, actorID, path, func(tx *gorm.DB, study *models.Study, actor models.Account) error {
		if err := study.RemoveMember(actor); err != nil {
			return translateStudyError(err)
		}
		if err := tx.Model(studyRef(study.ID)).Association("Members").Delete(accountRef(actor.ID)); err != nil {
			return fmt.Errorf("study service: remove member: %w", err)
		}
		return nil
	})
}

type membershipChange func(tx *gorm.DB, study *models.Study, actor models.Account) error

func (s *StudyService) changeMembership(ctx context.Context, actorID, path string, change membershipChange) (*models.Study, error) {
	ctx = ensureContext(ctx)
	bare, err := s.Get(ctx, path, ProfileBare)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(bare.ID)
	defer unlock()

	var study models.Study
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Managers").Preload("Members").
			Take(&study, "id = ?", bare.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStudyNotFound
			}
			return fmt.Errorf("study service: lock study: %w", err)
		}

		var actor models.Account
		if err := tx.Take(&actor, "id = ?", actorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("study service: load actor: %w", err)
		}

		if err := change(tx, &study, actor); err != nil {
			return err
		}

		var count int64
		if err := tx.Table("study_members").Where("study_id = ?", study.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("study service: count members: %w", err)
		}
		if err := tx.Model(&models.Study{}).Where("id = ?", study.ID).Update("member_count", count).Error; err != nil {
			return fmt.Errorf("study service: update member count: %w", err)
		}
		study.MemberCount = int(count)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &study, nil
}

type transitionFunc func(study *models.Study, now time.Time) (map[string]any, error)

func (s *StudyService) transition(ctx context.Context, actorID, path, name string, apply transitionFunc, event func(*models.Study) events.Event) (*models.Study, error) {
	ctx = ensureContext(ctx)

	var study *models.Study
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		study, err = managedStudy(tx.Clauses(clause.Locking{Strength: "UPDATE"}), actorID, path, ProfileManagers.preloads())
		if err != nil {
			return err
		}
		columns, err := apply(study, s.now())
		if err != nil {
			metrics.StudyTransitions.WithLabelValues(name, "rejected").Inc()
			return translateStudyError(err)
		}
		if err := tx.Model(&models.Study{}).Where("id = ?", study.ID).Updates(columns).Error; err != nil {
			return fmt.Errorf("study service: %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StudyTransitions.WithLabelValues(name, "ok").Inc()
	s.publish(event(study))
	return study, nil
}

func managedStudy(db *gorm.DB, actorID, path string, preloads []string) (*models.Study, error) {
	study, err := loadStudy(db, "path = ?", strings.TrimSpace(path), preloads)
	if err != nil {
		return nil, err
	}
	if !study.IsManager(actorID) {
		return nil, ErrStudyForbidden
	}
	return study, nil
}

func (s *StudyService) publish(evt events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(evt); err != nil {
		s.log.Warn("publish study event", zap.String("type", evt.EventType()), zap.Error(err))
	}
}

func loadStudy(db *gorm.DB, query string, arg any, preloads []string) (*models.Study, error) {
	for _, preload := range preloads {
		db = db.Preload(preload)
	}
	var study models.Study
	err := db.Where(query, arg).Take(&study).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("study service: load study: %w", err)
	}
	return &study, nil
}

func pathExists(db *gorm.DB, path string) (bool, error) {
	var count int64
	if err := db.Model(&models.Study{}).Where("path = ?", path).Count(&count).Error; err != nil {
		return false, fmt.Errorf("study service: check path: %w", err)
	}
	return count > 0, nil
}

func recruitingColumns(study *models.Study) map[string]any {
	return map[string]any{
		"recruiting":                   study.Recruiting,
		"recruiting_updated_date_time": study.RecruitingUpdatedDateTime,
	}
}

func studyRef(id string) *models.Study {
	return &models.Study{BaseModel: models.BaseModel{ID: id}}
}
