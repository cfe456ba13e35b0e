package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/pkg/crypto"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/mail"
	"github.com/charlesng35/studyhub/pkg/metrics"
	"github.com/charlesng35/studyhub/pkg/validator"
)

const (
	confirmEmailSubject = "스터디올래, 회원 가입 인증"
	confirmEmailMessage = "스터디올래 서비스를 사용하려면 링크를 클릭하세요."
	confirmEmailLink    = "이메일 인증하기"

	loginEmailSubject = "스터디올래, 로그인 링크"
	loginEmailMessage = "로그인 하려면 아래 링크를 클릭하세요."
	loginEmailLink    = "스터디올래 로그인하기"
)

// SignUpInput captures the sign-up form.
type SignUpInput struct {
	Nickname string `json:"nickname" validate:"required,nickname"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=50"`
}

// ProfileInput updates the public profile.
type ProfileInput struct {
	Bio          string `json:"bio" validate:"max=35"`
	URL          string `json:"url" validate:"max=50"`
	Occupation   string `json:"occupation" validate:"max=50"`
	Location     string `json:"location" validate:"max=50"`
	ProfileImage string `json:"profile_image"`
}

// PasswordInput changes the account password.
type PasswordInput struct {
	NewPassword        string `json:"new_password" validate:"required,min=8,max=50"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// NicknameInput changes the account nickname.
type NicknameInput struct {
	Nickname string `json:"nickname" validate:"required,nickname"`
}

// AccountOption customises an AccountService.
type AccountOption func(*AccountService)

// WithAccountHost sets the absolute origin used in emailed links.
func WithAccountHost(host string) AccountOption {
	return func(s *AccountService) {
		s.host = strings.TrimRight(strings.TrimSpace(host), "/")
	}
}

// WithAccountClock overrides the time source, used by tests.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAccountLogger overrides the service logger.
func WithAccountLogger(log *zap.Logger) AccountOption {
	return func(s *AccountService) {
		if log != nil {
			s.log = log
		}
	}
}

// AccountService handles sign-up, email verification, login and account settings.
type AccountService struct {
	db       *gorm.DB
	mailer   mail.Mailer
	renderer *mail.Renderer
	host     string
	now      func() time.Time
	log      *zap.Logger
}

// NewAccountService constructs an AccountService. A nil mailer disables outbound email.
func NewAccountService(db *gorm.DB, mailer mail.Mailer, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}

	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}

	svc := &AccountService{
		db:       db,
		mailer:   mailer,
		renderer: renderer,
		host:     "http://localhost:8000",
		now:      systemClock,
		log:      logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SignUp validates the form, persists a new unverified account and sends the confirmation email.
// Nothing is written when validation fails.
func (s *AccountService) SignUp(ctx context.Context, input SignUpInput) (*models.Account, error) {
	ctx = ensureContext(ctx)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Nickname = strings.TrimSpace(input.Nickname)

	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}

	var fields []apperrors.FieldError
	taken, err := s.exists(ctx, "email", input.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		fields = append(fields, apperrors.Field("email", "is already in use"))
	}
	taken, err = s.exists(ctx, "nickname", input.Nickname)
	if err != nil {
		return nil, err
	}
	if taken {
		fields = append(fields, apperrors.Field("nickname", "is already in use"))
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidation(fields...)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	account := &models.Account{
		Email:    input.Email,
		Nickname: input.Nickname,
		Password: hashed,
	}
	account.ApplyPreferences(models.DefaultNotificationPreferences())
	account.GenerateEmailCheckToken()
	account.CanSendConfirmEmail(s.now())

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewValidation(apperrors.Field("email", "is already in use"))
		}
		return nil, fmt.Errorf("account service: create account: %w", err)
	}

	s.sendTokenEmail(ctx, account, confirmEmailSubject, confirmEmailMessage, confirmEmailLink, "/check-email-token")
	return account, nil
}

// VerifyEmail completes sign-up when token matches the one issued for email.
// Verifying an already verified account succeeds without changing it.
func (s *AccountService) VerifyEmail(ctx context.Context, email, token string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	account, err := s.findByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidEmailToken
	}
	if err != nil {
		return nil, err
	}
	if !account.IsValidToken(token) {
		return nil, ErrInvalidEmailToken
	}
	if account.EmailVerified {
		return account, nil
	}

	account.CompleteSignUp(s.now())
	if err := s.db.WithContext(ctx).Model(account).Updates(map[string]any{
		"email_verified": true,
		"joined_at":      account.JoinedAt,
	}).Error; err != nil {
		return nil, fmt.Errorf("account service: complete sign up: %w", err)
	}
	return account, nil
}

// ResendConfirmEmail issues a fresh token and mails it, at most once per hour.
func (s *AccountService) ResendConfirmEmail(ctx context.Context, actorID string) error {
	ctx = ensureContext(ctx)
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	if err := s.rotateToken(ctx, account); err != nil {
		return err
	}

	s.sendTokenEmail(ctx, account, confirmEmailSubject, confirmEmailMessage, confirmEmailLink, "/check-email-token")
	return nil
}

// SendLoginLink mails a one-click login link, sharing the hourly gate with confirmation mails.
func (s *AccountService) SendLoginLink(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	account, err := s.findByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return apperrors.NewValidation(apperrors.Field("email", "is not a registered email address"))
	}
	if err != nil {
		return err
	}
	if err := s.rotateToken(ctx, account); err != nil {
		return err
	}

	s.sendTokenEmail(ctx, account, loginEmailSubject, loginEmailMessage, loginEmailLink, "/login-by-email")
	return nil
}

// LoginByEmail resolves the account behind a login link.
func (s *AccountService) LoginByEmail(ctx context.Context, email, token string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	account, err := s.findByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidEmailToken
	}
	if err != nil {
		return nil, err
	}
	if !account.IsValidToken(token) {
		return nil, ErrInvalidEmailToken
	}
	return account, nil
}

// Authenticate checks a password login where identifier is an email or a nickname.
func (s *AccountService) Authenticate(ctx context.Context, identifier, password string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	var account models.Account
	err := s.db.WithContext(ctx).
		Where("email = ? OR nickname = ?", strings.ToLower(identifier), identifier).
		Take(&account).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account service: find account: %w", err)
	}
	if err != nil || !crypto.VerifyPassword(account.Password, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &account, nil
}

// GetByID loads an account with its interests.
func (s *AccountService) GetByID(ctx context.Context, id string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	return s.findOne(ctx, "id = ?", strings.TrimSpace(id))
}

// GetByNickname loads a public profile.
func (s *AccountService) GetByNickname(ctx context.Context, nickname string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	return s.findOne(ctx, "nickname = ?", strings.TrimSpace(nickname))
}

// UpdateProfile overwrites the profile fields.
func (s *AccountService) UpdateProfile(ctx context.Context, actorID string, input ProfileInput) (*models.Account, error) {
	ctx = ensureContext(ctx)
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"bio":           strings.TrimSpace(input.Bio),
		"url":           strings.TrimSpace(input.URL),
		"occupation":    strings.TrimSpace(input.Occupation),
		"location":      strings.TrimSpace(input.Location),
		"profile_image": input.ProfileImage,
	}
	if err := s.db.WithContext(ctx).Model(account).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("account service: update profile: %w", err)
	}
	return s.GetByID(ctx, actorID)
}

// UpdatePassword replaces the password hash.
func (s *AccountService) UpdatePassword(ctx context.Context, actorID string, input PasswordInput) error {
	ctx = ensureContext(ctx)
	if err := validator.AsAppError(input); err != nil {
		return err
	}
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("account service: hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(account).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("account service: update password: %w", err)
	}
	return nil
}

// UpdateNotifications overwrites all six notification flags.
func (s *AccountService) UpdateNotifications(ctx context.Context, actorID string, prefs models.NotificationPreferences) (*models.Account, error) {
	ctx = ensureContext(ctx)
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	account.ApplyPreferences(prefs)
	if err := s.db.WithContext(ctx).Model(account).Updates(map[string]any{
		"study_created_by_email":           prefs.StudyCreatedByEmail,
		"study_created_by_web":             prefs.StudyCreatedByWeb,
		"study_enrollment_result_by_email": prefs.StudyEnrollmentResultByEmail,
		"study_enrollment_result_by_web":   prefs.StudyEnrollmentResultByWeb,
		"study_updated_by_email":           prefs.StudyUpdatedByEmail,
		"study_updated_by_web":             prefs.StudyUpdatedByWeb,
	}).Error; err != nil {
		return nil, fmt.Errorf("account service: update notifications: %w", err)
	}
	return account, nil
}

// UpdateNickname renames the account. The new nickname must be unused.
func (s *AccountService) UpdateNickname(ctx context.Context, actorID string, input NicknameInput) (*models.Account, error) {
	ctx = ensureContext(ctx)
	input.Nickname = strings.TrimSpace(input.Nickname)
	if err := validator.AsAppError(input); err != nil {
		return nil, err
	}
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if account.Nickname == input.Nickname {
		return account, nil
	}

	taken, err := s.exists(ctx, "nickname", input.Nickname)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperrors.NewValidation(apperrors.Field("nickname", "is already in use"))
	}

	if err := s.db.WithContext(ctx).Model(account).Update("nickname", input.Nickname).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewValidation(apperrors.Field("nickname", "is already in use"))
		}
		return nil, fmt.Errorf("account service: update nickname: %w", err)
	}
	account.Nickname = input.Nickname
	return account, nil
}

// Tags lists the account's interest tags.
func (s *AccountService) Tags(ctx context.Context, actorID string) ([]models.Tag, error) {
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return account.Tags, nil
}

// AddTag follows a tag, creating it in the vocabulary when new.
func (s *AccountService) AddTag(ctx context.Context, actorID, title string) (*models.Tag, error) {
	ctx = ensureContext(ctx)
	if _, err := s.GetByID(ctx, actorID); err != nil {
		return nil, err
	}
	tag, err := findOrCreateTag(s.db.WithContext(ctx), title)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(accountRef(actorID)).Association("Tags").Append(tag); err != nil {
		return nil, fmt.Errorf("account service: add tag: %w", err)
	}
	return tag, nil
}

// RemoveTag unfollows a tag.
func (s *AccountService) RemoveTag(ctx context.Context, actorID, title string) error {
	ctx = ensureContext(ctx)
	if _, err := s.GetByID(ctx, actorID); err != nil {
		return err
	}
	var tag models.Tag
	err := s.db.WithContext(ctx).Where("title = ?", models.NormalizeTagTitle(title)).Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTagNotFound
	}
	if err != nil {
		return fmt.Errorf("account service: find tag: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(accountRef(actorID)).Association("Tags").Delete(&tag); err != nil {
		return fmt.Errorf("account service: remove tag: %w", err)
	}
	return nil
}

// Zones lists the account's interest zones.
func (s *AccountService) Zones(ctx context.Context, actorID string) ([]models.Zone, error) {
	account, err := s.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return account.Zones, nil
}

// AddZone follows a seeded zone by display name.
func (s *AccountService) AddZone(ctx context.Context, actorID, name string) (*models.Zone, error) {
	ctx = ensureContext(ctx)
	if _, err := s.GetByID(ctx, actorID); err != nil {
		return nil, err
	}
	zone, err := findZoneByName(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(accountRef(actorID)).Association("Zones").Append(zone); err != nil {
		return nil, fmt.Errorf("account service: add zone: %w", err)
	}
	return zone, nil
}

// RemoveZone unfollows a zone.
func (s *AccountService) RemoveZone(ctx context.Context, actorID, name string) error {
	ctx = ensureContext(ctx)
	if _, err := s.GetByID(ctx, actorID); err != nil {
		return err
	}
	zone, err := findZoneByName(s.db.WithContext(ctx), name)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(accountRef(actorID)).Association("Zones").Delete(zone); err != nil {
		return fmt.Errorf("account service: remove zone: %w", err)
	}
	return nil
}

// rotateToken replaces the email token when the hourly gate allows it. The stored stamp is
// re-checked in the UPDATE so concurrent requests send at most one mail per window.
func (s *AccountService) rotateToken(ctx context.Context, account *models.Account) error {
	now := s.now()
	if !account.CanSendConfirmEmail(now) {
		return ErrConfirmEmailTooSoon
	}
	account.GenerateEmailCheckToken()

	cutoff := now.Add(-models.ConfirmEmailResendInterval)
	result := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", account.ID).
		Where("email_check_token_generated_at IS NULL OR email_check_token_generated_at <= ?", cutoff).
		Updates(map[string]any{
			"email_check_token":              account.EmailCheckToken,
			"email_check_token_generated_at": account.EmailCheckTokenGeneratedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("account service: store email token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConfirmEmailTooSoon
	}
	return nil
}

func (s *AccountService) sendTokenEmail(ctx context.Context, account *models.Account, subject, message, linkName, path string) {
	if s.mailer == nil {
		return
	}

	query := url.Values{}
	query.Set("token", account.EmailCheckToken)
	query.Set("email", account.Email)

	body, err := s.renderer.Render(mail.TemplateSimpleLink, mail.LinkVars{
		Host:     s.host,
		Link:     path + "?" + query.Encode(),
		LinkName: linkName,
		Nickname: account.Nickname,
		Message:  message,
	})
	if err != nil {
		s.log.Error("render account email", zap.String("account_id", account.ID), zap.Error(err))
		return
	}

	if err := s.mailer.Send(ctx, mail.Message{
		To:      []string{account.Email},
		Subject: subject,
		Body:    body,
		HTML:    true,
	}); err != nil {
		s.log.Warn("send account email",
			zap.String("account_id", account.ID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (s *AccountService) exists(ctx context.Context, column, value string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where(column+" = ?", value).Count(&count).Error; err != nil {
		return false, fmt.Errorf("account service: check %s: %w", column, err)
	}
	return count > 0, nil
}

func (s *AccountService) findByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findOne(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *AccountService) findOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Preload("Tags").Preload("Zones").Where(query, arg).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account service: load account: %w", err)
	}
	return &account, nil
}

func accountRef(id string) *models.Account {
	return &models.Account{BaseModel: models.BaseModel{ID: id}}
}
