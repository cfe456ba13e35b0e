package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/api"
	"github.com/charlesng35/studyhub/internal/app"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	sharedtestutil "github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/mail"
	"github.com/charlesng35/studyhub/pkg/response"
)

// DefaultPassword satisfies the sign-up password rules.
const DefaultPassword = "correct-horse-battery"

// Mailbox records outbound mail instead of sending it.
type Mailbox struct {
	mu       sync.Mutex
	messages []mail.Message
}

// Send implements mail.Mailer.
func (m *Mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// SentTo returns messages addressed to address.
func (m *Mailbox) SentTo(address string) []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mail.Message
	for _, msg := range m.messages {
		for _, to := range msg.To {
			if to == address {
				out = append(out, msg)
			}
		}
	}
	return out
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	JWT           *iauth.JWTService
	Mailbox       *Mailbox
	Accounts      *services.AccountService
	Studies       *services.StudyService
	Events        *services.EventService
	Notifications *services.NotificationService
	csrfToken     string
	csrfCookie    *http.Cookie
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
// Study events are not dispatched; tests drive the notification service directly.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	cfg := &app.Config{
		Server: app.ServerConfig{
			CSRF: app.CSRFConfig{Enabled: true},
		},
		App: app.AppConfig{Host: "http://studyhub.test"},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	mailbox := &Mailbox{}
	accounts, err := services.NewAccountService(db, mailbox, services.WithAccountHost(cfg.App.Host))
	require.NoError(t, err)
	studies, err := services.NewStudyService(db, nil)
	require.NoError(t, err)
	meetups, err := services.NewEventService(db, nil)
	require.NoError(t, err)
	tags, err := services.NewTagService(db)
	require.NoError(t, err)
	zones, err := services.NewZoneService(db)
	require.NoError(t, err)

	hub := realtime.NewHub()
	notifications, err := services.NewNotificationService(db, hub)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:            db,
		Config:        cfg,
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Accounts:      accounts,
		Studies:       studies,
		Events:        meetups,
		Tags:          tags,
		Zones:         zones,
		Notifications: notifications,
		Hub:           hub,
		RateStore:     middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:             t,
		DB:            db,
		Router:        router,
		JWT:           jwtSvc,
		Mailbox:       mailbox,
		Accounts:      accounts,
		Studies:       studies,
		Events:        meetups,
		Notifications: notifications,
	}
}

// TokenPair mirrors the issued token payload.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccountPayload captures the subset of account fields returned from auth endpoints.
type AccountPayload struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthResult bundles the JSON response of the token-issuing auth endpoints.
type AuthResult struct {
	Tokens  TokenPair      `json:"tokens"`
	Account AccountPayload `json:"account"`
}

// SignUp registers an account through the API and returns the issued tokens.
func (e *Env) SignUp(nickname string) AuthResult {
	e.T.Helper()

	payload := map[string]string{
		"nickname": nickname,
		"email":    nickname + "@example.com",
		"password": DefaultPassword,
	}
	w := e.Request(http.MethodPost, "/api/auth/sign-up", payload, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result AuthResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.Equal(e.T, nickname, result.Account.Nickname)
	return result
}

// Login authenticates with a nickname or email and returns the issued tokens.
func (e *Env) Login(identifier, password string) AuthResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result AuthResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	return result
}

// Account loads the stored account row by nickname.
func (e *Env) Account(nickname string) *models.Account {
	e.T.Helper()
	var account models.Account
	require.NoError(e.T, e.DB.Where("nickname = ?", nickname).First(&account).Error)
	return &account
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, token, false)
}

func (e *Env) request(method, path string, body any, token string, skipCSRF bool) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if !skipCSRF && requiresCSRFAttestation(method) {
		e.ensureCSRFToken()
		if e.csrfCookie != nil {
			req.AddCookie(e.csrfCookie)
		}
		if e.csrfToken != "" {
			req.Header.Set(middleware.CSRFHeaderName, e.csrfToken)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCSRF(w.Result())
	return w
}

func (e *Env) ensureCSRFToken() {
	if e.csrfToken != "" && e.csrfCookie != nil {
		return
	}
	resp := e.request(http.MethodGet, "/health", nil, "", true)
	require.Equal(e.T, http.StatusOK, resp.Code, resp.Body.String())
}

func (e *Env) captureCSRF(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(middleware.CSRFHeaderName); token != "" {
		e.csrfToken = token
	}
	for _, c := range resp.Cookies() {
		if c.Name == middleware.CSRFCookieName {
			e.csrfCookie = &http.Cookie{
				Name:  c.Name,
				Value: c.Value,
				Path:  c.Path,
			}
			break
		}
	}
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
