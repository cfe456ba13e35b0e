package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/app"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	testutil "github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/internal/services"
)

func newTestDependencies(t *testing.T, cfg *app.Config) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test", AccessTokenTTL: 15 * time.Minute})
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)
	accounts, err := services.NewAccountService(db, nil)
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

	return Dependencies{
		DB:            db,
		Config:        cfg,
		JWT:           jwtSvc,
		Sessions:      sessions,
		Accounts:      accounts,
		Studies:       studies,
		Events:        meetups,
		Tags:          tags,
		Zones:         zones,
		Notifications: notifications,
		Hub:           hub,
	}
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, &app.Config{}))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/studies/recent").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/studies/search?keyword=go").Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/studies/missing").Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/studies/missing/events").Code)

	for _, path := range []string{"/api/auth/me", "/api/feed", "/api/notifications", "/api/settings/tags"} {
		require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, path).Code, path)
	}
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/api/studies/any/join").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/api/studies/any/events/x/enroll").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/ws").Code)

	rec := serve(router, http.MethodGet, "/api/unknown")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	cfg := &app.Config{Server: app.ServerConfig{Metrics: app.MetricsConfig{Enabled: true, Endpoint: "/metrics"}}}
	router, err := NewRouter(newTestDependencies(t, cfg))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)

	rec := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "studyhub_api_latency_seconds"), "expected api metrics to be exported")
}

func TestRouter_MetricsDisabled(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, &app.Config{}))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/metrics").Code)
}

func TestRouter_CSRFToggle(t *testing.T) {
	cfg := &app.Config{Server: app.ServerConfig{CSRF: app.CSRFConfig{Enabled: true}}}
	router, err := NewRouter(newTestDependencies(t, cfg))
	require.NoError(t, err)

	rec := serve(router, http.MethodPost, "/api/auth/login")
	require.Equal(t, http.StatusForbidden, rec.Code)

	router, err = NewRouter(newTestDependencies(t, &app.Config{}))
	require.NoError(t, err)
	rec = serve(router, http.MethodPost, "/api/auth/login")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := &app.Config{Server: app.ServerConfig{RateLimit: app.RateLimitConfig{Requests: 2, Window: time.Minute}}}
	router, err := NewRouter(newTestDependencies(t, cfg))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/health").Code)
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	deps := newTestDependencies(t, &app.Config{})
	deps.Studies = nil
	_, err := NewRouter(deps)
	require.Error(t, err)

	_, err = NewRouter(Dependencies{})
	require.Error(t, err)
}
