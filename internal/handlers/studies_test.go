package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/handlers/testutil"
)

const seoulZone = "Seoul(서울특별시)/none"

type studyPayload struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	State       string `json:"state"`
	Link        string `json:"link"`
	Published   bool   `json:"published"`
	Closed      bool   `json:"closed"`
	Recruiting  bool   `json:"recruiting"`
	MemberCount int    `json:"member_count"`
	IsManager   bool   `json:"is_manager"`
	IsMember    bool   `json:"is_member"`
	Joinable    bool   `json:"joinable"`
	Removable   bool   `json:"removable"`
}

func decodeStudy(t *testing.T, env *testutil.Env, method, path string, body any, token string, status int) studyPayload {
	t.Helper()
	w := env.Request(method, path, body, token)
	require.Equal(t, status, w.Code, w.Body.String())
	var study studyPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &study)
	return study
}

func createStudy(t *testing.T, env *testutil.Env, token, path string) studyPayload {
	t.Helper()
	return decodeStudy(t, env, http.MethodPost, "/api/studies", map[string]string{
		"path":              path,
		"title":             "Study " + path,
		"short_description": "short " + path,
		"full_description":  "full " + path,
	}, token, http.StatusCreated)
}

func TestStudyHandler_Lifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	manager := env.SignUp("manager").Tokens.AccessToken
	member := env.SignUp("member").Tokens.AccessToken

	created := createStudy(t, env, manager, "go-study")
	require.Equal(t, "draft", created.State)
	require.Equal(t, "/study/go-study", created.Link)
	require.True(t, created.IsManager)
	require.True(t, created.Removable)

	decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/settings/publish", nil, member, http.StatusForbidden)

	published := decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/settings/publish", nil, manager, http.StatusOK)
	require.True(t, published.Published)
	require.Equal(t, "published", published.State)
	require.False(t, published.Removable)

	w := env.Request(http.MethodPost, "/api/studies/go-study/settings/publish", nil, manager)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.Equal(t, "STUDY_INVALID_TRANSITION", testutil.DecodeResponse(t, w).Error.Code)

	recruiting := decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/settings/recruit/start", nil, manager, http.StatusOK)
	require.True(t, recruiting.Recruiting)

	viewed := decodeStudy(t, env, http.MethodGet, "/api/studies/go-study", nil, member, http.StatusOK)
	require.True(t, viewed.Joinable)
	require.False(t, viewed.IsMember)

	joined := decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/join", nil, member, http.StatusOK)
	require.Equal(t, 1, joined.MemberCount)
	require.True(t, joined.IsMember)

	w = env.Request(http.MethodPost, "/api/studies/go-study/join", nil, member)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	left := decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/leave", nil, member, http.StatusOK)
	require.Zero(t, left.MemberCount)

	closed := decodeStudy(t, env, http.MethodPost, "/api/studies/go-study/settings/close", nil, manager, http.StatusOK)
	require.Equal(t, "closed", closed.State)

	w = env.Request(http.MethodPost, "/api/studies/go-study/settings/close", nil, manager)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.Request(http.MethodDelete, "/api/studies/go-study", nil, manager)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStudyHandler_CreateValidatesInput(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.SignUp("author").Tokens.AccessToken

	w := env.Request(http.MethodPost, "/api/studies", map[string]string{
		"path":              "Not A Path!",
		"title":             "Bad",
		"short_description": "short",
		"full_description":  "full",
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "path", resp.Error.Fields[0].Field)

	createStudy(t, env, token, "unique")
	w = env.Request(http.MethodPost, "/api/studies", map[string]string{
		"path":              "unique",
		"title":             "Again",
		"short_description": "short",
		"full_description":  "full",
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	unauthenticated := env.Request(http.MethodPost, "/api/studies", map[string]string{"path": "x"}, "")
	require.Equal(t, http.StatusUnauthorized, unauthenticated.Code)
}

func TestStudyHandler_SettingsAndRemoval(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.SignUp("owner").Tokens.AccessToken
	createStudy(t, env, token, "draft-study")

	w := env.Request(http.MethodPost, "/api/studies/draft-study/settings/tags/add", map[string]string{"tag_title": "golang"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.Request(http.MethodPost, "/api/studies/draft-study/settings/zones/add", map[string]string{"zone_name": seoulZone}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.Request(http.MethodPost, "/api/studies/draft-study/settings/zones/add", map[string]string{"zone_name": "Atlantis(아틀란티스)/none"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	renamed := decodeStudy(t, env, http.MethodPut, "/api/studies/draft-study/settings/path", map[string]string{"path": "moved-study"}, token, http.StatusOK)
	require.Equal(t, "moved-study", renamed.Path)
	decodeStudy(t, env, http.MethodGet, "/api/studies/draft-study", nil, "", http.StatusNotFound)

	retitled := decodeStudy(t, env, http.MethodPut, "/api/studies/moved-study/settings/title", map[string]string{"title": "Fresh title"}, token, http.StatusOK)
	require.Equal(t, "Fresh title", retitled.Title)

	w = env.Request(http.MethodDelete, "/api/studies/moved-study", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeStudy(t, env, http.MethodGet, "/api/studies/moved-study", nil, "", http.StatusNotFound)
}

func TestStudyHandler_SearchAndFeed(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.SignUp("searcher").Tokens.AccessToken

	for _, path := range []string{"spring-one", "spring-two", "hidden-draft"} {
		createStudy(t, env, token, path)
	}
	for _, path := range []string{"spring-one", "spring-two"} {
		decodeStudy(t, env, http.MethodPost, "/api/studies/"+path+"/settings/publish", nil, token, http.StatusOK)
	}

	w := env.Request(http.MethodGet, "/api/studies/search?keyword=spring&size=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	var items []studyPayload
	testutil.DecodeInto(t, resp.Data, &items)
	require.Len(t, items, 1)
	require.NotNil(t, resp.Meta)
	require.EqualValues(t, 2, resp.Meta.Total)

	w = env.Request(http.MethodGet, "/api/studies/recent", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &items)
	require.Len(t, items, 2)

	w = env.Request(http.MethodGet, "/api/feed", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var feed map[string][]studyPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &feed)
	require.Len(t, feed["managing"], 3)
	require.Empty(t, feed["joined"])
}
