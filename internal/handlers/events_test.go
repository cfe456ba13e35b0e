package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/handlers/testutil"
)

type enrollmentPayload struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Nickname  string `json:"nickname"`
	Accepted  bool   `json:"accepted"`
	Attended  bool   `json:"attended"`
}

type eventPayload struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	Type                string              `json:"type"`
	Link                string              `json:"link"`
	CreatedBy           string              `json:"created_by"`
	AcceptedEnrollments int                 `json:"accepted_enrollments"`
	RemainingSpots      int                 `json:"remaining_spots"`
	Enrollable          bool                `json:"enrollable"`
	Disenrollable       bool                `json:"disenrollable"`
	IsManager           bool                `json:"is_manager"`
	Enrollments         []enrollmentPayload `json:"enrollments"`
}

func meetupBody(kind string, limit int) map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"title":                    "Weekly meetup",
		"description":              "bring a laptop",
		"type":                     kind,
		"limit_of_enrollments":     limit,
		"end_enrollment_date_time": now.Add(24 * time.Hour),
		"start_date_time":          now.Add(48 * time.Hour),
		"end_date_time":            now.Add(50 * time.Hour),
	}
}

func publishedStudy(t *testing.T, env *testutil.Env, token, path string) {
	t.Helper()
	createStudy(t, env, token, path)
	decodeStudy(t, env, http.MethodPost, "/api/studies/"+path+"/settings/publish", nil, token, http.StatusOK)
}

func decodeEvent(t *testing.T, env *testutil.Env, method, path string, body any, token string, status int) eventPayload {
	t.Helper()
	w := env.Request(method, path, body, token)
	require.Equal(t, status, w.Code, w.Body.String())
	var event eventPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &event)
	return event
}

func decodeEnrollment(t *testing.T, env *testutil.Env, path, token string, status int) enrollmentPayload {
	t.Helper()
	w := env.Request(http.MethodPost, path, nil, token)
	require.Equal(t, status, w.Code, w.Body.String())
	var enrollment enrollmentPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &enrollment)
	return enrollment
}

func TestEventHandler_ConfirmativeFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	manager := env.SignUp("manager").Tokens.AccessToken
	guest := env.SignUp("guest").Tokens.AccessToken
	publishedStudy(t, env, manager, "meetups")

	decodeEvent(t, env, http.MethodPost, "/api/studies/meetups/events", meetupBody("CONFIRMATIVE", 2), guest, http.StatusForbidden)
	created := decodeEvent(t, env, http.MethodPost, "/api/studies/meetups/events", meetupBody("CONFIRMATIVE", 2), manager, http.StatusCreated)
	require.Equal(t, "CONFIRMATIVE", created.Type)
	require.Equal(t, 2, created.RemainingSpots)

	base := "/api/studies/meetups/events/" + created.ID
	viewed := decodeEvent(t, env, http.MethodGet, base, nil, guest, http.StatusOK)
	require.True(t, viewed.Enrollable)
	require.False(t, viewed.IsManager)
	require.Equal(t, "manager", viewed.CreatedBy)
	require.Equal(t, "/study/meetups/events/"+created.ID, viewed.Link)

	enrollment := decodeEnrollment(t, env, base+"/enroll", guest, http.StatusCreated)
	require.False(t, enrollment.Accepted)
	require.Equal(t, "guest", enrollment.Nickname)

	w := env.Request(http.MethodPost, base+"/enroll", nil, guest)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.Equal(t, "ENROLLMENT_DUPLICATE", testutil.DecodeResponse(t, w).Error.Code)

	decision := base + "/enrollments/" + enrollment.ID
	decodeEnrollment(t, env, decision+"/accept", guest, http.StatusForbidden)
	accepted := decodeEnrollment(t, env, decision+"/accept", manager, http.StatusOK)
	require.True(t, accepted.Accepted)
	attended := decodeEnrollment(t, env, decision+"/checkin", manager, http.StatusOK)
	require.True(t, attended.Attended)
	cleared := decodeEnrollment(t, env, decision+"/cancel-checkin", manager, http.StatusOK)
	require.False(t, cleared.Attended)
	rejected := decodeEnrollment(t, env, decision+"/reject", manager, http.StatusOK)
	require.False(t, rejected.Accepted)

	detail := decodeEvent(t, env, http.MethodGet, base, nil, manager, http.StatusOK)
	require.True(t, detail.IsManager)
	require.Len(t, detail.Enrollments, 1)
	require.Equal(t, "guest", detail.Enrollments[0].Nickname)

	raw := env.Request(http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, raw.Code)
	require.NotContains(t, raw.Body.String(), "guest@example.com")
}

func TestEventHandler_FCFSWaitingList(t *testing.T) {
	env := testutil.NewEnv(t)
	manager := env.SignUp("manager").Tokens.AccessToken
	first := env.SignUp("first").Tokens.AccessToken
	second := env.SignUp("second").Tokens.AccessToken
	third := env.SignUp("third").Tokens.AccessToken
	publishedStudy(t, env, manager, "fcfs")

	created := decodeEvent(t, env, http.MethodPost, "/api/studies/fcfs/events", meetupBody("FCFS", 2), manager, http.StatusCreated)
	base := "/api/studies/fcfs/events/" + created.ID

	require.True(t, decodeEnrollment(t, env, base+"/enroll", first, http.StatusCreated).Accepted)
	require.True(t, decodeEnrollment(t, env, base+"/enroll", second, http.StatusCreated).Accepted)
	require.False(t, decodeEnrollment(t, env, base+"/enroll", third, http.StatusCreated).Accepted)

	w := env.Request(http.MethodPost, base+"/disenroll", nil, first)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	detail := decodeEvent(t, env, http.MethodGet, base, nil, third, http.StatusOK)
	require.Equal(t, 2, detail.AcceptedEnrollments)
	require.True(t, detail.Disenrollable)
	for _, enrollment := range detail.Enrollments {
		require.True(t, enrollment.Accepted, enrollment.Nickname)
	}

	w = env.Request(http.MethodGet, "/api/studies/fcfs/events", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		New []eventPayload `json:"new_events"`
		Old []eventPayload `json:"old_events"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &list)
	require.Len(t, list.New, 1)
	require.Empty(t, list.Old)
}

func TestEventHandler_ScheduleValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	manager := env.SignUp("manager").Tokens.AccessToken
	publishedStudy(t, env, manager, "rules")

	body := meetupBody("FCFS", 2)
	body["start_date_time"] = time.Now().UTC().Add(time.Hour)
	w := env.Request(http.MethodPost, "/api/studies/rules/events", body, manager)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	require.Len(t, resp.Error.Fields, 1)
	require.Equal(t, "start_date_time", resp.Error.Fields[0].Field)

	created := decodeEvent(t, env, http.MethodPost, "/api/studies/rules/events", meetupBody("FCFS", 2), manager, http.StatusCreated)
	w = env.Request(http.MethodDelete, "/api/studies/rules/events/"+created.ID, nil, manager)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/studies/rules/events/"+created.ID, nil, manager)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	require.Equal(t, "EVENT_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}
