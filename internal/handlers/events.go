package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/response"
)

// EventHandler exposes study meetups and their enrollments.
type EventHandler struct {
	events *services.EventService
	now    func() time.Time
}

func NewEventHandler(events *services.EventService) *EventHandler {
	return &EventHandler{events: events, now: func() time.Time { return time.Now().UTC() }}
}

// enrollmentView hides account details other than the public profile.
type enrollmentView struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Nickname     string    `json:"nickname"`
	ProfileImage string    `json:"profile_image"`
	EnrolledAt   time.Time `json:"enrolled_at"`
	Accepted     bool      `json:"accepted"`
	Attended     bool      `json:"attended"`
}

func newEnrollmentView(enrollment *models.Enrollment) enrollmentView {
	view := enrollmentView{
		ID:         enrollment.ID,
		AccountID:  enrollment.AccountID,
		EnrolledAt: enrollment.EnrolledAt,
		Accepted:   enrollment.Accepted,
		Attended:   enrollment.Attended,
	}
	if enrollment.Account != nil {
		view.Nickname = enrollment.Account.Nickname
		view.ProfileImage = enrollment.Account.ProfileImage
	}
	return view
}

type eventView struct {
	ID                    string           `json:"id"`
	StudyID               string           `json:"study_id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	Type                  models.EventType `json:"type"`
	EndEnrollmentDateTime time.Time        `json:"end_enrollment_date_time"`
	StartDateTime         time.Time        `json:"start_date_time"`
	EndDateTime           time.Time        `json:"end_date_time"`
	LimitOfEnrollments    int              `json:"limit_of_enrollments"`
	AcceptedEnrollments   int              `json:"accepted_enrollments"`
	RemainingSpots        int              `json:"remaining_spots"`
	CreatedBy             string           `json:"created_by,omitempty"`
	Link                  string           `json:"link,omitempty"`
	Enrollable            bool             `json:"enrollable"`
	Disenrollable         bool             `json:"disenrollable"`
	IsManager             bool             `json:"is_manager"`
	Enrollments           []enrollmentView `json:"enrollments,omitempty"`
}

func newEventView(event *models.Event, viewerID string, now time.Time) eventView {
	return eventView{
		ID:                    event.ID,
		StudyID:               event.StudyID,
		Title:                 event.Title,
		Description:           event.Description,
		Type:                  event.Type,
		EndEnrollmentDateTime: event.EndEnrollmentDateTime,
		StartDateTime:         event.StartDateTime,
		EndDateTime:           event.EndDateTime,
		LimitOfEnrollments:    event.LimitOfEnrollments,
		AcceptedEnrollments:   event.NumberOfAcceptedEnrollments(),
		RemainingSpots:        event.NumberOfRemainingSpots(),
		Enrollable:            viewerID != "" && event.IsEnrollableFor(viewerID, now),
		Disenrollable:         viewerID != "" && event.IsDisenrollableFor(viewerID, now),
	}
}

func eventViews(events []models.Event, viewerID string, now time.Time) []eventView {
	out := make([]eventView, 0, len(events))
	for i := range events {
		out = append(out, newEventView(&events[i], viewerID, now))
	}
	return out
}

// GET /api/studies/:path/events
func (h *EventHandler) List(c *gin.Context) {
	list, err := h.events.List(requestContext(c), c.Param("path"))
	if err != nil {
		response.Error(c, err)
		return
	}
	viewerID := c.GetString(middleware.CtxAccountIDKey)
	now := h.now()
	response.Success(c, http.StatusOK, gin.H{
		"new_events": eventViews(list.New, viewerID, now),
		"old_events": eventViews(list.Old, viewerID, now),
	})
}

// GET /api/studies/:path/events/:id
func (h *EventHandler) Get(c *gin.Context) {
	study, event, err := h.events.Get(requestContext(c), c.Param("path"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	viewerID := c.GetString(middleware.CtxAccountIDKey)
	view := newEventView(event, viewerID, h.now())
	view.Link = event.Link(study)
	view.IsManager = study.IsManager(viewerID)
	if event.CreatedBy != nil {
		view.CreatedBy = event.CreatedBy.Nickname
	}
	view.Enrollments = make([]enrollmentView, 0, len(event.Enrollments))
	for i := range event.Enrollments {
		view.Enrollments = append(view.Enrollments, newEnrollmentView(&event.Enrollments[i]))
	}
	response.Success(c, http.StatusOK, view)
}

// POST /api/studies/:path/events
func (h *EventHandler) Create(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.EventInput
	if !bindJSON(c, &input) {
		return
	}
	event, err := h.events.Create(requestContext(c), accountID, c.Param("path"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newEventView(event, accountID, h.now()))
}

// PUT /api/studies/:path/events/:id
func (h *EventHandler) Update(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.EventInput
	if !bindJSON(c, &input) {
		return
	}
	event, err := h.events.Update(requestContext(c), accountID, c.Param("path"), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newEventView(event, accountID, h.now()))
}

// DELETE /api/studies/:path/events/:id
func (h *EventHandler) Cancel(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	if err := h.events.Cancel(requestContext(c), accountID, c.Param("path"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/studies/:path/events/:id/enroll
func (h *EventHandler) Enroll(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	enrollment, err := h.events.Enroll(requestContext(c), accountID, c.Param("path"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newEnrollmentView(enrollment))
}

// POST /api/studies/:path/events/:id/disenroll
func (h *EventHandler) Disenroll(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	if err := h.events.Disenroll(requestContext(c), accountID, c.Param("path"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"disenrolled": true})
}

type enrollmentDecision func(ctx context.Context, accountID, path, eventID, enrollmentID string) (*models.Enrollment, error)

// POST /api/studies/:path/events/:id/enrollments/:enrollmentId/accept
func (h *EventHandler) Accept(c *gin.Context) {
	h.decide(c, h.events.Accept)
}

// POST /api/studies/:path/events/:id/enrollments/:enrollmentId/reject
func (h *EventHandler) Reject(c *gin.Context) {
	h.decide(c, h.events.Reject)
}

// POST /api/studies/:path/events/:id/enrollments/:enrollmentId/checkin
func (h *EventHandler) Checkin(c *gin.Context) {
	h.decide(c, h.events.Checkin)
}

// POST /api/studies/:path/events/:id/enrollments/:enrollmentId/cancel-checkin
func (h *EventHandler) CancelCheckin(c *gin.Context) {
	h.decide(c, h.events.CancelCheckin)
}

func (h *EventHandler) decide(c *gin.Context, op enrollmentDecision) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	enrollment, err := op(requestContext(c), accountID, c.Param("path"), c.Param("id"), c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newEnrollmentView(enrollment))
}
