package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/response"
)

// StudyHandler exposes study pages, settings, lifecycle and membership endpoints.
type StudyHandler struct {
	studies *services.StudyService
}

func NewStudyHandler(studies *services.StudyService) *StudyHandler {
	return &StudyHandler{studies: studies}
}

// studyView decorates a study with derived fields and the caller's relationship to it.
type studyView struct {
	*models.Study
	State       models.StudyState `json:"state"`
	Link        string            `json:"link"`
	BannerImage string            `json:"banner_image"`
	Removable   bool              `json:"removable"`
	IsManager   bool              `json:"is_manager"`
	IsMember    bool              `json:"is_member"`
	Joinable    bool              `json:"joinable"`
}

func newStudyView(study *models.Study, viewerID string) studyView {
	return studyView{
		Study:       study,
		State:       study.State(),
		Link:        study.Link(),
		BannerImage: study.BannerImage(),
		Removable:   study.IsRemovable(),
		IsManager:   study.IsManager(viewerID),
		IsMember:    study.IsMember(viewerID),
		Joinable:    study.IsJoinable(viewerID),
	}
}

func studyViews(studies []models.Study) []studyView {
	out := make([]studyView, 0, len(studies))
	for i := range studies {
		out = append(out, newStudyView(&studies[i], ""))
	}
	return out
}

type pathRequest struct {
	Path string `json:"path"`
}

type titleRequest struct {
	Title string `json:"title"`
}

// POST /api/studies
func (h *StudyHandler) Create(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.CreateStudyInput
	if !bindJSON(c, &input) {
		return
	}

	study, err := h.studies.Create(requestContext(c), accountID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newStudyView(study, accountID))
}

// GET /api/studies/:path
func (h *StudyHandler) Get(c *gin.Context) {
	study, err := h.studies.Get(requestContext(c), c.Param("path"), services.ProfileAll)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newStudyView(study, c.GetString(middleware.CtxAccountIDKey)))
}

// GET /api/studies/:path/settings
func (h *StudyHandler) Settings(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.GetForUpdate(requestContext(c), accountID, path, services.ProfileAll)
	})
}

// PUT /api/studies/:path/settings/description
func (h *StudyHandler) UpdateDescription(c *gin.Context) {
	var input services.DescriptionInput
	if !bindJSON(c, &input) {
		return
	}
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.UpdateDescription(requestContext(c), accountID, path, input)
	})
}

// PUT /api/studies/:path/settings/banner
func (h *StudyHandler) UpdateBanner(c *gin.Context) {
	var input services.BannerInput
	if !bindJSON(c, &input) {
		return
	}
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.UpdateBanner(requestContext(c), accountID, path, input)
	})
}

// POST /api/studies/:path/settings/tags/add
func (h *StudyHandler) AddTag(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req tagRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tag, err := h.studies.AddTag(requestContext(c), accountID, c.Param("path"), req.TagTitle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tag)
}

// POST /api/studies/:path/settings/tags/remove
func (h *StudyHandler) RemoveTag(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req tagRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.studies.RemoveTag(requestContext(c), accountID, c.Param("path"), req.TagTitle); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": req.TagTitle})
}

// POST /api/studies/:path/settings/zones/add
func (h *StudyHandler) AddZone(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req zoneRequest
	if !bindAndValidate(c, &req) {
		return
	}

	zone, err := h.studies.AddZone(requestContext(c), accountID, c.Param("path"), req.ZoneName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, zone)
}

// POST /api/studies/:path/settings/zones/remove
func (h *StudyHandler) RemoveZone(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req zoneRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.studies.RemoveZone(requestContext(c), accountID, c.Param("path"), req.ZoneName); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": req.ZoneName})
}

// POST /api/studies/:path/settings/publish
func (h *StudyHandler) Publish(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.Publish(requestContext(c), accountID, path)
	})
}

// POST /api/studies/:path/settings/close
func (h *StudyHandler) Close(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.Close(requestContext(c), accountID, path)
	})
}

// POST /api/studies/:path/settings/recruit/start
func (h *StudyHandler) StartRecruit(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.StartRecruit(requestContext(c), accountID, path)
	})
}

// POST /api/studies/:path/settings/recruit/stop
func (h *StudyHandler) StopRecruit(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.StopRecruit(requestContext(c), accountID, path)
	})
}

// PUT /api/studies/:path/settings/path
func (h *StudyHandler) UpdatePath(c *gin.Context) {
	var req pathRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.UpdatePath(requestContext(c), accountID, path, req.Path)
	})
}

// PUT /api/studies/:path/settings/title
func (h *StudyHandler) UpdateTitle(c *gin.Context) {
	var req titleRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.UpdateTitle(requestContext(c), accountID, path, req.Title)
	})
}

// DELETE /api/studies/:path
func (h *StudyHandler) Remove(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	if err := h.studies.Remove(requestContext(c), accountID, c.Param("path")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/studies/:path/join
func (h *StudyHandler) Join(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.Join(requestContext(c), accountID, path)
	})
}

// POST /api/studies/:path/leave
func (h *StudyHandler) Leave(c *gin.Context) {
	h.respond(c, func(accountID, path string) (*models.Study, error) {
		return h.studies.Leave(requestContext(c), accountID, path)
	})
}

// GET /api/studies/search?keyword=&sort=&page=&size=
func (h *StudyHandler) Search(c *gin.Context) {
	result, err := h.studies.Search(requestContext(c), services.SearchInput{
		Keyword:  c.Query("keyword"),
		Sort:     services.SearchSort(c.Query("sort")),
		Page:     parseIntQuery(c, "page", 0),
		PageSize: parseIntQuery(c, "size", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, studyViews(result.Items),
		response.NewMeta(result.Page, result.PageSize, result.Total))
}

// GET /api/studies/recent
func (h *StudyHandler) Recent(c *gin.Context) {
	studies, err := h.studies.RecentPublished(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, studyViews(studies))
}

// GET /api/feed
func (h *StudyHandler) Feed(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	feed, err := h.studies.Feed(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"interests": studyViews(feed.Interests),
		"managing":  studyViews(feed.Managing),
		"joined":    studyViews(feed.Joined),
	})
}

// respond runs op for the caller against the :path study and renders the result.
func (h *StudyHandler) respond(c *gin.Context, op func(accountID, path string) (*models.Study, error)) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	study, err := op(accountID, c.Param("path"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newStudyView(study, accountID))
}
