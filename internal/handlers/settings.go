package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/response"
)

// SettingsHandler serves the account settings pages and public profiles.
type SettingsHandler struct {
	accounts *services.AccountService
	tags     *services.TagService
	zones    *services.ZoneService
}

func NewSettingsHandler(accounts *services.AccountService, tags *services.TagService, zones *services.ZoneService) *SettingsHandler {
	return &SettingsHandler{accounts: accounts, tags: tags, zones: zones}
}

type tagRequest struct {
	TagTitle string `json:"tag_title" validate:"required,max=50"`
}

type zoneRequest struct {
	ZoneName string `json:"zone_name" validate:"required"`
}

// interestsResponse lists what an owner follows plus every option they could pick.
type interestsResponse struct {
	Selected  []string `json:"selected"`
	Whitelist []string `json:"whitelist"`
}

// publicProfile hides the email and verification state from everyone but the owner.
type publicProfile struct {
	Nickname     string     `json:"nickname"`
	Bio          string     `json:"bio"`
	URL          string     `json:"url"`
	Occupation   string     `json:"occupation"`
	Location     string     `json:"location"`
	ProfileImage string     `json:"profile_image"`
	JoinedAt     *time.Time `json:"joined_at"`
	IsOwner      bool       `json:"is_owner"`
	Email        string     `json:"email,omitempty"`
	Verified     *bool      `json:"email_verified,omitempty"`
}

// GET /api/profile/:nickname
func (h *SettingsHandler) Profile(c *gin.Context) {
	account, err := h.accounts.GetByNickname(requestContext(c), c.Param("nickname"))
	if err != nil {
		response.Error(c, err)
		return
	}

	profile := publicProfile{
		Nickname:     account.Nickname,
		Bio:          account.Bio,
		URL:          account.URL,
		Occupation:   account.Occupation,
		Location:     account.Location,
		ProfileImage: account.ProfileImage,
		JoinedAt:     account.JoinedAt,
	}
	if account.ID == c.GetString(middleware.CtxAccountIDKey) {
		profile.IsOwner = true
		profile.Email = account.Email
		profile.Verified = &account.EmailVerified
	}
	response.Success(c, http.StatusOK, profile)
}

// PUT /api/settings/profile
func (h *SettingsHandler) UpdateProfile(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.ProfileInput
	if !bindJSON(c, &input) {
		return
	}

	account, err := h.accounts.UpdateProfile(requestContext(c), accountID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account)
}

// PUT /api/settings/password
func (h *SettingsHandler) UpdatePassword(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.PasswordInput
	if !bindJSON(c, &input) {
		return
	}

	if err := h.accounts.UpdatePassword(requestContext(c), accountID, input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// GET /api/settings/notifications
func (h *SettingsHandler) Notifications(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account.Preferences())
}

// PUT /api/settings/notifications
func (h *SettingsHandler) UpdateNotifications(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var prefs models.NotificationPreferences
	if !bindJSON(c, &prefs) {
		return
	}

	account, err := h.accounts.UpdateNotifications(requestContext(c), accountID, prefs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account.Preferences())
}

// PUT /api/settings/nickname
func (h *SettingsHandler) UpdateNickname(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var input services.NicknameInput
	if !bindJSON(c, &input) {
		return
	}

	account, err := h.accounts.UpdateNickname(requestContext(c), accountID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account)
}

// GET /api/settings/tags
func (h *SettingsHandler) Tags(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	tags, err := h.accounts.Tags(ctx, accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	whitelist, err := h.tags.Titles(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, interestsResponse{Selected: tagTitles(tags), Whitelist: whitelist})
}

// POST /api/settings/tags/add
func (h *SettingsHandler) AddTag(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req tagRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tag, err := h.accounts.AddTag(requestContext(c), accountID, req.TagTitle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tag)
}

// POST /api/settings/tags/remove
func (h *SettingsHandler) RemoveTag(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req tagRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RemoveTag(requestContext(c), accountID, req.TagTitle); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": req.TagTitle})
}

// GET /api/settings/zones
func (h *SettingsHandler) Zones(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	zones, err := h.accounts.Zones(ctx, accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	whitelist, err := h.zones.DisplayNames(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, interestsResponse{Selected: zoneNames(zones), Whitelist: whitelist})
}

// POST /api/settings/zones/add
func (h *SettingsHandler) AddZone(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req zoneRequest
	if !bindAndValidate(c, &req) {
		return
	}

	zone, err := h.accounts.AddZone(requestContext(c), accountID, req.ZoneName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, zone)
}

// POST /api/settings/zones/remove
func (h *SettingsHandler) RemoveZone(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	var req zoneRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RemoveZone(requestContext(c), accountID, req.ZoneName); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": req.ZoneName})
}

func tagTitles(tags []models.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.Title)
	}
	return out
}

func zoneNames(zones []models.Zone) []string {
	out := make([]string, 0, len(zones))
	for _, zone := range zones {
		out = append(out, zone.DisplayName())
	}
	return out
}
