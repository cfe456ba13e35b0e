package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/response"
)

// AuthHandler manages sign-up, email confirmation and token based login.
type AuthHandler struct {
	accounts *services.AccountService
	sessions *iauth.SessionService
}

func NewAuthHandler(accounts *services.AccountService, sessions *iauth.SessionService) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type emailLoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type authResponse struct {
	Tokens  iauth.TokenPair `json:"tokens"`
	Account *models.Account `json:"account"`
}

// POST /api/auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var input services.SignUpInput
	if !bindJSON(c, &input) {
		return
	}

	account, err := h.accounts.SignUp(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, account)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.Authenticate(requestContext(c), strings.TrimSpace(req.Identifier), req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

// GET /api/auth/check-email-token?token=&email=
func (h *AuthHandler) CheckEmailToken(c *gin.Context) {
	account, err := h.accounts.VerifyEmail(requestContext(c), c.Query("email"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

// POST /api/auth/resend-confirm-email
func (h *AuthHandler) ResendConfirmEmail(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	if err := h.accounts.ResendConfirmEmail(requestContext(c), accountID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/auth/email-login
func (h *AuthHandler) SendLoginLink(c *gin.Context) {
	var req emailLoginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.accounts.SendLoginLink(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// GET /api/auth/login-by-email?token=&email=
func (h *AuthHandler) LoginByEmail(c *gin.Context) {
	account, err := h.accounts.LoginByEmail(requestContext(c), c.Query("email"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sid); err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	account, err := h.accounts.GetByID(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account)
}

func (h *AuthHandler) startSession(c *gin.Context, status int, account *models.Account) {
	pair, _, err := h.sessions.CreateSession(requestContext(c), account.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Nickname:  account.Nickname,
	})
	if err != nil {
		logger.WithModule("auth").Error("create session failed", zap.String("account_id", account.ID), zap.Error(err))
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, status, authResponse{Tokens: pair, Account: account})
}
