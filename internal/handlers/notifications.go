package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/pkg/response"
)

// NotificationHandler exposes the in-app notification inbox.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List returns the unchecked notifications and marks them checked, like opening the inbox.
// With ?state=old it lists notifications already checked instead.
func (h *NotificationHandler) List(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	var (
		items []services.NotificationDTO
		err   error
	)
	if strings.EqualFold(c.Query("state"), "old") {
		items, err = h.service.ListOld(ctx, accountID, parseIntQuery(c, "limit", 25), parseIntQuery(c, "offset", 0))
	} else {
		items, err = h.service.ViewNew(ctx, accountID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// Count reports how many notifications are unchecked.
func (h *NotificationHandler) Count(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	count, err := h.service.CountUnchecked(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unchecked": count})
}

// MarkRead checks a single notification.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	dto, err := h.service.MarkRead(requestContext(c), accountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead checks every notification.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(requestContext(c), accountID, strings.TrimSpace(c.Param("id"))); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// DeleteChecked removes every checked notification.
func (h *NotificationHandler) DeleteChecked(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteChecked(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}
