package notification

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rickymta/isra-notification-service/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Send handles POST /api/v1/notifications
// Accepts a notification for async delivery and returns 202 Accepted.
func (h *Handler) Send(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.Accept(c.Request.Context(), &req)
	if err != nil {
		slog.Error("accept notification failed",
			"error", err,
			"channel", req.Channel,
			"template_id", req.TemplateID,
			"template_name", req.TemplateName,
		)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, resp)
}

// GetNotification handles GET /api/v1/notifications/:id
func (h *Handler) GetNotification(c *gin.Context) {
	id := c.Param("id")

	hist, err := h.service.GetNotification(c.Request.Context(), id)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, hist)
}

// ListNotifications handles GET /api/v1/notifications
// An external_id query parameter narrows the lookup to the single record
// the provider message id belongs to.
func (h *Handler) ListNotifications(c *gin.Context) {
	if externalID := c.Query("external_id"); externalID != "" {
		hist, err := h.service.GetByExternalMessageID(c.Request.Context(), externalID)
		if err != nil {
			common.HandleError(c, err)
			return
		}
		common.Success(c, http.StatusOK, hist)
		return
	}

	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	resp, err := h.service.ListNotifications(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, resp)
}

// GetUserNotifications handles GET /api/v1/users/:user_id/notifications
func (h *Handler) GetUserNotifications(c *gin.Context) {
	userID := c.Param("user_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	records, err := h.service.GetUserNotifications(c.Request.Context(), userID, limit)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, records)
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notifications", h.Send)
	rg.GET("/notifications", h.ListNotifications)
	rg.GET("/notifications/:id", h.GetNotification)
	rg.GET("/users/:user_id/notifications", h.GetUserNotifications)
}
