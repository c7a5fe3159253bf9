package template

import (
	"net/http"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for template administration.
type Handler struct {
	service *Service
}

// NewHandler creates a new template handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	var t NotificationTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := h.service.Create(c.Request.Context(), &t)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusCreated, created)
}

// UpdateTemplate handles PUT /api/v1/templates/:id
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var t NotificationTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t.ID = c.Param("id")

	updated, err := h.service.Update(c.Request.Context(), &t)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, updated)
}

// DeleteTemplate handles DELETE /api/v1/templates/:id
func (h *Handler) DeleteTemplate(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handler) GetTemplate(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, t)
}

// ListTemplates handles GET /api/v1/templates
// A channel query parameter narrows the list to one delivery channel.
func (h *Handler) ListTemplates(c *gin.Context) {
	if ch := c.Query("channel"); ch != "" {
		templates, err := h.service.ListByChannel(c.Request.Context(), notification.Channel(ch))
		if err != nil {
			common.HandleError(c, err)
			return
		}
		common.Success(c, http.StatusOK, templates)
		return
	}

	templates, err := h.service.List(c.Request.Context())
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, templates)
}

// RegisterRoutes registers template admin routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/templates", h.CreateTemplate)
	rg.GET("/templates", h.ListTemplates)
	rg.GET("/templates/:id", h.GetTemplate)
	rg.PUT("/templates/:id", h.UpdateTemplate)
	rg.DELETE("/templates/:id", h.DeleteTemplate)
}
