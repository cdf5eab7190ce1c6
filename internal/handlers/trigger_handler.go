package handlers

import (
	"net/http"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/services"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/gin-gonic/gin"
)

type TriggerHandler struct {
	service  services.TriggerServiceInterface
	defaults *airtable.Credentials
}

func NewTriggerHandler(service services.TriggerServiceInterface, defaults *airtable.Credentials) *TriggerHandler {
	return &TriggerHandler{service: service, defaults: defaults}
}

// Activate handles POST /api/v1/triggers
func (h *TriggerHandler) Activate(c *gin.Context) {
	var req models.ActivateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := h.service.Activate(c.Request.Context(), &req,
		services.FallbackCredentials{Request: req.Credentials, Default: h.defaults})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// List handles GET /api/v1/triggers
func (h *TriggerHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, models.TriggerListResponse{Triggers: h.service.List()})
}

// Deactivate handles DELETE /api/v1/triggers/:id
func (h *TriggerHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
