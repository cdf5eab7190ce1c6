package handlers

import (
	"net/http"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/services"
	"github.com/gin-gonic/gin"
)

type CredentialHandler struct {
	service services.CredentialServiceInterface
}

func NewCredentialHandler(service services.CredentialServiceInterface) *CredentialHandler {
	return &CredentialHandler{service: service}
}

// Test handles POST /api/v1/credentials/test. The outcome is always reported
// with 200; Status tells the host whether the credential works.
func (h *CredentialHandler) Test(c *gin.Context) {
	var req models.CredentialTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.service.Test(c.Request.Context(), req.Credentials))
}
