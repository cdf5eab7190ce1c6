package handlers

import (
	"net/http"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/services"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/gin-gonic/gin"
)

type OperationHandler struct {
	service  services.OperationServiceInterface
	defaults *airtable.Credentials
}

// NewOperationHandler creates an operation handler. defaults are used when a
// request carries no credentials and may be nil.
func NewOperationHandler(service services.OperationServiceInterface, defaults *airtable.Credentials) *OperationHandler {
	return &OperationHandler{service: service, defaults: defaults}
}

// Execute handles POST /api/v1/operations/:resource/:operation
func (h *OperationHandler) Execute(c *gin.Context) {
	var req models.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	items, err := h.service.Execute(c.Request.Context(), services.Invocation{
		Resource:       c.Param("resource"),
		Operation:      c.Param("operation"),
		Parameters:     services.NewMapParameters(req.Parameters, req.Items),
		Credentials:    services.FallbackCredentials{Request: req.Credentials, Default: h.defaults},
		Items:          req.Items,
		ContinueOnFail: req.ContinueOnFail,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if items == nil {
		items = []models.Item{}
	}
	c.JSON(http.StatusOK, models.OperationResponse{Items: items})
}
