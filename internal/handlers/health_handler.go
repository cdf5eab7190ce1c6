package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	activeTriggers func() int
}

// NewHealthHandler creates a health handler. activeTriggers may be nil.
func NewHealthHandler(activeTriggers func() int) *HealthHandler {
	return &HealthHandler{
		activeTriggers: activeTriggers,
	}
}

func (h *HealthHandler) Healthcheck(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")

	body := gin.H{"status": "ok"}
	if h.activeTriggers != nil {
		body["activeTriggers"] = h.activeTriggers()
	}

	c.JSON(http.StatusOK, body)
}
