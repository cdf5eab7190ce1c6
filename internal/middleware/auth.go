package middleware

import (
	"fmt"
	"strings"

	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/jwt"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HostTokenHeader carries the static host API token
	HostTokenHeader = "X-Host-Token"

	// HostSubjectKey holds the authenticated host in the gin context
	HostSubjectKey = "host_subject"
)

// HostAuthMiddleware admits requests carrying the static host token or a
// bearer JWT issued by tokens. Either mechanism may be disabled by passing an
// empty token or a nil manager.
func HostAuthMiddleware(apiToken string, tokens *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := c.GetHeader(HostTokenHeader); token != "" {
			if apiToken != "" && jwt.TimingSafeCompare(token, apiToken) {
				c.Set(HostSubjectKey, "api-token")
				c.Next()
				return
			}
			reject(c, "Invalid host token")
			return
		}

		bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(bearer) == "" {
			reject(c, "Missing host authentication")
			return
		}
		if tokens == nil {
			reject(c, "Invalid host token")
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(bearer))
		if err != nil {
			logger.Debug("Host JWT rejected", zap.Error(err))
			reject(c, "Invalid host token")
			return
		}

		c.Set(HostSubjectKey, claims.Subject)
		c.Next()
	}
}

// reject aborts with ErrUnauthorized attached for the observability middleware
func reject(c *gin.Context, message string) {
	err := fmt.Errorf("%s: %w", message, apperrors.ErrUnauthorized)
	logger.Warn(message,
		zap.String("path", c.Request.URL.Path),
		zap.String("client_ip", c.ClientIP()),
	)
	_ = c.Error(err) //nolint:errcheck
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{"error": message})
}
