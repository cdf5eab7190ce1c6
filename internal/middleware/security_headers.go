package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeadersMiddleware marks every response as non-cacheable JSON that
// must not be framed or sniffed. Responses may contain Airtable record data.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")

		c.Next()
	}
}
