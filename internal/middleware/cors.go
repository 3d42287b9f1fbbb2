package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/gin-gonic/gin"
)

var exposedHeaders = strings.Join([]string{
	admission.HeaderLimit,
	admission.HeaderRemaining,
	admission.HeaderReset,
	admission.HeaderDraftLimit,
	admission.HeaderDraftRemaining,
	admission.HeaderDraftReset,
	admission.HeaderRetryAfter,
	admission.HeaderReplayed,
	HeaderRequestID,
}, ", ")

// Permissive CORS. Preflight requests end here and never reach the gate.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, Idempotency-Key, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", exposedHeaders)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
