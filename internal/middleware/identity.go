package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TokenValidator interface {
	ValidateToken(token string) (*policy.Identity, error)
}

type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	Identity(apiKey *models.APIKey) *policy.Identity
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// Authenticate attaches the caller's identity when credentials are present.
// Requests without credentials continue anonymously; bad credentials get a 401.
func Authenticate(tokens TokenValidator, keys KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" && tokens != nil {
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid authorization header format. Use: Bearer <token>",
				})
				return
			}

			identity, err := tokens.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired token",
				})
				return
			}

			c.Set(KeyIdentity, identity)
			c.Next()
			return
		}

		if rawKey := strings.TrimSpace(c.GetHeader("X-API-Key")); rawKey != "" && keys != nil {
			ctx := c.Request.Context()
			apiKey, err := keys.Validate(ctx, rawKey)
			if err != nil || apiKey == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid API key",
				})
				return
			}

			c.Set(KeyIdentity, keys.Identity(apiKey))
			c.Set(KeyAPIKeyID, apiKey.ID)

			go keys.UpdateLastUsed(context.WithoutCancel(ctx), apiKey.ID)
		}

		c.Next()
	}
}

// RequireRole rejects anonymous callers with 401 and other roles with 403
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		for _, role := range roles {
			if strings.EqualFold(identity.Role, role) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}
