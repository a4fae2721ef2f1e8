package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	pkgtypes "github.com/lgulliver/strongbox/pkg/types"
)

// APIKeyHeader carries the shared secret
const APIKeyHeader = "X-Api-Key"

// SubjectKey is the gin context key holding the authenticated subject
const SubjectKey = "subject"

// AuthMiddleware accepts a bearer token, the X-Api-Key header, or an
// api_key query parameter. The query form exists for EventSource clients,
// which cannot set headers.
func AuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Check for JWT token in Authorization header
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if subject, err := authService.ValidateToken(ctx, token); err == nil {
				c.Set(SubjectKey, subject)
				c.Next()
				return
			}
		}

		// Check for the shared secret in the X-Api-Key header
		if apiKey := c.GetHeader(APIKeyHeader); apiKey != "" {
			if err := authService.ValidateAPIKey(ctx, apiKey); err == nil {
				c.Set(SubjectKey, "api-key")
				c.Next()
				return
			}
		}

		// Check for API key in query parameter
		if apiKey := c.Query("api_key"); apiKey != "" {
			if err := authService.ValidateAPIKey(ctx, apiKey); err == nil {
				c.Set(SubjectKey, "api-key")
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, pkgtypes.ErrorResponse{
			Error: "unauthorized",
			Code:  "unauthorized",
		})
	}
}

// GetSubjectFromContext extracts the authenticated subject from gin context
func GetSubjectFromContext(c *gin.Context) (string, bool) {
	subject, exists := c.Get(SubjectKey)
	if !exists {
		return "", false
	}
	typed, ok := subject.(string)
	return typed, ok
}
