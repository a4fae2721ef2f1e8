package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/cmd/strongbox/middleware"
	pkgtypes "github.com/lgulliver/strongbox/pkg/types"
)

// AuthRoutes sets up token issuance and the credential check. Both sit
// behind the auth middleware.
func AuthRoutes(api *gin.RouterGroup, tokens TokenServiceInterface) {
	auth := api.Group("/auth")
	auth.POST("/token", handleIssueToken(tokens))
	auth.GET("/test", handleAuthTest())
}

func handleIssueToken(tokens TokenServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := tokens.IssueToken(c.Request.Context(), c.GetHeader(middleware.APIKeyHeader))
		if err != nil {
			c.JSON(http.StatusUnauthorized, pkgtypes.ErrorResponse{
				Error: "a valid X-Api-Key header is required",
				Code:  "unauthorized",
			})
			return
		}
		c.JSON(http.StatusOK, token)
	}
}

func handleAuthTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	}
}
