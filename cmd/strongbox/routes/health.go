package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/lgulliver/strongbox/pkg/version"
)

// HealthRoutes registers the unauthenticated health check
func HealthRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.HealthResponse{
			Status:  "healthy",
			Service: version.Service,
			Version: version.Version,
			Time:    time.Now().UTC(),
		})
	})
}
