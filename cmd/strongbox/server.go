package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/cmd/strongbox/middleware"
	"github.com/lgulliver/strongbox/cmd/strongbox/routes"
	"github.com/lgulliver/strongbox/internal/auth"
	"github.com/lgulliver/strongbox/internal/files"
	"github.com/lgulliver/strongbox/internal/history"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/lgulliver/strongbox/internal/upload"
	"github.com/rs/zerolog"
)

// services bundles everything the router needs. history may be nil when the
// database is disabled.
type services struct {
	auth    *auth.Service
	uploads *upload.Manager
	files   *files.Service
	history *history.Service
	events  notify.Hub
}

func setupRouter(svc *services, maxBodyBytes int64, staticDir string) *gin.Engine {
	// Set Gin mode based on the log level
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	routes.HealthRoutes(router)

	api := router.Group("/api")
	api.Use(middleware.BodyLimit(maxBodyBytes))
	api.Use(middleware.AuthMiddleware(svc.auth))
	{
		routes.AuthRoutes(api, svc.auth)
		// a nil *history.Service must not become a non-nil interface
		var historyService routes.HistoryServiceInterface
		if svc.history != nil {
			historyService = svc.history
		}
		routes.UploadRoutes(api, svc.uploads, historyService)
		routes.FileRoutes(api, svc.files)
		routes.EventRoutes(api, svc.events)
	}

	if staticDir != "" {
		fileServer := http.FileServer(http.Dir(staticDir))
		router.NoRoute(gin.WrapH(fileServer))
	}

	return router
}
