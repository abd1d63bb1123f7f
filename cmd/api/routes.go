package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/middleware"
)

func setupRouter(api *API, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Tracing(), middleware.Logger(logger))

	router.GET("/health", api.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	// per client IP, ahead of any token parsing
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}

	// authed groups routes that need a session; purpose names what they serve
	// in NOT_INITIALIZED messages
	authed := func(purpose string) *gin.RouterGroup {
		group := v1.Group("", middleware.SessionAuth(api.sessions, purpose))
		if limiter != nil {
			group.Use(middleware.RateLimit(limiter))
		}
		return group
	}

	{
		v1.POST("/initialize", api.initialize)
		v1.GET("/platform", api.getPlatformVersion)

		// Collections
		v1.GET("/libraries/:libraryId/collections", api.listCollections)
		v1.GET("/libraries/:libraryId/collections/:collectionId", api.getCollection)
	}

	authed("").DELETE("/session", api.revokeSession)

	// Videos
	authed("videos").GET("/libraries/:libraryId/videos", api.listVideos)
	authed("video metadata").GET("/libraries/:libraryId/videos/:videoId", api.getVideo)
	authed("play data").GET("/libraries/:libraryId/videos/:videoId/play", api.getVideoPlayData)

	// Exports
	exports := authed("exports")
	{
		exports.POST("/libraries/:libraryId/exports", api.createExport)
		exports.GET("/libraries/:libraryId/exports", api.listExports)
		exports.GET("/exports/:id", api.getExport)
		exports.GET("/exports/:id/snapshot", api.getExportSnapshot)
	}

	return router
}
