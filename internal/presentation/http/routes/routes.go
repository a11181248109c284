// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/lvsuno/citinfos-go/internal/application/container"
	"github.com/lvsuno/citinfos-go/internal/presentation/http/handlers"
	"github.com/lvsuno/citinfos-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Initialize handlers
	presenceHandlers := handlers.NewPresenceHandlers(container.TrackerService, container.CommunityDirectory, container.Broadcaster, container.Logger, container.PerfTracker)
	analyticsHandlers := handlers.NewAnalyticsHandlers(container.AnalyticsService, container.Logger, container.PerfTracker)
	realtimeHandlers := handlers.NewRealtimeHandlers(container.Broadcaster, container.TrackerService, container.Logger, container.PerfTracker)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		// Presence endpoints accept anonymous traffic; the bearer token,
		// when present, resolves the authenticated identity.
		presenceGroup := api.Group("/presence")
		presenceGroup.Use(middleware.OptionalAuthMiddleware())
		{
			presenceGroup.POST("/join", presenceHandlers.PostJoin)
			presenceGroup.POST("/leave", presenceHandlers.PostLeave)
			presenceGroup.POST("/heartbeat", presenceHandlers.PostHeartbeat)
			presenceGroup.GET("/:communityId", presenceHandlers.GetPresence)
			presenceGroup.GET("/:communityId/visitors", presenceHandlers.GetVisitors)
			presenceGroup.GET("/:communityId/stream", realtimeHandlers.GetStream)
		}

		analyticsGroup := api.Group("/analytics")
		analyticsGroup.Use(middleware.AuthMiddleware(container.Logger))
		{
			analyticsGroup.GET("/conversion", analyticsHandlers.GetConversionMetrics)
			analyticsGroup.GET("/:communityId/unique-visitors", analyticsHandlers.GetUniqueVisitors)
			analyticsGroup.GET("/:communityId/division-breakdown", analyticsHandlers.GetDivisionBreakdown)
			analyticsGroup.GET("/:communityId/trends", analyticsHandlers.GetTrends)
			analyticsGroup.GET("/:communityId/demographics", analyticsHandlers.GetDemographics)
			analyticsGroup.GET("/:communityId/realtime", analyticsHandlers.GetRealtime)
			analyticsGroup.GET("/:communityId/growth", analyticsHandlers.GetGrowthRate)
		}
	}

	return r
}
