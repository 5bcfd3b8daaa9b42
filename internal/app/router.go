package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"eventrides/internal/auth"
	"eventrides/internal/feed"
	"eventrides/internal/handler"
	"eventrides/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	Verifier       *auth.Verifier
	SessionHandler *handler.SessionHandler
	EventHandler   *handler.EventHandler
	RideHandler    *handler.RideHandler
	DriveHandler   *handler.DriveHandler
	FeedHandler    *feed.Handler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Metrics())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")

	// Signing in verifies the token itself and starts the session.
	v1.POST("/session", deps.SessionHandler.SignIn)

	authed := v1.Group("")
	authed.Use(middleware.Auth(deps.Verifier))
	authed.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		authed.DELETE("/session", deps.SessionHandler.SignOut)
		authed.GET("/feed", deps.FeedHandler.Serve)

		me := authed.Group("/me")
		{
			me.GET("", deps.SessionHandler.Me)
			me.PUT("/profiles/public", deps.SessionHandler.SetPublicProfile)
			me.PUT("/profiles/school", deps.SessionHandler.SetSchoolProfile)
			me.PUT("/saved-events/:id", deps.SessionHandler.SaveEvent)
			me.DELETE("/saved-events/:id", deps.SessionHandler.UnsaveEvent)
			me.PUT("/organizations/:id", deps.SessionHandler.JoinOrganization)
			me.DELETE("/organizations/:id", deps.SessionHandler.LeaveOrganization)
		}

		events := authed.Group("/events")
		{
			events.POST("", deps.EventHandler.CreateEvent)
			events.GET("/:id", deps.EventHandler.GetEvent)
			events.GET("/:id/drivers", deps.EventHandler.GetRoster)
		}

		rides := authed.Group("/rides")
		{
			rides.POST("", deps.RideHandler.RequestRide)
			rides.POST("/cancel", deps.RideHandler.CancelRide)
			rides.GET("/:id", deps.RideHandler.GetRide)
		}

		drive := authed.Group("/drive")
		{
			drive.POST("", deps.DriveHandler.StartDriving)
			drive.DELETE("", deps.DriveHandler.StopDriving)
			drive.POST("/next", deps.DriveHandler.NextRider)
			drive.POST("/connected", deps.DriveHandler.MarkConnected)
			drive.POST("/end", deps.DriveHandler.EndDrive)
			drive.GET("/pickups", deps.DriveHandler.NearbyPickups)
		}
	}

	return router
}
