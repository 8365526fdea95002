package router

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/discover-agent/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	discoverHandler := handler.NewDiscoverHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		discovers := v1.Group("/discovers")
		{
			// POST /api/v1/discovers - Queue a discover
			discovers.POST("", discoverHandler.CreateDiscover)

			// GET /api/v1/discovers?draft_id= - List the discovers of a draft
			discovers.GET("", discoverHandler.ListDiscovers)

			// GET /api/v1/discovers/:discover_id - Get discover details and status
			discovers.GET("/:discover_id", discoverHandler.GetDiscover)
		}
	}

	return r
}

// healthHandler reports unhealthy when the database is unreachable. A lost
// broker connection only degrades the service: workers still poll for
// queued discovers.
func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"status":  "healthy",
			"service": "discover-api-service",
		}

		if deps.Broker != nil {
			if deps.Broker.IsConnected() {
				response["rabbitmq"] = "connected"
			} else {
				response["rabbitmq"] = "disconnected"
				response["status"] = "degraded"
			}
		}

		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", slog.String("error", err.Error()))
				response["status"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, response)
				return
			}
		}

		c.JSON(http.StatusOK, response)
	}
}
