package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/handler" // import the handlers that implement business logic
	"github.com/iliyamo/slot-reservation/internal/metrics"
	"github.com/iliyamo/slot-reservation/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance: liveness, readiness and the Prometheus scrape
// endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
	// Readiness additionally requires the database.
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(metrics.NewMetricsHandler()))
}

// RegisterPublic registers unauthenticated match endpoints.  Match details
// go through the Redis response cache; the booked-positions snapshot never
// does, because clients rely on it being current after a conflict or a
// reconnect.
func RegisterPublic(e *echo.Echo, m *handler.MatchHandler, rdb *redis.Client, rl config.RateLimitConfig, cc config.CacheConfig) {
	g := e.Group("/v1", middleware.NewTokenBucket(rl, rl.API, rdb))
	g.GET("/matches/:id", m.GetMatch, middleware.NewRedisCache(cc, rdb))
	g.GET("/matches/:id/booked-positions", m.BookedPositions)
}
