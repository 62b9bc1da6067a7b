package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/ws"
)

// RegisterPlayer registers player-scoped endpoints under /v1.  All routes
// require a valid JWT.  Booking commits and cancellations additionally
// require the PLAYER role; profile reads and the lock channel accept any
// authenticated role so that admins can watch a match.
func RegisterPlayer(e *echo.Echo, b *handler.BookingHandler, p *handler.ProfileHandler, locks *ws.Handler, jwtSecret string, rdb *redis.Client, rl config.RateLimitConfig) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
	)

	// The websocket upgrade is long-lived; keep it out of the rate limiter.
	g.GET("/matches/:id/locks", locks.Locks)

	api := g.Group("", middleware.NewTokenBucket(rl, rl.API, rdb))
	api.GET("/me/profile", p.Profile)
	api.GET("/me/wallet", p.Wallet)

	// Commits also draw from a smaller per-user bucket.
	player := api.Group("",
		middleware.RequireRole(model.RolePlayer),
		middleware.NewTokenBucket(rl, rl.Commit, rdb),
	)
	player.POST("/matches/:id/bookings", b.Create)
	player.DELETE("/bookings/:id", b.Cancel)
}
