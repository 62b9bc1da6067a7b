package main // Entry point package

import (
	"context"   // lifetimes for the hub, relay and consumer
	"net/http"  // http.ErrServerClosed
	"os"        // os.Signal
	"os/signal" // graceful shutdown on SIGINT/SIGTERM
	"syscall"   // SIGTERM
	"time"      // shutdown deadline

	"github.com/charmbracelet/log" // Structured logging
	"github.com/google/uuid"       // Instance id for the lock relay
	"github.com/labstack/echo/v4"  // Echo web framework

	"github.com/iliyamo/slot-reservation/internal/config"     // Internal config loader
	"github.com/iliyamo/slot-reservation/internal/database"   // DB connection and schema
	"github.com/iliyamo/slot-reservation/internal/handler"    // HTTP handlers
	"github.com/iliyamo/slot-reservation/internal/hub"        // Seat lock hub
	"github.com/iliyamo/slot-reservation/internal/metrics"    // Prometheus metrics
	"github.com/iliyamo/slot-reservation/internal/queue"      // Booking event consumer
	"github.com/iliyamo/slot-reservation/internal/repository" // Data access
	"github.com/iliyamo/slot-reservation/internal/router"     // Internal router setup
	publisher "github.com/iliyamo/slot-reservation/internal/service"
	"github.com/iliyamo/slot-reservation/internal/ws" // Lock channel endpoint
)

func main() {
	log.SetFormatter(log.JSONFormatter) // Machine-readable logs in every environment
	cfg := config.Load()                // Load environment config
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN) // Connect and ping
	if err != nil {
		log.Fatal("open database", "driver", cfg.DBDriver, "error", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatal("migrate database", "error", err)
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig()) // nil when Redis is unreachable
	if rdb == nil {
		log.Warn("redis unavailable; using in-memory locks, no rate limiting or caching")
	} else {
		defer rdb.Close()
	}

	metricsSvc := metrics.NewService()
	hubCfg := config.LoadHubConfig()

	// Locks live in Redis when available so that every instance sees them;
	// the relay carries lock and occupancy events between instances.
	var registry hub.Registry = hub.NewMemoryRegistry()
	var relay hub.Relay
	if rdb != nil {
		registry = hub.NewRedisRegistry(rdb, hubCfg.LockPrefix)
		instance := uuid.NewString()
		r, err := hub.NewRedisRelay(ctx, rdb, hubCfg.RelayChannel, instance)
		if err != nil {
			log.Warn("lock relay unavailable; fan-out limited to this instance", "error", err)
		} else {
			relay = r
			defer r.Close()
			log.Info("lock relay subscribed", "channel", hubCfg.RelayChannel, "instance", instance)
		}
	}
	lockHub := hub.New(ctx, hub.Config{
		LockTTL:       hubCfg.LockTTL,
		SweepInterval: hubCfg.SweepInterval,
		OpTimeout:     hubCfg.OpTimeout,
	}, registry, relay, metricsSvc)

	matchRepo := repository.NewMatchRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	userRepo := repository.NewUserRepo(db)

	var events handler.EventPublisher
	if cfg.EventsEnabled {
		url := queue.URLFromEnv()
		pub := publisher.New(url)
		defer pub.Close()
		events = pub
		go func() {
			consumer := &queue.Consumer{URL: url, Sink: queue.NewLogSink(cfg.BookingLogDir)}
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("booking consumer stopped", "error", err)
			}
		}()
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()

	rl := config.LoadRateLimitConfig()
	router.RegisterRoutes(e, db) // Register application routes
	router.RegisterPublic(e, &handler.MatchHandler{Matches: matchRepo, Bookings: bookingRepo}, rdb, rl, config.LoadCacheConfig())
	router.RegisterPlayer(e,
		&handler.BookingHandler{Matches: matchRepo, Bookings: bookingRepo, Hub: lockHub, Events: events, Metrics: metricsSvc},
		&handler.ProfileHandler{Users: userRepo},
		ws.NewHandler(lockHub, matchRepo, cfg.WSOrigins),
		cfg.JWTSecret, rdb, rl,
	)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver) // Print startup info
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err) // Log and exit if server fails
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	lockHub.Send(hub.Shutdown{})
	select {
	case <-lockHub.Done():
	case <-shutdownCtx.Done():
	}
	log.Info("server stopped")
}
