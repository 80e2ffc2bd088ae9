package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/rideflow/dispatch/internal/cache"
	"github.com/rideflow/dispatch/internal/config"
	"github.com/rideflow/dispatch/internal/database"
	"github.com/rideflow/dispatch/internal/handler"
	"github.com/rideflow/dispatch/internal/middleware"
	"github.com/rideflow/dispatch/internal/notify"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/repository"
	"github.com/rideflow/dispatch/internal/scheduler"
	"github.com/rideflow/dispatch/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize New Relic (optional)
	var nrApp *newrelic.Application
	if cfg.NewRelicEnabled && cfg.NewRelicLicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
			newrelic.ConfigInfoLogger(os.Stdout),
		)
		if err != nil {
			log.Printf("Warning: Failed to initialize New Relic: %v", err)
		} else if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			log.Printf("Warning: New Relic connection timeout: %v", err)
		}
	}

	// Initialize PostgreSQL
	db, err := database.NewPostgres(
		cfg.DatabaseURL,
		cfg.DBMaxConnections,
		cfg.DBMaxIdleConnections,
	)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	// Redis is optional: without it the location cache, rate limiting and
	// idempotent replay fall back to in-memory or pass-through behavior.
	var redisDB *database.RedisDB
	var redisClient *redis.Client
	var locations cache.LocationCache = cache.NewMemoryLocationCache()
	if cfg.RedisEnabled {
		redisDB, err = database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisDB.Close()
		redisClient = redisDB.Client
		locations = cache.NewRedisLocationCache(redisDB.Client)
		log.Println("Connected to Redis")
	} else {
		log.Println("Redis disabled, using in-memory location cache")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB)
	driverRepo := repository.NewDriverRepository(db.DB)
	rideRepo := repository.NewRideRepository(db.DB)
	sosRepo := repository.NewSOSRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)

	// Realtime hub, timers, notifier
	hub := realtime.NewHub(realtime.NewMemoryPresence())
	sched := scheduler.New()
	defer sched.Stop()
	notifier := notify.NewLogNotifier()

	// Initialize services
	pricingService := service.NewPricingService(cfg.CancellationChargePct)
	rideService := service.NewRideService(rideRepo, driverRepo, userRepo, pricingService, locations, hub, hub, notifier)
	matchingService := service.NewMatchingService(rideRepo, driverRepo, locations, hub, hub, notifier, sched,
		cfg.MatchingRadiusKM, cfg.MaxCandidates, cfg.NoDriverTimeout)
	rideService.SetDispatcher(matchingService)
	driverService := service.NewDriverService(driverRepo, rideRepo, locations, hub)
	sosService := service.NewSOSService(sosRepo, contactRepo, rideRepo, userRepo, locations, hub, notifier, sched,
		cfg.EscalationSLA, cfg.SOSNearbyRadiusKM)
	userService := service.NewUserService(userRepo, contactRepo)

	// Initialize handlers
	userHandler := handler.NewUserHandler(userService)
	rideHandler := handler.NewRideHandler(rideService, matchingService)
	driverHandler := handler.NewDriverHandler(driverService)
	sosHandler := handler.NewSOSHandler(sosService)
	wsHandler := handler.NewWSHandler(hub, rideService, matchingService, driverService, sosService, locations)

	// Escalation sweep: the backstop for per-alert timers lost to a restart.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.EscalationSweep)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := sosService.RunEscalationSweep(sweepCtx); n > 0 {
					log.Printf("sos: sweep escalated %d alerts", n)
				}
			}
		}
	}()

	// Create router
	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Driver-ID"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// New Relic middleware
	if nrApp != nil {
		r.Use(middleware.NewRelicMiddleware(nrApp))
	}

	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
	r.Use(rateLimiter.Handler)

	idempotencyMw := middleware.NewIdempotencyMiddleware(redisClient)
	r.Use(idempotencyMw.Handler)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := db.Health(ctx); err != nil {
			http.Error(w, "database unhealthy", http.StatusServiceUnavailable)
			return
		}
		if redisDB != nil {
			if err := redisDB.Health(ctx); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Realtime endpoint
	r.Get("/ws", wsHandler.Serve)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		userHandler.RegisterRoutes(r)
		rideHandler.RegisterRoutes(r)
		driverHandler.RegisterRoutes(r)
		sosHandler.RegisterRoutes(r)
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		stopSweep()
		sched.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
