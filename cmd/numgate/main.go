package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"numgate/internal/admin"
	"numgate/internal/config"
	"numgate/internal/db"
	"numgate/internal/gateway"
	"numgate/internal/logger"
	"numgate/internal/quota"
	"numgate/internal/ratelimit"
	"numgate/internal/scheduler"
	"numgate/internal/session"
	"numgate/internal/upstream"
	"numgate/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func main() {
	// Load configuration
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	// Initialize the store of record
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	// Connect the ephemeral store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Error("Error connecting to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("Redis connected", "addr", cfg.Redis.Addr)

	// Session authority for the admin surface
	signingKey := cfg.Session.SigningKey
	if signingKey == "" {
		signingKey, err = session.GenerateSigningKey()
		if err != nil {
			log.Error("Error generating session signing key", "error", err)
			os.Exit(1)
		}
		log.Warn("session.signing_key not set, generated an ephemeral one; sessions will not survive a restart")
	}
	sessions, err := session.NewAuthority(rdb, signingKey)
	if err != nil {
		log.Error("Error creating session authority", "error", err)
		os.Exit(1)
	}

	// Lookup pipeline pieces
	ledger := quota.NewLedger(dbService)
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit.RequestsPerHour)
	recorder := usage.NewRecorder(dbService, log)
	upstreamClient := upstream.NewClient(cfg.Upstream, log)
	lookupHandler := gateway.NewHandler(dbService, ledger, limiter, recorder, upstreamClient, log)

	// Start the retention scheduler
	sched := scheduler.NewScheduler(dbService, cfg.Usage.RetentionDays, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started", "retention_days", cfg.Usage.RetentionDays)

	// Create a Gin router
	router := gin.New()
	router.Use(customRecovery(log))

	// If debug mode is enabled, add the logger middleware
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	gateway.SetupRoutes(router, lookupHandler)
	admin.SetupRoutes(router, dbService, sessions, log)

	router.GET("/healthz", func(c *gin.Context) {
		if err := dbService.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Create and start the main server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Drain queued usage records after the listener stops accepting work.
	recorder.Close()

	log.Info("Server exiting")
}
