package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"

	"dev/bravebird/site-smoke/pkg/api"
	"dev/bravebird/site-smoke/pkg/config"
	"dev/bravebird/site-smoke/pkg/database"
	"dev/bravebird/site-smoke/pkg/logging"
	"dev/bravebird/site-smoke/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	log.Info().Msg("Starting Site Smoke API Server")

	// Initialize database
	db, err := database.New(cfg.Server.MySQLDSN)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to database, running without persistence")
		db = nil
	}
	if db != nil {
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	// Initialize Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort: cfg.Server.TemporalHost,
		Logger:   logging.NewTemporalLogger(log.Logger),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Temporal client")
	}
	defer temporalClient.Close()

	m, err := metrics.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create metrics")
	}

	// Create API handlers
	handlers := api.NewHandlers(db, temporalClient, m, api.Options{
		TaskQueue:     cfg.Server.TaskQueue,
		DefaultURL:    cfg.Smoke.URL,
		ScreenshotDir: cfg.Smoke.ScreenshotDir,
	})

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(handlers.Router())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
