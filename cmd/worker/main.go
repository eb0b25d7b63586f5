package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/site-smoke/pkg/config"
	"dev/bravebird/site-smoke/pkg/database"
	"dev/bravebird/site-smoke/pkg/logging"
	"dev/bravebird/site-smoke/pkg/metrics"
	"dev/bravebird/site-smoke/pkg/temporal/activities"
	"dev/bravebird/site-smoke/pkg/temporal/workflows"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: cfg.Server.TemporalHost,
		Logger:   logging.NewTemporalLogger(log.Logger),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Temporal client")
	}
	defer c.Close()

	// Results are only recorded when the database is reachable
	var store activities.RunStore
	db, err := database.New(cfg.Server.MySQLDSN)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to database, run results will not be stored")
	} else {
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
		store = db
	}

	m, err := metrics.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create metrics")
	}
	go serveMetrics(cfg.Server.MetricsAddr, m)

	// Create activities
	acts := activities.NewActivities(cfg.Smoke.Options(), cfg.Browser.LaunchOptions(), store, c, m)

	// Each run owns a browser, so activities are kept few
	w := worker.New(c, cfg.Server.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     2,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	// Register workflows
	w.RegisterWorkflow(workflows.SmokeTestWorkflow)

	// Register activities
	w.RegisterActivityWithOptions(acts.RunSmokeTestActivity, activity.RegisterOptions{Name: workflows.RunSmokeTestActivityName})
	w.RegisterActivityWithOptions(acts.RecordRunActivity, activity.RegisterOptions{Name: workflows.RecordRunActivityName})

	log.Info().
		Str("taskQueue", cfg.Server.TaskQueue).
		Str("temporalHost", cfg.Server.TemporalHost).
		Str("target", cfg.Smoke.URL).
		Bool("persistence", store != nil).
		Msg("Starting Temporal worker")

	// Start worker
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
