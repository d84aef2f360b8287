package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvoronkov/ledgerlens/internal/api/handlers"
	"github.com/dvoronkov/ledgerlens/internal/api/middleware"
	"github.com/dvoronkov/ledgerlens/internal/cluster"
	"github.com/dvoronkov/ledgerlens/internal/config"
	"github.com/dvoronkov/ledgerlens/internal/embedding"
	"github.com/dvoronkov/ledgerlens/internal/ingest"
	"github.com/dvoronkov/ledgerlens/internal/jobs"
	"github.com/dvoronkov/ledgerlens/internal/jobs/inmemory"
	"github.com/dvoronkov/ledgerlens/internal/logger"
	"github.com/dvoronkov/ledgerlens/internal/store"
	"github.com/dvoronkov/ledgerlens/internal/store/bigquery"
	"github.com/dvoronkov/ledgerlens/internal/store/memory"
	"github.com/dvoronkov/ledgerlens/internal/store/postgres"
)

func main() {
	boot := logger.New()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store).Msg("Failed to open store")
	}
	defer st.Close()
	log.Info().Str("backend", cfg.Store).Msg("Store ready")

	// Embedding gateway, behind a circuit breaker. Optional: without it
	// ingestion still works, records just stay out of clustering.
	var gateway embedding.Gateway
	if cfg.EmbeddingEnabled {
		genaiGW, err := embedding.NewGenAIGateway(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create embedding gateway")
		}
		gateway = embedding.NewBreakerGateway(genaiGW)
	} else {
		log.Warn().Msg("Embedding disabled - new transactions will not be clustered")
	}

	// Job infrastructure for background clustering passes.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.JobQueueSize, 1, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	pass := cluster.NewPass(st, cluster.DefaultConfig(), log)
	jobHandler := func(ctx context.Context, job *jobs.ClusterPassJob) error {
		log.Info().Str("job_id", job.JobID).Str("triggered_by", job.TriggeredBy).Msg("Running clustering pass")
		return pass.Run(ctx)
	}

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	ingestSvc := ingest.New(st, gateway, jobQueue, cfg.DebtAccounts, cfg.EmbeddingWorkers, log)

	transactionsHandler := handlers.NewTransactionsHandler(ingestSvc, log)
	analyticsHandler := handlers.NewAnalyticsHandler(st, time.Duration(cfg.ForecastCacheTTLSeconds)*time.Second, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS)

	r.Post("/api/transactions/ingest", transactionsHandler.Ingest)
	r.Post("/api/analytics/anomalies/detect", analyticsHandler.DetectAnomalies)
	r.Get("/api/analytics/habits", analyticsHandler.DetectHabits)
	r.Get("/api/analytics/forecast", analyticsHandler.Forecast)
	r.Get("/api/jobs", jobsHandler.ListJobs)
	r.Get("/api/jobs/{jobID}", jobsHandler.GetJob)
	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Wait out in-flight clustering jobs.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.Open(cfg.PostgresDSN)
	case config.StoreBigQuery:
		return bigquery.New(ctx, cfg.BQProject, cfg.BQDataset)
	default:
		return memory.New(), nil
	}
}
