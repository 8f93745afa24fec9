package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/neuroscan/backend/internal/auth"
	"github.com/neuroscan/backend/internal/config"
	"github.com/neuroscan/backend/internal/dashboard"
	"github.com/neuroscan/backend/internal/db"
	"github.com/neuroscan/backend/internal/execution"
	"github.com/neuroscan/backend/internal/inference"
	"github.com/neuroscan/backend/internal/jobs"
	"github.com/neuroscan/backend/internal/ledger"
	"github.com/neuroscan/backend/internal/router"
	"github.com/neuroscan/backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL; ensure it is running", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := db.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	// River migrations (queue tables)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Jobs: insert funcs are set after the River client is created (breaks
	// the init cycle, same as the jobs service depending on the client that
	// depends on the worker that depends on the service).
	var insertMu sync.Mutex
	var insertTxFn jobs.InsertPredictionTxFunc
	var insertFn execution.InsertFunc
	insertPredictionTx := func(ctx context.Context, tx pgx.Tx, args execution.PredictJobArgs) error {
		insertMu.Lock()
		fn := insertTxFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	insertPrediction := func(ctx context.Context, args execution.PredictJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, args)
	}

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, insertPredictionTx, jobs.Costs{
		ImageCents: cfg.ImageCostCents,
		ScanCents:  cfg.ScanCostCents,
	}, cfg.MaxAttempts)

	// Assets and inference engine
	store, err := storage.New(cfg.UploadDir, cfg.DownloadDir)
	if err != nil {
		slog.Error("Asset store init failed", "error", err)
		os.Exit(1)
	}
	engine := inference.NewHTTPEngine(cfg.EngineURL)

	settler := &execution.Settler{Jobs: jobsSvc, Ledger: ledgerSvc, Log: logger}

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewPredictWorker(jobsSvc, settler, engine, store, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.WorkerCount},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertTxFn = func(ctx context.Context, tx pgx.Tx, args execution.PredictJobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertFn = func(ctx context.Context, args execution.PredictJobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth & HTTP handlers
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)
	jobsHandler := jobs.NewHandler(jobsSvc, authSvc, store, logger)
	ledgerHandler := ledger.NewHandler(ledgerSvc, authSvc, logger)
	dashHandler := dashboard.NewHandler(authSvc, authRepo, jobsSvc, logger)

	apiRouter := router.New(authHandler, jobsHandler, ledgerHandler, dashHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/downloads/", http.StripPrefix("/downloads/", http.FileServer(http.Dir(store.DownloadDir()))))
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(store.UploadDir()))))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs) and the periodic sweeps
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	sweeper := execution.NewSweeper(jobsSvc, settler, insertPrediction, logger,
		cfg.SweepInterval, cfg.ProcessingTimeout, cfg.BackoffBase, cfg.BackoffCap)
	go sweeper.Run(riverCtx)

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
