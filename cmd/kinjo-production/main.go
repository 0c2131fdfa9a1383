package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	httpapi "github.com/dbourene/kinjo-production/internal/api/http"
	"github.com/dbourene/kinjo-production/internal/config"
	"github.com/dbourene/kinjo-production/internal/exports"
	"github.com/dbourene/kinjo-production/internal/geo"
	"github.com/dbourene/kinjo-production/internal/logging"
	"github.com/dbourene/kinjo-production/internal/objectstore"
	"github.com/dbourene/kinjo-production/internal/observability/metrics"
	"github.com/dbourene/kinjo-production/internal/production"
	"github.com/dbourene/kinjo-production/internal/production/estimators"
	"github.com/dbourene/kinjo-production/internal/scheduler"
	"github.com/dbourene/kinjo-production/internal/store"
)

const version = "1.0.0"

// installationStore is what the service needs from a persistence backend.
type installationStore interface {
	production.InstallationRepository
	production.RunLedger
	Name() string
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logging.New(cfg.Mode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	db, err := openStore(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to open installation store", zap.Error(err))
	}
	if c, ok := db.(io.Closer); ok {
		defer c.Close()
	}

	artifacts, err := openObjectStore(ctx, cfg, httpClient, zl)
	if err != nil {
		zl.Fatal("failed to open object store", zap.Error(err))
	}
	if c, ok := artifacts.(io.Closer); ok {
		defer c.Close()
	}

	var estimator production.Estimator
	switch cfg.Estimator {
	case "simulation":
		estimator = estimators.NewSimulationEstimator(cfg.SimulationYield, cfg.DefaultYear)
	default:
		backoff := estimators.DefaultBackoff
		backoff.MaxRetries = cfg.HTTPMaxRetries
		estimator = estimators.NewPVWattsEstimator(httpClient, estimators.PVWattsConfig{
			APIKey:      cfg.NRELAPIKey,
			BaseURL:     cfg.PVWattsBaseURL,
			DefaultYear: cfg.DefaultYear,
			Backoff:     backoff,
		}, zl.Named("pvwatts"))
		if cfg.NRELAPIKey == "" {
			zl.Warn("NREL_API_KEY is not set; calculations will fail until it is configured")
		}
	}

	recorder := metrics.NewRecorder()

	opts := []production.Option{
		production.WithLogger(zl.Named("production")),
		production.WithSystemConfig(cfg.System),
		production.WithPathPrefix(cfg.StoragePrefix),
		production.WithRecorder(recorder),
		production.WithCommitRetry(cfg.CommitRetries, cfg.CommitBackoff),
	}
	for _, format := range cfg.ExportFormats {
		switch format {
		case "xlsx":
			opts = append(opts, production.WithExporters(exports.NewXLSXExporter()))
		case "parquet":
			pe, err := exports.NewParquetExporter(cfg.ParquetCompress)
			if err != nil {
				zl.Fatal("invalid parquet export settings", zap.Error(err))
			}
			opts = append(opts, production.WithExporters(pe))
		}
	}
	if cfg.GeocoderAPIKey != "" {
		opts = append(opts, production.WithGeocoder(geo.NewGeocoder(cfg.GeocoderAPIKey)))
	}

	// Core service orchestrating estimator, stores and ledger.
	service := production.NewService(db, db, estimator, artifacts, opts...)

	sched := scheduler.New(scheduler.Config{
		Installations:     cfg.RecalcInstallations,
		RecalcInterval:    cfg.RecalcInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		RunTimeout:        cfg.RunTimeout,
	}, service, zl.Named("scheduler"))
	if err := sched.Start(); err != nil {
		zl.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "kinjo-production",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.RunTimeout + 10*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	info := fiber.Map{
		"service":        "kinjo-production",
		"version":        version,
		"estimator":      service.EstimatorName(),
		"dataset":        cfg.System.Dataset,
		"api_key_set":    cfg.NRELAPIKey != "",
		"api_key_prefix": cfg.APIKeyPreview(),
		"store":          db.Name(),
		"object_store":   artifacts.Name(),
	}
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Kinjo production API",
			"info":    info,
			"endpoints": []string{
				"GET /health",
				"GET /metrics",
				"GET /api/installations/:id/status",
				"POST /api/installations/:id/calculate-production",
				"POST /api/reconcile",
			},
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().UTC(),
			"info":   info,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(recorder.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service, cfg.RunTimeout)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zl.Error("fiber server stopped", zap.Error(err))
		}
	}()
	zl.Info("server started",
		zap.String("port", cfg.Port),
		zap.String("estimator", service.EstimatorName()),
		zap.String("store", db.Name()),
		zap.String("object_store", artifacts.Name()))

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Error("error during shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.AppConfig, zl *zap.Logger) (installationStore, error) {
	if cfg.DatabaseURL == "" {
		mem := store.NewMemoryStore()
		if cfg.InstallationsFile != "" {
			f, err := os.Open(cfg.InstallationsFile)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			n, err := mem.LoadInstallations(f)
			if err != nil {
				return nil, err
			}
			zl.Info("loaded installations", zap.Int("count", n), zap.String("file", cfg.InstallationsFile))
		} else {
			zl.Warn("DATABASE_URL is not set; using an empty in-memory store")
		}
		return mem, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pg := store.NewPostgresStore(db)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		pg.Close()
		return nil, err
	}
	if err := pg.EnsureSchema(pingCtx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func openObjectStore(ctx context.Context, cfg *config.AppConfig, client *http.Client, zl *zap.Logger) (production.ArtifactStore, error) {
	l := zl.Named("objectstore")
	switch cfg.StorageBackend {
	case "gcs":
		return objectstore.NewGCSStore(ctx, cfg.StorageBucket, cfg.GCSCredentials, l)
	case "supabase":
		return objectstore.NewSupabaseStore(client, cfg.SupabaseURL, cfg.SupabaseKey, cfg.StorageBucket, l)
	default:
		return objectstore.NewLocalStore(cfg.StorageBaseDir, cfg.StorageBucket, l)
	}
}
