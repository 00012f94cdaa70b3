package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"securelink/internal/server/api"
	"securelink/internal/server/config"
	"securelink/internal/server/database"
	"securelink/internal/server/filesystem"
	"securelink/internal/server/logging"
	"securelink/internal/server/metrics"
	"securelink/internal/server/reaper"
	"securelink/internal/server/service"
	"securelink/internal/server/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Structured logging
	flush, err := logging.Setup(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer flush()

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"storage_provider", cfg.StorageProvider,
		"max_file_size", cfg.MaxFileSize,
		"folder_default_expiry", cfg.FolderDefaultExpiry,
		"cleanup_interval", cfg.CleanupInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	backend, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("storage initialized", "provider", backend.Name())

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize repository, engine and service
	repo := database.NewRepository(db)
	engine := filesystem.NewEngine(repo, backend, m)
	svc := service.New(engine, backend, database.NewAuditRepository(db), repo, cfg)

	sweeper := reaper.New(repo, engine, db, reaper.Config{
		Interval:       cfg.CleanupInterval,
		InitialBackoff: cfg.ReadinessInitialBackoff,
		MaxBackoff:     cfg.ReadinessMaxBackoff,
	}, m)

	// Setup HTTP router
	e := api.SetupRouter(ctx, api.NewHandler(svc, db), cfg, reg, m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start(gctx)
		sweeper.Wait()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		// Stop accepting new requests, finish in-flight with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server exited cleanly")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := database.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	default:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageProvider {
	case config.ProviderMinio:
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize bucket: %w", err)
		}
		return store, nil
	default:
		store := storage.NewFileSystemStore(cfg.StoragePath)
		if err := store.EnsureDir(); err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	}
}
