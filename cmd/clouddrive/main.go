package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/objectfs/clouddrive/internal/config"
	"github.com/objectfs/clouddrive/internal/directory"
	"github.com/objectfs/clouddrive/internal/lock"
	"github.com/objectfs/clouddrive/internal/metrics"
	"github.com/objectfs/clouddrive/internal/resource"
	"github.com/objectfs/clouddrive/internal/storage/memory"
	"github.com/objectfs/clouddrive/internal/storage/s3"
	"github.com/objectfs/clouddrive/internal/validation"
	"github.com/objectfs/clouddrive/pkg/api"
	"github.com/objectfs/clouddrive/pkg/health"
	"github.com/objectfs/clouddrive/pkg/types"
	"github.com/objectfs/clouddrive/pkg/utils"
)

// probeKey is locked and released by the lock health probe
const probeKey = "health-probe"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "clouddrive: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := utils.NewLogger(utils.LoggerOptions{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	store, err := openStore(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}

	locker, lockCloser, err := openLocker(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer lockCloser.Close()

	ns := utils.NewNamespace(cfg.Storage.TenantPrefix)
	dirs := directory.NewService(store, ns,
		directory.WithLogger(logger),
		directory.WithMetrics(collector),
		directory.WithLocker(locker),
		directory.WithMaxNameLength(cfg.Filesystem.MaxNameLength))
	validator := validation.NewMoveValidator(dirs,
		validation.WithMaxNameLength(cfg.Filesystem.MaxNameLength),
		validation.WithRenameOnRelocate(cfg.Filesystem.AllowRenameOnRelocate))
	resources := resource.NewService(store, dirs, validator, ns,
		resource.Config{
			MaxUploadNameLength: cfg.Filesystem.MaxUploadNameLength,
			DownloadChunkSize:   cfg.Filesystem.DownloadChunkSize,
			DeleteConcurrency:   cfg.Filesystem.DeleteConcurrency,
		},
		resource.WithLogger(logger),
		resource.WithMetrics(collector),
		resource.WithLocker(locker))

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent("storage", store.HealthCheck)
	tracker.RegisterComponent("lock", func(ctx context.Context) error {
		unlock, err := locker.Lock(ctx, probeKey)
		if err != nil {
			return err
		}
		unlock()
		return nil
	})
	go tracker.StartHealthChecks(ctx)

	opts := []api.Option{api.WithLogger(logger), api.WithHealthTracker(tracker)}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetricsHandler(collector.Handler()))
	}
	server := api.NewServer(api.ServerConfig{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		MaxUploadMemory: cfg.Server.MaxUploadMemory,
	}, dirs, resources, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	logger.Info("clouddrive stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Configuration, logger *slog.Logger, collector *metrics.Collector) (types.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("using in-memory object store, data is lost on restart")
		return memory.NewStore(), nil
	default:
		s3cfg := s3.NewDefaultConfig()
		s3cfg.Region = cfg.Storage.S3.Region
		s3cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3cfg.AccessKeyID = cfg.Storage.S3.AccessKeyID
		s3cfg.SecretAccessKey = cfg.Storage.S3.SecretAccessKey
		s3cfg.ForcePathStyle = cfg.Storage.S3.ForcePathStyle
		s3cfg.MaxRetries = cfg.Storage.S3.MaxRetries
		s3cfg.RequestTimeout = cfg.Storage.S3.RequestTimeout

		backend, err := s3.NewBackend(ctx, cfg.Storage.Bucket, s3cfg,
			s3.WithLogger(logger),
			s3.WithMetrics(collector))
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		return backend, nil
	}
}

func openLocker(ctx context.Context, cfg *config.Configuration, logger *slog.Logger, collector *metrics.Collector) (types.PathLocker, io.Closer, error) {
	opts := lock.Options{
		WaitTimeout: cfg.Locking.WaitTimeout,
		Logger:      logger,
		Recorder:    collector,
	}

	if cfg.Locking.Backend != "redis" {
		return lock.NewLocal(opts), io.NopCloser(nil), nil
	}

	client, err := lock.Connect(ctx, lock.NewRedisOptions(
		cfg.Locking.RedisAddr, cfg.Locking.RedisPassword, cfg.Locking.RedisDB))
	if err != nil {
		return nil, nil, fmt.Errorf("lock backend: %w", err)
	}
	logger.Info("using redis path locks", "addr", cfg.Locking.RedisAddr)
	return lock.NewRedis(client, lock.RedisConfig{
		KeyPrefix:     cfg.Locking.KeyPrefix,
		TTL:           cfg.Locking.TTL,
		RetryInterval: cfg.Locking.RetryInterval,
	}, opts), client, nil
}
