package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediacache/internal/config"
	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/cache"
	"github.com/hszk-dev/mediacache/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediacache/internal/infrastructure/queue"
	"github.com/hszk-dev/mediacache/internal/infrastructure/storage"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// The worker exists to drain the probe queue, so RabbitMQ is required.
	qcfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	qcfg.MaxRetries = cfg.Worker.MaxRetries
	queueClient, err := queue.NewClient(ctx, qcfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	sinks := usecase.MultiStatusSink{queueClient}

	if cfg.Database.Enabled {
		pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer pgClient.Close()

		if err := pgClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
		logger.Info("connected to PostgreSQL")

		sinks = append(sinks, postgres.NewStatusRepository(pgClient.Pool()))
	}

	// Resolved detail goes to Redis so API instances pick it up without
	// probing again.
	var detailStore cache.DetailStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		store, err := cache.NewRedisDetailStore(redisClient)
		if err != nil {
			return fmt.Errorf("failed to create detail store: %w", err)
		}
		detailStore = store
		logger.Info("connected to Redis")
	}

	locator := decoder.SchemeLocator{"file": decoder.FileLocator{}}
	if cfg.MinIO.Enabled {
		storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
			Endpoint:       cfg.MinIO.Endpoint,
			PublicEndpoint: cfg.MinIO.PublicEndpoint,
			AccessKey:      cfg.MinIO.AccessKey,
			SecretKey:      cfg.MinIO.SecretKey,
			Bucket:         cfg.MinIO.Bucket,
			UseSSL:         cfg.MinIO.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		logger.Info("connected to MinIO")

		locator["s3"] = decoder.NewObjectLocator(storageClient, cfg.MinIO.URLExpiry)
	}

	fcfg := decoder.DefaultFFmpegConfig()
	fcfg.FFmpegPath = cfg.Media.FFmpegPath
	fcfg.FFprobePath = cfg.Media.FFprobePath
	registry := decoder.NewRegistry(locator,
		decoder.BlankPlugin{},
		decoder.NewFFmpegPlugin(fcfg, locator),
	)

	notifier := usecase.NewStatusNotifier(sinks, cfg.Media.StatusTimeout)

	dcfg := usecase.DefaultDetailConfig()
	dcfg.TTL = cfg.Media.DetailTTL
	dcfg.SharedTTL = cfg.Media.DetailSharedTTL
	details := usecase.NewDetailCoordinator(registry, detailStore, usecase.PixelConverter{}, notifier, dcfg)

	probeSvc := usecase.NewProbeService(details, sinks)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// WaitGroup to track in-flight tasks
	var wg sync.WaitGroup

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worker, consuming probe tasks")
		err := queueClient.ConsumeProbeTasks(ctx, func(task repository.ProbeTask) error {
			wg.Add(1)
			defer wg.Done()

			logger.Info("processing task",
				slog.String("uri", task.URI),
				slog.String("owner_id", task.OwnerID.String()),
				slog.Int("retry_count", task.RetryCount),
			)

			if err := probeSvc.ProcessTask(ctx, task); err != nil {
				logger.Error("task processing failed",
					slog.String("uri", task.URI),
					slog.Int("retry_count", task.RetryCount),
					slog.String("error", err.Error()),
				)
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop consuming new messages
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight tasks completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some tasks may not have completed")
	}

	if err := details.Shutdown(shutdownCtx); err != nil {
		logger.Warn("detail coordinator shutdown incomplete", slog.String("error", err.Error()))
	}
	notifier.Wait()

	logger.Info("worker stopped")
	return nil
}
