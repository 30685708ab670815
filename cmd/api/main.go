package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediacache/internal/api/handler"
	"github.com/hszk-dev/mediacache/internal/api/middleware"
	"github.com/hszk-dev/mediacache/internal/config"
	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/cache"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediacache/internal/infrastructure/queue"
	"github.com/hszk-dev/mediacache/internal/infrastructure/storage"
	"github.com/hszk-dev/mediacache/internal/reader"
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

	checks := make(map[string]handler.Checker)
	var sinks usecase.MultiStatusSink

	// Optional infrastructure. Each backend can be switched off; the cache
	// still serves local files without any of them.
	var statusRepo *postgres.StatusRepository
	if cfg.Database.Enabled {
		pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer pgClient.Close()

		if err := pgClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
		metrics.RegisterDBPool(func() (int32, int32, int32) {
			s := pgClient.Stats()
			return s.AcquiredConns, s.IdleConns, s.TotalConns
		})
		logger.Info("connected to PostgreSQL")

		statusRepo = postgres.NewStatusRepository(pgClient.Pool())
		sinks = append(sinks, statusRepo)
		checks["postgres"] = pgClient
	}

	var queueClient *queue.Client
	if cfg.RabbitMQ.Enabled {
		qcfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
		qcfg.MaxRetries = cfg.Worker.MaxRetries
		queueClient, err = queue.NewClient(ctx, qcfg)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer queueClient.Close()
		logger.Info("connected to RabbitMQ")

		sinks = append(sinks, queueClient)
		checks["rabbitmq"] = handler.CheckerFunc(func(context.Context) error {
			if queueClient.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		})
	}

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

		checks["redis"] = handler.CheckerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
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
		logger.Info("connected to MinIO", slog.String("bucket", storageClient.Bucket()))

		locator["s3"] = decoder.NewObjectLocator(storageClient, cfg.MinIO.URLExpiry)
		checks["minio"] = storageClient
	}

	var sink repository.StatusSink
	if len(sinks) > 0 {
		sink = sinks
	}
	notifier := usecase.NewStatusNotifier(sink, cfg.Media.StatusTimeout)

	fcfg := decoder.DefaultFFmpegConfig()
	fcfg.FFmpegPath = cfg.Media.FFmpegPath
	fcfg.FFprobePath = cfg.Media.FFprobePath
	registry := decoder.NewRegistry(locator,
		decoder.BlankPlugin{},
		decoder.NewFFmpegPlugin(fcfg, locator),
	)

	images := cache.NewMemoryFrameCache(model.KindImage, cfg.Media.ImageCacheBytes)
	audio := cache.NewMemoryFrameCache(model.KindAudio, cfg.Media.AudioCacheBytes)

	rcfg := reader.DefaultFactoryConfig()
	rcfg.MaxConcurrentOpens = cfg.Media.MaxConcurrentOpen
	rcfg.Reader.OnError = notifier.FrameError
	factory := reader.NewFactory(registry, images, audio, rcfg)

	dir := usecase.NewReaderDirectory(factory, usecase.DirectoryConfig{
		MaxSourceCount: cfg.Media.MaxSourceCount,
		MaxSourceAge:   cfg.Media.MaxSourceAge,
	})

	dcfg := usecase.DefaultDetailConfig()
	dcfg.TTL = cfg.Media.DetailTTL
	dcfg.SharedTTL = cfg.Media.DetailSharedTTL
	details := usecase.NewDetailCoordinator(registry, detailStore, usecase.PixelConverter{}, notifier, dcfg)

	ccfg := usecase.DefaultCoordinatorConfig()
	ccfg.MaxInFlight = cfg.Media.MaxInFlight
	ccfg.CoalesceMisses = cfg.Media.CoalesceMisses
	coord := usecase.NewMediaCacheCoordinator(images, audio, dir, details, notifier, ccfg)

	if cfg.Media.PreferencesPath != "" {
		watcher, err := config.WatchPreferences(cfg.Media.PreferencesPath, func(p config.Preferences) {
			coord.ApplyPreferences(mergePreferences(coord.Preferences(), p))
		})
		if err != nil {
			return fmt.Errorf("failed to watch preferences: %w", err)
		}
		defer watcher.Stop()
	}

	var statuses handler.StatusReader
	if statusRepo != nil {
		statuses = statusRepo
	}
	var probes handler.ProbePublisher
	if queueClient != nil {
		probes = queueClient
	}

	r := setupRouter(logger,
		handler.NewMediaHandler(coord),
		handler.NewDetailHandler(details, statuses, probes),
		handler.NewHealthHandler(checks),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("media cache shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := details.Shutdown(shutdownCtx); err != nil {
		logger.Warn("detail coordinator shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}

// mergePreferences overlays the keys present in the preferences file onto
// the current settings.
func mergePreferences(cur usecase.Preferences, p config.Preferences) usecase.Preferences {
	if p.MaxSourceCount != nil && *p.MaxSourceCount > 0 {
		cur.MaxSourceCount = *p.MaxSourceCount
	}
	if age, ok := p.SourceAge(); ok && age > 0 {
		cur.MaxSourceAge = age
	}
	if p.ReadAhead != nil && *p.ReadAhead > 0 {
		cur.ReadAhead = *p.ReadAhead
	}
	return cur
}

func setupRouter(logger *slog.Logger, media *handler.MediaHandler, details *handler.DetailHandler, health *handler.HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/frames", func(r chi.Router) {
			r.Get("/image", media.Image)
			r.Get("/audio", media.Audio)
			r.Post("/future", media.Future)
		})

		r.Route("/precache", func(r chi.Router) {
			r.Post("/clear", media.Clear)
			r.Post("/{requester}/playback", media.PlaybackPrecache)
			r.Post("/{requester}/static", media.StaticPrecache)
			r.Delete("/{requester}", media.ClearRequester)
		})

		r.Delete("/readers", media.RetireReader)

		r.Get("/preferences", media.GetPreferences)
		r.Put("/preferences", media.UpdatePreferences)

		r.Get("/detail", details.GetDetail)
		r.Delete("/detail", details.InvalidateDetail)
		r.Get("/thumbnail", details.Thumbnail)
		r.Get("/status/{owner}", details.GetStatus)
		r.Post("/probe", details.Probe)
	})

	return r
}
