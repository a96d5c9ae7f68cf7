package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	apihttp "cinetrack/internal/api/http"
	"cinetrack/internal/app"
	"cinetrack/internal/catalog/tmdb"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/events"
	"cinetrack/internal/metrics"
	"cinetrack/internal/retry"
	"cinetrack/internal/saved"
	"cinetrack/internal/telemetry"
	"cinetrack/internal/trend"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("cinetrack"), logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "cinetrack"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Bool("hasMongo", cfg.MongoURI != ""),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasNATS", cfg.NATSURL != ""),
		slog.Bool("hasTMDBKey", cfg.TMDBAPIKey != ""),
		slog.Int("retryMax", cfg.Retry.MaxRetries),
		slog.Duration("retryBaseDelay", cfg.Retry.BaseDelay),
		slog.Duration("reconcileInterval", cfg.ReconcileInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kind, err := app.StoreKind(cfg, "")
	if err != nil {
		logger.Error("store selection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	stores, err := app.OpenStores(rootCtx, cfg, kind, logger)
	if err != nil {
		logger.Error("store open failed", slog.String("store", kind), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			logger.Warn("store close failed", slog.String("error", err.Error()))
		}
	}()

	executor := retry.New(cfg.Retry, retry.WithLogger(logger))

	trendService := trend.NewService(stores.Trends,
		trend.WithExecutor(executor),
		trend.WithLogger(logger),
	)
	reconciler := trend.NewReconciler(stores.Trends,
		trend.WithReconcileExecutor(executor),
		trend.WithReconcileLogger(logger),
		trend.WithMaxScan(cfg.ReconcileMaxScan),
	)
	savedService := saved.NewService(stores.Saved,
		saved.WithExecutor(executor),
		saved.WithLogger(logger),
	)
	catalog := buildCatalog(cfg, logger)

	group, groupCtx := errgroup.WithContext(rootCtx)

	publisher, natsConn := buildPublisher(cfg, trendService, logger)
	if natsConn != nil {
		defer natsConn.Close()
		group.Go(func() error {
			return events.Subscriber{
				Conn:    natsConn,
				Subject: cfg.NATSSubject,
				Applier: trendService,
				Logger:  logger,
			}.Run(groupCtx)
		})
	} else if async, ok := publisher.(*events.AsyncPublisher); ok {
		group.Go(func() error {
			return async.Run(groupCtx)
		})
	}

	group.Go(func() error {
		trend.Scheduler{
			Reconciler: reconciler,
			Interval:   cfg.ReconcileInterval,
			Logger:     logger,
		}.Run(groupCtx)
		return nil
	})

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithExecutor(executor),
		apihttp.WithReconciler(reconciler),
		apihttp.WithSavedMovies(savedService),
		apihttp.WithPublisher(publisher),
		apihttp.WithHealthCheck(stores.Ping),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithRequestTimeout(cfg.RequestTimeout),
		apihttp.WithDefaultTrendingLimit(cfg.TrendingLimit),
	}
	api := apihttp.NewServer(catalog, trendService, serverOpts...)
	defer api.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group.Go(func() error {
		logger.Info("cinetrack started",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("store", stores.Kind),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("cinetrack stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("cinetrack stopped")
}

// buildCatalog returns nil when no TMDB key is configured; the catalog
// endpoints then answer 503.
func buildCatalog(cfg app.Config, logger *slog.Logger) ports.Catalog {
	apiKey := strings.TrimSpace(cfg.TMDBAPIKey)
	if apiKey == "" {
		logger.Info("tmdb api key not configured, catalog endpoints disabled")
		return nil
	}

	var redisClient *redis.Client
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid redis url, using in-process cache only", slog.String("error", err.Error()))
		} else {
			redisClient = redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Warn("redis not reachable, using in-process cache only", slog.String("error", err.Error()))
				_ = redisClient.Close()
				redisClient = nil
			} else {
				logger.Info("redis connected", slog.String("addr", opts.Addr))
			}
			cancel()
		}
	}

	return tmdb.NewClient(tmdb.Config{
		APIKey:   apiKey,
		BaseURL:  cfg.TMDBBaseURL,
		Language: cfg.TMDBLanguage,
		Client:   &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Redis:    redisClient,
		CacheTTL: cfg.TMDBCacheTTL,
		Logger:   logger,
	})
}

// buildPublisher prefers NATS so several instances share one trend writer
// queue, and falls back to in-process workers.
func buildPublisher(cfg app.Config, applier events.Applier, logger *slog.Logger) (ports.SearchEventPublisher, *nats.Conn) {
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		conn, err := events.Connect(url, logger)
		if err == nil {
			return events.NewNATSPublisher(conn, cfg.NATSSubject), conn
		}
		logger.Warn("nats not reachable, recording searches in-process", slog.String("error", err.Error()))
	}
	return events.NewAsyncPublisher(applier, 4, 1024, logger), nil
}
