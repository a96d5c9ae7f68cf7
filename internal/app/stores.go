package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"cinetrack/internal/domain/ports"
	boltrepo "cinetrack/internal/repository/bolt"
	mongorepo "cinetrack/internal/repository/mongo"
)

const (
	StoreMongo = "mongo"
	StoreBolt  = "bolt"
)

// Stores bundles the persistence backends selected by configuration.
type Stores struct {
	Kind   string
	Trends ports.AggregateStore
	Saved  ports.SavedMovieStore
	// Ping reports whether the backend is reachable.
	Ping  func(context.Context) error
	Close func(context.Context) error
}

// StoreKind resolves the backend: an explicit override wins, then MongoDB
// when MONGO_URI is set, then the embedded bolt file.
func StoreKind(cfg Config, override string) (string, error) {
	switch kind := strings.ToLower(strings.TrimSpace(override)); kind {
	case "":
		if strings.TrimSpace(cfg.MongoURI) != "" {
			return StoreMongo, nil
		}
		return StoreBolt, nil
	case StoreMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return "", errors.New("store mongo requires MONGO_URI")
		}
		return StoreMongo, nil
	case StoreBolt:
		return StoreBolt, nil
	default:
		return "", fmt.Errorf("unknown store %q", override)
	}
}

func OpenStores(ctx context.Context, cfg Config, kind string, logger *slog.Logger) (Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case StoreMongo:
		return openMongo(ctx, cfg, logger)
	case StoreBolt:
		return openBolt(cfg, logger)
	default:
		return Stores{}, fmt.Errorf("unknown store %q", kind)
	}
}

func openMongo(ctx context.Context, cfg Config, logger *slog.Logger) (Stores, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return Stores{}, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return Stores{}, fmt.Errorf("mongo ping: %w", err)
	}

	trends := mongorepo.NewTrendRepository(client, cfg.MongoDatabase)
	saved := mongorepo.NewSavedRepository(client, cfg.MongoDatabase)
	if err := trends.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("collection", "trend_aggregates"), slog.String("error", err.Error()))
	}
	if err := saved.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("collection", "saved_movies"), slog.String("error", err.Error()))
	}
	logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))

	return Stores{
		Kind:   StoreMongo,
		Trends: trends,
		Saved:  saved,
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		Close: client.Disconnect,
	}, nil
}

func openBolt(cfg Config, logger *slog.Logger) (Stores, error) {
	store, err := boltrepo.Open(cfg.BoltPath)
	if err != nil {
		return Stores{}, fmt.Errorf("bolt open %s: %w", cfg.BoltPath, err)
	}
	logger.Info("bolt store opened", slog.String("path", cfg.BoltPath))
	return Stores{
		Kind:   StoreBolt,
		Trends: store.Trends(),
		Saved:  store.Saved(),
		Ping:   func(context.Context) error { return nil },
		Close: func(context.Context) error {
			return store.Close()
		},
	}, nil
}
