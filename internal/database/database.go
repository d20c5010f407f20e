package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/ratelimit"
	"energy-trading-api/internal/repository"
)

type Database struct {
	Store    repository.Store
	RedisDB  *redis.Client
	Counters ratelimit.CounterStore
}

func Initialize(ctx context.Context, cfg *config.Config) (*Database, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Storage.Driver, err)
	}

	db := &Database{Store: store}

	if cfg.Storage.Seed {
		seeded, err := repository.SeedDemoData(ctx, store, time.Now().UTC())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
		logrus.WithField("factories", seeded).Info("Demo data seeded")
	}

	switch cfg.RateLimit.Store {
	case config.CounterStoreRedis:
		redisDB, err := initializeRedis(ctx, cfg.Redis)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		db.RedisDB = redisDB
		db.Counters = ratelimit.NewRedisStore(redisDB, cfg.RateLimit.KeyPrefix)
	default:
		db.Counters = ratelimit.NewMemoryStore(cfg.RateLimit.CleanupThreshold)
	}

	return db, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (repository.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return repository.NewMemoryStore(), nil
	case config.StoragePostgres:
		return repository.OpenPostgres(ctx, cfg)
	case config.StorageMySQL:
		return repository.OpenMySQL(ctx, cfg)
	case config.StorageMongo:
		return repository.OpenMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

func initializeRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return client, nil
}

func (db *Database) Close(ctx context.Context) error {
	var errs []error

	if db.Store != nil {
		if err := db.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	if db.Counters != nil {
		if err := db.Counters.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close counter store: %w", err))
		}
	}

	if db.RedisDB != nil {
		if err := db.RedisDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errs)
	}

	return nil
}

func (db *Database) HealthCheck(ctx context.Context) error {
	if err := db.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}

	if db.RedisDB != nil {
		if err := db.RedisDB.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	return nil
}
