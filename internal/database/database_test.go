package database

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/ratelimit"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Storage.Driver = config.StorageMemory
	cfg.RateLimit.Store = config.CounterStoreMemory
	return cfg
}

func TestInitialize_MemoryDriver(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Storage.Seed = true

	db, err := Initialize(ctx, cfg)
	require.NoError(t, err)

	assert.Nil(t, db.RedisDB)
	assert.IsType(t, &ratelimit.MemoryStore{}, db.Counters)
	require.NoError(t, db.HealthCheck(ctx))

	factories, err := db.Store.ListFactories(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, factories)

	require.NoError(t, db.Close(ctx))
	assert.Error(t, db.HealthCheck(ctx))
}

func TestInitialize_SeedIsLoggedOnce(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Storage.Seed = true

	db, err := Initialize(ctx, cfg)
	require.NoError(t, err)
	defer db.Close(ctx)

	seeded := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.InfoLevel && entry.Data["factories"] != nil {
			seeded++
			assert.Equal(t, 5, entry.Data["factories"])
		}
	}
	assert.Equal(t, 1, seeded)
}

func TestInitialize_UnsupportedDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Driver = "sqlite"

	db, err := Initialize(context.Background(), cfg)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, `unsupported storage driver: "sqlite"`)
}
