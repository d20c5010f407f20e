package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

// runStoreContract exercises the behaviour every Store adapter must share.
// ids are prefixed so the suite can run against a shared database.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	prefix := fmt.Sprintf("ct%d_", time.Now().UnixNano())
	now := time.Now().UTC().Truncate(time.Millisecond)

	createFactory := func(t *testing.T, id, email string, energy, currency int64) {
		t.Helper()
		f := &models.Factory{ID: id, Name: "Factory " + id, EnergyType: "solar", CreatedAt: now}
		if email != "" {
			f.Email = &email
		}
		b := models.NewFactoryBalance(id, decimal.NewFromInt(energy), decimal.NewFromInt(currency), nil, decimal.Zero, now)
		require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateFactory(ctx, f, b)
		}))
	}

	t.Run("create and read factory", func(t *testing.T) {
		id := prefix + "A"
		createFactory(t, id, prefix+"a@example.com", 100, 0)

		b, err := store.GetBalances(ctx, id)
		require.NoError(t, err)
		assert.True(t, b.EnergyBalance.Equal(decimal.NewFromInt(100)))
		assert.True(t, b.AvailableEnergy.Equal(decimal.NewFromInt(100)))

		f, err := store.GetFactoryByEmail(ctx, prefix+"A@EXAMPLE.com")
		require.NoError(t, err)
		assert.Equal(t, id, f.ID)
	})

	t.Run("duplicate factory is conflict", func(t *testing.T) {
		id := prefix + "dup"
		createFactory(t, id, "", 1, 1)

		err := store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateFactory(ctx,
				&models.Factory{ID: id, Name: "again", CreatedAt: now},
				models.NewFactoryBalance(id, decimal.Zero, decimal.Zero, nil, decimal.Zero, now))
		})
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		_, err := store.GetBalances(ctx, prefix+"nobody")
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

		_, err = store.GetTrade(ctx, prefix+"no-trade")
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

		err = store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.LockBalance(ctx, prefix+"nobody")
			return err
		})
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	})

	t.Run("aborted transaction leaves no trace", func(t *testing.T) {
		id := prefix + "R"
		createFactory(t, id, "", 50, 50)
		boom := apperrors.NewInsufficientFundsError("boom")

		err := store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			b, err := tx.LockBalance(ctx, id)
			if err != nil {
				return err
			}
			b.EnergyBalance = decimal.NewFromInt(1)
			if err := tx.SaveBalance(ctx, b); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		b, err := store.GetBalances(ctx, id)
		require.NoError(t, err)
		assert.True(t, b.EnergyBalance.Equal(decimal.NewFromInt(50)))
	})

	t.Run("trade lifecycle", func(t *testing.T) {
		seller, buyer := prefix+"S", prefix+"B"
		createFactory(t, seller, "", 10, 0)
		createFactory(t, buyer, "", 0, 10)

		trade := models.NewTrade(prefix+"T1", seller, buyer, decimal.RequireFromString("2.5"), decimal.NewFromInt(2), now)
		require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertTrade(ctx, trade)
		}))

		err := store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertTrade(ctx, trade)
		})
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)

		require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			locked, err := tx.LockTrade(ctx, trade.ID)
			if err != nil {
				return err
			}
			locked.MarkCompleted(now)
			return tx.SaveTrade(ctx, locked)
		}))

		got, err := store.GetTrade(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TradeStatusCompleted, got.Status)
		assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(5)))
		require.NotNil(t, got.CompletedAt)

		listed, err := store.ListTrades(ctx, TradeFilter{FactoryID: buyer})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, trade.ID, listed[0].ID)

		listed, err = store.ListTrades(ctx, TradeFilter{FactoryID: buyer, Status: models.TradeStatusPending})
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	store, err := OpenPostgres(context.Background(), config.StorageConfig{
		PostgresDSN:    dsn,
		MaxOpenConns:   5,
		MaxIdleConns:   2,
		ConnectTimeout: 10 * time.Second,
		AutoMigrate:    true,
	})
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestMySQLStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	store, err := OpenMySQL(context.Background(), config.StorageConfig{
		MySQLDSN:       dsn,
		MaxOpenConns:   5,
		MaxIdleConns:   2,
		ConnectTimeout: 10 * time.Second,
		AutoMigrate:    true,
	})
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestMongoStore_Contract(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	store, err := OpenMongo(context.Background(), config.StorageConfig{
		MongoURI:       uri,
		MongoDatabase:  "energy_trading_test",
		MaxOpenConns:   5,
		ConnectTimeout: 10 * time.Second,
		OpTimeout:      10 * time.Second,
		AutoMigrate:    true,
	})
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}
