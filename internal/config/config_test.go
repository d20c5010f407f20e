package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.OpTimeout)
	assert.Equal(t, CounterStoreMemory, cfg.RateLimit.Store)
	assert.Equal(t, 5, cfg.RateLimit.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.LoginWindow)
	assert.Equal(t, 3, cfg.RateLimit.SignupMaxAttempts)
	assert.Equal(t, time.Hour, cfg.RateLimit.SignupWindow)
	assert.Equal(t, 10000, cfg.RateLimit.CleanupThreshold)
	assert.True(t, cfg.Defaults.CurrencyBalance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Server.TrustedProxies)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("RATE_LIMIT_LOGIN_MAX_ATTEMPTS", "10")
	t.Setenv("RATE_LIMIT_LOGIN_WINDOW", "1m")
	t.Setenv("DEFAULT_ENERGY_BALANCE", "250.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.RateLimit.LoginMaxAttempts)
	assert.Equal(t, time.Minute, cfg.RateLimit.LoginWindow)
	assert.Equal(t, "250.5", cfg.Defaults.EnergyBalance.String())
}

func TestLoad_InvalidDecimal(t *testing.T) {
	t.Setenv("DEFAULT_CURRENCY_BALANCE", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_CURRENCY_BALANCE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:     "bad port",
			mutate:   func(c *Config) { c.Server.Port = 70000 },
			errorMsg: "invalid server port",
		},
		{
			name:     "unknown driver",
			mutate:   func(c *Config) { c.Storage.Driver = "sqlite" },
			errorMsg: "unsupported storage driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.Driver = StoragePostgres
				c.Storage.PostgresDSN = ""
			},
			errorMsg: "postgres DSN is required",
		},
		{
			name:     "unknown counter store",
			mutate:   func(c *Config) { c.RateLimit.Store = "memcached" },
			errorMsg: "unsupported rate limit store",
		},
		{
			name:     "zero ceiling",
			mutate:   func(c *Config) { c.RateLimit.LoginMaxAttempts = 0 },
			errorMsg: "rate limit ceilings must be positive",
		},
		{
			name:     "negative default balance",
			mutate:   func(c *Config) { c.Defaults.CurrencyBalance = decimal.NewFromInt(-1) },
			errorMsg: "default balances cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()

			if tt.errorMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			}
		})
	}
}
