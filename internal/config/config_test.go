package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 20, cfg.Jobs.MaxProducts)
	assert.Equal(t, 4, cfg.Browser.MaxColors)
	assert.Equal(t, 1500*time.Millisecond, cfg.Browser.SettleDelay)
	assert.Equal(t, "stream:catalog", cfg.Outbox.Stream)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Empty(t, cfg.Schedule.Refresh)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JOB_POLL_INTERVAL", "250ms")
	t.Setenv("JOB_MAX_PRODUCTS", "7")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example, https://ops.example")
	t.Setenv("DB_MAX_CONNS", "not-a-number")
	t.Setenv("REFRESH_SCHEDULE", "@every 6h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.PollInterval)
	assert.Equal(t, 7, cfg.Jobs.MaxProducts)
	assert.Equal(t, []string{"https://admin.example", "https://ops.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int32(20), cfg.Database.MaxConns, "unparsable values fall back to the default")
	assert.Equal(t, "@every 6h", cfg.Schedule.Refresh)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown driver", "STORE_DRIVER", "sqlite"},
		{"bad port", "SERVER_PORT", "http"},
		{"zero max products", "JOB_MAX_PRODUCTS", "0"},
		{"zero colors", "BROWSER_MAX_COLORS", "0"},
		{"negative poll", "JOB_POLL_INTERVAL", "-1s"},
		{"delay order", "FETCHER_BASE_DELAY", "1m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
