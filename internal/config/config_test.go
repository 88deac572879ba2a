package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, "", cfg.AdminBootstrapKey)
	assert.Equal(t, int64(100000), cfg.RegisterSeedCash)
	assert.Equal(t, 250*time.Millisecond, cfg.BookCacheTTL)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_HTTP_ADDR", ":9999")
	t.Setenv("EXCHANGE_ADMIN_BOOTSTRAP_KEY", "super-secret")
	t.Setenv("EXCHANGE_REGISTER_SEED_CASH", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "super-secret", cfg.AdminBootstrapKey)
	assert.Equal(t, int64(500), cfg.RegisterSeedCash)
}
