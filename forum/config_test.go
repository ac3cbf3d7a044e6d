package forum

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "volboard.db", cfg.SQLitePath)
	assert.Equal(t, 500, cfg.ReadMarkLimit)
	assert.Equal(t, 10*time.Minute, cfg.PostCacheTTL)
	assert.Equal(t, 3, cfg.Retry().Attempts)
	assert.Equal(t, 50, cfg.UserPageSize)
}

func TestLoadConfigPostgres(t *testing.T) {
	cfg, err := loadConfig(env.Options{Environment: map[string]string{
		"VOLBOARD_STORE":           "postgres",
		"DATABASE_URL":             "postgres://localhost/volboard",
		"VOLBOARD_READ_MARK_LIMIT": "20",
		"VOLBOARD_RETRY_ATTEMPTS":  "5",
	}})
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, 20, cfg.ReadMarkLimit)
	assert.Equal(t, 5, cfg.Retry().Attempts)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"postgres without url": {"VOLBOARD_STORE": "postgres"},
		"unknown store":        {"VOLBOARD_STORE": "mysql"},
		"zero page size":       {"VOLBOARD_POST_PAGE_SIZE": "0"},
		"bad duration":         {"VOLBOARD_POST_CACHE_TTL": "soon"},
	}
	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(env.Options{Environment: environ})
			assert.Error(t, err)
		})
	}
}
