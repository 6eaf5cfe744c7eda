package app

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

// unsetEnv removes keys for the test so envconfig defaults apply.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	unsetEnv(t, "STORE_DRIVER", "JWT_TTL", "DATATABLE_STATE_TTL", "ARCHIVE_CRON", "APP_ENV")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
	assert.Equal(t, 720*time.Hour, cfg.DataTableStateTTL)
	assert.Equal(t, "0 3 * * *", cfg.ArchiveCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFileStore(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("DATA_FILE", "/tmp/taskdesk.json")
	t.Setenv("DATATABLE_STATE_TTL", "2h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.StoreDriver)
	assert.Equal(t, "/tmp/taskdesk.json", cfg.DataFile)
	assert.Equal(t, 2*time.Hour, cfg.DataTableStateTTL)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("unknown driver", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("STORE_DRIVER", "mongo")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestIsProduction(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.IsProduction())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}
