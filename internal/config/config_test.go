package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "docqueue.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.Visibility)
	assert.Zero(t, cfg.Delay)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll)
	assert.Equal(t, "@every 1h", cfg.PurgeSchedule)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOCQUEUE_STORE", "mongo")
	t.Setenv("DOCQUEUE_MONGO_URI", "mongodb://db:27017")
	t.Setenv("DOCQUEUE_VISIBILITY", "1m")
	t.Setenv("DOCQUEUE_DEAD_LETTER_SUFFIX", "-dead")
	t.Setenv("DOCQUEUE_MAX_RETRIES", "2")
	t.Setenv("DOCQUEUE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	q := cfg.Queues()
	assert.Equal(t, time.Minute, q.Visibility)
	assert.Equal(t, "-dead", q.DeadLetterSuffix)
	assert.Equal(t, 2, q.MaxRetries)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"DOCQUEUE_STORE":          "redis",
		"DOCQUEUE_WORKERS":        "0",
		"DOCQUEUE_PURGE_SCHEDULE": "every now and then",
		"DOCQUEUE_LOG_LEVEL":      "loud",
		"DOCQUEUE_VISIBILITY":     "10ms",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestEmptyPurgeScheduleDisablesPurge(t *testing.T) {
	t.Setenv("DOCQUEUE_PURGE_SCHEDULE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.PurgeSchedule)
}
