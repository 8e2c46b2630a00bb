package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeline-party/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.MinInterval)
	assert.Equal(t, "catalog", cfg.Tracks.Source)
	assert.Equal(t, domain.ArtistMatchOne, cfg.Game.ArtistMatchMode)
}

func TestLoadExpandsAndOverridesFromEnvironment(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "secret")
	t.Setenv("TIMELINE_REDIS_ADDR", "redis:6380")
	t.Setenv("TIMELINE_KAFKA_ENABLED", "true")
	t.Setenv("TIMELINE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TIMELINE_RETRY_MIN_INTERVAL", "25ms")

	cfg, err := Load(writeConfig(t, "redis:\n  addr: ignored:1\n  password: ${TEST_REDIS_PASSWORD}\n"))
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 25*time.Millisecond, cfg.Retry.MinInterval)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "tracks:\n  source: spotify\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "sync:\n  enabled: true\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "discord:\n  enabled: true\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "postgres:\n  enabled: true\ntracks:\n  source: postgres\n"))
	assert.NoError(t, err)
}

func TestGameConfigApply(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.Game.Apply(domain.GameSettings{PlaylistIDs: []string{"p"}, MaxTokens: 8})

	assert.Equal(t, 8, s.MaxTokens)
	assert.Equal(t, 2, s.InitialTokens)
	assert.Equal(t, 0.8, s.CreditsSimilarityThreshold)
	assert.NoError(t, s.Validate())
}
