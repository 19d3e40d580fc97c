package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.Groq.APIKey = "test-key"
	cfg.Storage.TempDir = t.TempDir()
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 1, cfg.Auth.MaxConnections)
	assert.Equal(t, 16000, cfg.Audio.ChunkSizeBytes)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 5, cfg.Audio.SeqTolerance)
	assert.Equal(t, 4, cfg.Audio.AckInterval)
	assert.Equal(t, int64(100), cfg.Storage.MaxSessionDiskMB)
	assert.Equal(t, 30, cfg.Session.GraceSec)
	assert.Equal(t, 2, cfg.Session.MaxRerecordAttempts)
	assert.Equal(t, 10, cfg.Session.MaxHistoryTurns)
	assert.Equal(t, 300, cfg.TTS.DownloadExpirySec)
	assert.Equal(t, 10, cfg.TTS.PacingDelayMs)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WS_TOKEN", "custom-token")
	t.Setenv("CHUNK_SIZE_BYTES", "8000")
	t.Setenv("MAX_SESSION_DISK_MB", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "custom-token", cfg.Auth.Token)
	assert.Equal(t, 8000, cfg.Audio.ChunkSizeBytes)
	assert.Equal(t, int64(50), cfg.Storage.MaxSessionDiskMB)
}

func TestLoadDefaultsWithoutEnvironment(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16000, cfg.Audio.ChunkSizeBytes)
	assert.Equal(t, "en", cfg.Groq.Language)
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig(t)
	assert.Empty(t, cfg.Validate())
}

func TestValidate_ChunkSizeBounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Audio.ChunkSizeBytes = 0
	assert.NotEmpty(t, cfg.Validate())

	cfg.Audio.ChunkSizeBytes = 2 * 1024 * 1024
	assert.NotEmpty(t, cfg.Validate())
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.Groq.APIKey = ""

	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "GROQ_API_KEY")
}

func TestValidate_MaxConnections(t *testing.T) {
	cfg := validConfig(t)
	cfg.Auth.MaxConnections = 0
	assert.NotEmpty(t, cfg.Validate())
}

func TestValidate_CreatesTempDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.TempDir = filepath.Join(t.TempDir(), "nested", "temp")

	assert.Empty(t, cfg.Validate())
	assert.DirExists(t, cfg.Storage.TempDir)
}
