package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Segmenter.SilenceTimeout)
	assert.Equal(t, 42, cfg.Segmenter.MinSegmentFrames)
	assert.Equal(t, 500, cfg.Segmenter.MaxSegmentFrames)
	assert.Equal(t, 15*time.Second, cfg.Dispatcher.ProviderTimeout)
	assert.Equal(t, 3, cfg.Playback.PreBufferFrames)
	assert.Equal(t, DefaultEndPrompt, cfg.Session.EndPrompt.Prompt)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
auth:
  jwt_secret: from-file
segmenter:
  silence_timeout: 2s
  min_segment_frames: 30
session:
  idle_timeout: 90s
  wakeup_words: ["hey"]
logging:
  level: debug
  format: console
`)
	t.Setenv("PORT", "9100")
	t.Setenv("SERVER_SECRET", "shh")
	t.Setenv("MAX_OUTPUT_SIZE", "5000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "shh", cfg.Server.Secret)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.Segmenter.SilenceTimeout)
	assert.Equal(t, 30, cfg.Segmenter.MinSegmentFrames)
	// Unset fields keep their defaults.
	assert.Equal(t, 10, cfg.Segmenter.PrerollFrames)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, []string{"hey"}, cfg.Session.WakeupWords)
	assert.Equal(t, 5000, cfg.Session.MaxOutputSize)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"invalid port", func(c *Config) { c.Server.Port = "70000" }},
		{"bad audio format", func(c *Config) { c.Audio.Format = "mp3" }},
		{"inconsistent segmenter", func(c *Config) { c.Segmenter.MaxSegmentFrames = 10 }},
		{"zero provider timeout", func(c *Config) { c.Dispatcher.ProviderTimeout = 0 }},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }},
		{"gemini without key", func(c *Config) { c.Providers.LLM.Type = "gemini" }},
		{"unknown stt", func(c *Config) { c.Providers.STT.Type = "whisper" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestManager_Reload(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	path := writeConfig(t, "session:\n  idle_timeout: 60s\n")

	m, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, m.Get().Session.IdleTimeout)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  idle_timeout: 30s\n"), 0o600))
	require.NoError(t, m.Reload())
	assert.Equal(t, 30*time.Second, m.Get().Session.IdleTimeout)

	// An invalid file keeps the previous configuration.
	require.NoError(t, os.WriteFile(path, []byte("session:\n  idle_timeout: -1s\n"), 0o600))
	assert.Error(t, m.Reload())
	assert.Equal(t, 30*time.Second, m.Get().Session.IdleTimeout)
}
