//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Summarizer.RoundThreshold)
	assert.Equal(t, 4000, cfg.Summarizer.TokenThreshold)
	assert.Equal(t, 5, cfg.Summarizer.KeepRecent)
	assert.Equal(t, 10*time.Second, cfg.Summarizer.Timeout())
	assert.Equal(t, 7, cfg.Retrieval.WindowDays)
	assert.Equal(t, 5*time.Minute, cfg.Retrieval.CacheTTL())
	assert.Empty(t, cfg.Postgres.ConnString)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  cors_allowed_origins: ["https://app.example.com"]
model:
  name: gpt-4o
  base_url: https://llm.internal/v1
summarizer:
  round_threshold: 5
retrieval:
  window_days: 14
redis:
  url: redis://localhost:6379/0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, "https://llm.internal/v1", cfg.Model.BaseURL)
	assert.Equal(t, 5, cfg.Summarizer.RoundThreshold)
	assert.Equal(t, 14, cfg.Retrieval.WindowDays)
	// Values absent from the file keep their defaults.
	assert.Equal(t, 4000, cfg.Summarizer.TokenThreshold)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEMORY_LISTEN_ADDR", ":7070")
	t.Setenv("MEMORY_MODEL_NAME", "gpt-4.1")
	t.Setenv("OPENAI_BASE_URL", "https://gw.example.com/v1")
	t.Setenv("MEMORY_POSTGRES_DSN", "postgres://u:p@db:5432/memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "gpt-4.1", cfg.Model.Name)
	assert.Equal(t, "https://gw.example.com/v1", cfg.Model.BaseURL)
	assert.Equal(t, "postgres://u:p@db:5432/memory", cfg.Postgres.ConnString)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("summarizer:\n  round_threshold: -1\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "round_threshold")

	notYAML := filepath.Join(t.TempDir(), "not.yaml")
	require.NoError(t, os.WriteFile(notYAML, []byte("{{{"), 0o600))
	_, err = Load(notYAML)
	assert.Error(t, err)
}
