//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package config loads the memory service configuration from a YAML file
// with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Model      ModelConfig      `yaml:"model"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// CORSAllowedOrigins is the list of allowed origins. Empty allows all.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// ModelConfig configures the generation model.
type ModelConfig struct {
	// Name is the OpenAI-compatible model name.
	Name string `yaml:"name"`
	// BaseURL overrides the API endpoint; OPENAI_BASE_URL wins over it.
	BaseURL string `yaml:"base_url"`
}

// SummarizerConfig configures summarization triggers and workers.
type SummarizerConfig struct {
	RoundThreshold int `yaml:"round_threshold"`
	TokenThreshold int `yaml:"token_threshold"`
	KeepRecent     int `yaml:"keep_recent"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	AsyncWorkers   int `yaml:"async_workers"`
	QueueSize      int `yaml:"queue_size"`
}

// Timeout returns the generation timeout.
func (c SummarizerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	WindowDays      int `yaml:"window_days"`
	MaxChars        int `yaml:"max_chars"`
	MaxEntries      int `yaml:"max_entries"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the context cache TTL.
func (c RetrievalConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// PostgresConfig configures persistent storage. An empty ConnString keeps
// everything in memory.
type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
}

// RedisConfig configures the context cache. An empty URL disables caching.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TelemetryConfig configures OTLP export. Disabled by default; the telemetry
// API stays no-op when off.
type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TracesEndpoint  string `yaml:"traces_endpoint"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
		Model:  ModelConfig{Name: "gpt-4o-mini"},
		Summarizer: SummarizerConfig{
			RoundThreshold: 10,
			TokenThreshold: 4000,
			KeepRecent:     5,
			TimeoutSeconds: 10,
			AsyncWorkers:   3,
			QueueSize:      100,
		},
		Retrieval: RetrievalConfig{
			WindowDays:      7,
			MaxChars:        4000,
			MaxEntries:      20,
			CacheTTLSeconds: 300,
		},
	}
}

// Load reads the configuration file and applies environment overrides. An
// empty path loads defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables, so deployments
// can keep secrets and endpoints out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MEMORY_LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MEMORY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MEMORY_MODEL_NAME"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("MEMORY_POSTGRES_DSN"); v != "" {
		c.Postgres.ConnString = v
	}
	if v := os.Getenv("MEMORY_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Summarizer.RoundThreshold <= 0 {
		return fmt.Errorf("summarizer.round_threshold must be positive, got %d", c.Summarizer.RoundThreshold)
	}
	if c.Summarizer.TokenThreshold <= 0 {
		return fmt.Errorf("summarizer.token_threshold must be positive, got %d", c.Summarizer.TokenThreshold)
	}
	if c.Summarizer.KeepRecent < 0 {
		return fmt.Errorf("summarizer.keep_recent must not be negative, got %d", c.Summarizer.KeepRecent)
	}
	if c.Retrieval.WindowDays <= 0 {
		return fmt.Errorf("retrieval.window_days must be positive, got %d", c.Retrieval.WindowDays)
	}
	if c.Retrieval.MaxChars <= 0 {
		return fmt.Errorf("retrieval.max_chars must be positive, got %d", c.Retrieval.MaxChars)
	}
	return nil
}
