// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Broker.StreamName != "PRICE_UPDATES" {
		t.Errorf("Broker.StreamName = %q", cfg.Broker.StreamName)
	}
	if cfg.Broker.Prefetch != 50 {
		t.Errorf("Broker.Prefetch = %d, want 50", cfg.Broker.Prefetch)
	}
	if cfg.Broker.DeadLetterTTL != 12*time.Hour {
		t.Errorf("Broker.DeadLetterTTL = %s, want 12h", cfg.Broker.DeadLetterTTL)
	}
	if cfg.Pipeline.RetryMaxAttempts != 3 {
		t.Errorf("Pipeline.RetryMaxAttempts = %d, want 3", cfg.Pipeline.RetryMaxAttempts)
	}
	if cfg.Scaler.MinConsumers != 2 || cfg.Scaler.MaxConsumers != 10 {
		t.Errorf("Scaler bounds = %d..%d, want 2..10", cfg.Scaler.MinConsumers, cfg.Scaler.MaxConsumers)
	}
	if cfg.Scaler.QueueSizeThreshold != 1000 {
		t.Errorf("Scaler.QueueSizeThreshold = %d, want 1000", cfg.Scaler.QueueSizeThreshold)
	}
	if cfg.Cache.ExpiryMinutes != 10 {
		t.Errorf("Cache.ExpiryMinutes = %d, want 10", cfg.Cache.ExpiryMinutes)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRICEFLOW_SERVER__PORT", "9090")
	t.Setenv("PRICEFLOW_BROKER__URL", "nats://broker.internal:4222")
	t.Setenv("PRICEFLOW_SCALER__MAX_CONSUMERS", "25")
	t.Setenv("PRICEFLOW_LOGGING__LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Broker.URL != "nats://broker.internal:4222" {
		t.Errorf("Broker.URL = %q", cfg.Broker.URL)
	}
	if cfg.Scaler.MaxConsumers != 25 {
		t.Errorf("Scaler.MaxConsumers = %d, want 25", cfg.Scaler.MaxConsumers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 7070\ncache:\n  expiry_minutes: 30\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Cache.ExpiryMinutes != 30 {
		t.Errorf("Cache.ExpiryMinutes = %d, want 30", cfg.Cache.ExpiryMinutes)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PRICEFLOW_SERVER__PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want env override 6060", cfg.Server.Port)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"missing broker url", func(c *Config) { c.Broker.URL = "" }},
		{"zero prefetch", func(c *Config) { c.Broker.Prefetch = 0 }},
		{"missing database url", func(c *Config) { c.Database.URL = "" }},
		{"missing cache addr", func(c *Config) { c.Cache.Addr = "" }},
		{"zero cache expiry", func(c *Config) { c.Cache.ExpiryMinutes = 0 }},
		{"zero retry attempts", func(c *Config) { c.Pipeline.RetryMaxAttempts = 0 }},
		{"zero validation workers", func(c *Config) { c.Pipeline.ValidationWorkers = 0 }},
		{"zero min consumers", func(c *Config) { c.Scaler.MinConsumers = 0 }},
		{"max below min", func(c *Config) { c.Scaler.MaxConsumers = 1 }},
		{"zero threshold", func(c *Config) { c.Scaler.QueueSizeThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestCacheConfig_Expiry(t *testing.T) {
	c := CacheConfig{ExpiryMinutes: 10}
	if got := c.Expiry(); got != 10*time.Minute {
		t.Errorf("Expiry() = %s, want 10m", got)
	}
}
