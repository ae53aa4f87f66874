// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package config loads layered application configuration:
// built-in defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/priceflow/priceflow/internal/logging"
)

// Config holds all application configuration. Immutable after Load and safe
// for concurrent reads.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Broker   BrokerConfig   `koanf:"broker"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Scaler   ScalerConfig   `koanf:"scaler"`
	Logging  logging.Config `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BrokerConfig holds NATS JetStream settings. The raw stream is a
// work-queue stream; the DLQ stream ages entries out after DeadLetterTTL.
type BrokerConfig struct {
	URL            string        `koanf:"url"`
	StreamName     string        `koanf:"stream_name"`
	RawSubject     string        `koanf:"raw_subject"`
	DLQStreamName  string        `koanf:"dlq_stream_name"`
	DLQSubject     string        `koanf:"dlq_subject"`
	DurableName    string        `koanf:"durable_name"`
	DLQDurableName string        `koanf:"dlq_durable_name"`
	Prefetch       int           `koanf:"prefetch"`
	AckWait        time.Duration `koanf:"ack_wait"`
	MaxDeliver     int           `koanf:"max_deliver"`
	ConfirmTimeout time.Duration `koanf:"confirm_timeout"`
	DeadLetterTTL  time.Duration `koanf:"dead_letter_ttl"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

// CacheConfig holds Redis and circuit-breaker settings for the
// average-price cache.
type CacheConfig struct {
	Addr          string        `koanf:"addr"`
	Password      string        `koanf:"password"`
	DB            int           `koanf:"db"`
	ExpiryMinutes int           `koanf:"expiry_minutes"`
	BreakerTrips  uint32        `koanf:"breaker_trips"`
	BreakerReset  time.Duration `koanf:"breaker_reset"`
}

// Expiry returns the cache TTL as a duration.
func (c CacheConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryMinutes) * time.Minute
}

// PipelineConfig sizes the worker pools and the persistence retry policy.
// The validation pool is CPU-bound and small; the persist pool covers many
// concurrent blocking storage calls.
type PipelineConfig struct {
	ValidationWorkers int           `koanf:"validation_workers"`
	ValidationQueue   int           `koanf:"validation_queue"`
	PersistWorkers    int           `koanf:"persist_workers"`
	PersistQueue      int           `koanf:"persist_queue"`
	RetryMaxAttempts  int           `koanf:"retry_max_attempts"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`
	DrainTimeout      time.Duration `koanf:"drain_timeout"`
}

// ScalerConfig drives the consumer autoscaler.
type ScalerConfig struct {
	MinConsumers       int           `koanf:"min_consumers"`
	MaxConsumers       int           `koanf:"max_consumers"`
	QueueSizeThreshold int           `koanf:"queue_size_threshold"`
	Interval           time.Duration `koanf:"interval"`
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Broker.Prefetch <= 0 {
		return fmt.Errorf("broker.prefetch must be positive, got %d", c.Broker.Prefetch)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required")
	}
	if c.Cache.ExpiryMinutes <= 0 {
		return fmt.Errorf("cache.expiry_minutes must be positive, got %d", c.Cache.ExpiryMinutes)
	}
	if c.Pipeline.RetryMaxAttempts <= 0 {
		return fmt.Errorf("pipeline.retry_max_attempts must be positive, got %d", c.Pipeline.RetryMaxAttempts)
	}
	if c.Pipeline.ValidationWorkers <= 0 || c.Pipeline.PersistWorkers <= 0 {
		return fmt.Errorf("pipeline worker pool sizes must be positive")
	}
	if c.Scaler.MinConsumers <= 0 {
		return fmt.Errorf("scaler.min_consumers must be positive, got %d", c.Scaler.MinConsumers)
	}
	if c.Scaler.MaxConsumers < c.Scaler.MinConsumers {
		return fmt.Errorf("scaler.max_consumers (%d) below scaler.min_consumers (%d)",
			c.Scaler.MaxConsumers, c.Scaler.MinConsumers)
	}
	if c.Scaler.QueueSizeThreshold <= 0 {
		return fmt.Errorf("scaler.queue_size_threshold must be positive, got %d", c.Scaler.QueueSizeThreshold)
	}
	return nil
}
