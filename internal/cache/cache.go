// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package cache is the best-effort average-price accelerator.
//
// It is a cache-aside: populated on read miss and after successful
// persistence, invalidated when a product loses its average. It is never
// authoritative, and none of its failures may fail a request or an update.
// A circuit breaker stands in for the availability flag: after repeated
// connectivity failures the breaker opens, reads and writes fall through
// immediately, and half-open probes restore service when Redis recovers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/priceflow/priceflow/internal/config"
	"github.com/priceflow/priceflow/internal/metrics"
)

// Commands is the subset of the go-redis client the cache uses.
// *redis.Client satisfies it.
type Commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AvgPriceCache stores string-encoded decimal averages under
// avg_price:<productId> with a configurable expiry.
type AvgPriceCache struct {
	client  Commands
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[string]
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds the cache around an existing Redis client.
func New(client Commands, cfg config.CacheConfig, m *metrics.Metrics, log zerolog.Logger) *AvgPriceCache {
	settings := gobreaker.Settings{
		Name:    "avg-price-cache",
		Timeout: cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerTrips
		},
	}
	c := &AvgPriceCache{
		client:  client,
		ttl:     cfg.Expiry(),
		metrics: m,
		log:     log.With().Str("component", "cache").Logger(),
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("cache breaker state changed")
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](settings)
	return c
}

// Read returns the cached average for a product. ok is false on a miss,
// a connectivity failure, or while the breaker is open; the caller must
// then consult the store and repopulate with Write.
func (c *AvgPriceCache) Read(ctx context.Context, productID int64) (decimal.Decimal, bool) {
	val, err := c.breaker.Execute(func() (string, error) {
		v, err := c.client.Get(ctx, c.key(productID)).Result()
		if errors.Is(err, redis.Nil) {
			// A miss is not a cache failure.
			return "", nil
		}
		return v, err
	})
	if err != nil {
		c.log.Debug().Err(err).Int64("product_id", productID).Msg("cache read unavailable")
		c.metrics.CacheMisses.Inc()
		return decimal.Decimal{}, false
	}
	if val == "" {
		c.metrics.CacheMisses.Inc()
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		c.log.Warn().Err(err).Int64("product_id", productID).Str("value", val).Msg("corrupt cache entry")
		c.metrics.CacheMisses.Inc()
		return decimal.Decimal{}, false
	}
	c.metrics.CacheHits.Inc()
	return d, true
}

// Write stores a defined average with the configured expiry, or deletes
// the entry when the average is undefined. Errors are swallowed and
// logged; the store remains the source of truth either way.
func (c *AvgPriceCache) Write(ctx context.Context, productID int64, avg decimal.NullDecimal) {
	_, err := c.breaker.Execute(func() (string, error) {
		if !avg.Valid {
			return "", c.client.Del(ctx, c.key(productID)).Err()
		}
		return "", c.client.Set(ctx, c.key(productID), avg.Decimal.String(), c.ttl).Err()
	})
	if err != nil {
		c.log.Warn().Err(err).Int64("product_id", productID).Msg("cache write failed")
	}
}

// Available reports whether the cache is currently accepting operations.
// Transient staleness is fine; this only gates an optimization.
func (c *AvgPriceCache) Available() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

func (c *AvgPriceCache) key(productID int64) string {
	return fmt.Sprintf("avg_price:%d", productID)
}
