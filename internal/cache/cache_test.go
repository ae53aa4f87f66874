// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/config"
	"github.com/priceflow/priceflow/internal/metrics"
)

type setCall struct {
	key   string
	value interface{}
	ttl   time.Duration
}

type fakeCommands struct {
	getVal   string
	getErr   error
	setErr   error
	delErr   error
	getCalls int
	setCalls []setCall
	delKeys  []string
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	f.getCalls++
	return redis.NewStringResult(f.getVal, f.getErr)
}

func (f *fakeCommands) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.setCalls = append(f.setCalls, setCall{key: key, value: value, ttl: ttl})
	return redis.NewStatusResult("OK", f.setErr)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.delKeys = append(f.delKeys, keys...)
	return redis.NewIntResult(1, f.delErr)
}

func newTestCache(client Commands) *AvgPriceCache {
	cfg := config.CacheConfig{
		ExpiryMinutes: 10,
		BreakerTrips:  3,
		BreakerReset:  time.Minute,
	}
	m := metrics.New(prometheus.NewRegistry())
	return New(client, cfg, m, zerolog.Nop())
}

func TestRead_Hit(t *testing.T) {
	f := &fakeCommands{getVal: "19.99"}
	c := newTestCache(f)

	got, ok := c.Read(context.Background(), 1)
	if !ok {
		t.Fatal("Read() ok = false, want hit")
	}
	if !got.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("Read() = %s, want 19.99", got)
	}
}

func TestRead_MissDoesNotTripBreaker(t *testing.T) {
	f := &fakeCommands{getErr: redis.Nil}
	c := newTestCache(f)

	for i := 0; i < 10; i++ {
		if _, ok := c.Read(context.Background(), 1); ok {
			t.Fatal("Read() ok = true on miss")
		}
	}
	if !c.Available() {
		t.Error("Available() = false after misses; misses must not open the breaker")
	}
	if f.getCalls != 10 {
		t.Errorf("getCalls = %d, want 10", f.getCalls)
	}
}

func TestRead_CorruptEntry(t *testing.T) {
	f := &fakeCommands{getVal: "not-a-decimal"}
	c := newTestCache(f)

	if _, ok := c.Read(context.Background(), 1); ok {
		t.Error("Read() ok = true for corrupt entry")
	}
}

func TestRead_FailuresOpenBreaker(t *testing.T) {
	f := &fakeCommands{getErr: errors.New("connection refused")}
	c := newTestCache(f)

	for i := 0; i < 3; i++ {
		c.Read(context.Background(), 1)
	}
	if c.Available() {
		t.Fatal("Available() = true after consecutive failures, want open breaker")
	}

	// Open breaker short-circuits: the client is no longer called.
	calls := f.getCalls
	if _, ok := c.Read(context.Background(), 1); ok {
		t.Error("Read() ok = true while breaker open")
	}
	if f.getCalls != calls {
		t.Errorf("client called %d more times while breaker open", f.getCalls-calls)
	}
}

func TestWrite_DefinedAverage(t *testing.T) {
	f := &fakeCommands{}
	c := newTestCache(f)

	avg := decimal.NullDecimal{Decimal: decimal.RequireFromString("20.00"), Valid: true}
	c.Write(context.Background(), 42, avg)

	if len(f.setCalls) != 1 {
		t.Fatalf("setCalls = %d, want 1", len(f.setCalls))
	}
	call := f.setCalls[0]
	if call.key != "avg_price:42" {
		t.Errorf("key = %q, want avg_price:42", call.key)
	}
	if call.value != "20" {
		t.Errorf("value = %v, want 20", call.value)
	}
	if call.ttl != 10*time.Minute {
		t.Errorf("ttl = %s, want 10m", call.ttl)
	}
}

func TestWrite_UndefinedAverageInvalidates(t *testing.T) {
	f := &fakeCommands{}
	c := newTestCache(f)

	c.Write(context.Background(), 42, decimal.NullDecimal{})

	if len(f.setCalls) != 0 {
		t.Errorf("setCalls = %d, want 0", len(f.setCalls))
	}
	if len(f.delKeys) != 1 || f.delKeys[0] != "avg_price:42" {
		t.Errorf("delKeys = %v, want [avg_price:42]", f.delKeys)
	}
}

func TestWrite_ErrorIsSwallowed(t *testing.T) {
	f := &fakeCommands{setErr: errors.New("connection refused")}
	c := newTestCache(f)

	// Must not panic or propagate.
	avg := decimal.NullDecimal{Decimal: decimal.NewFromInt(5), Valid: true}
	c.Write(context.Background(), 1, avg)
}
