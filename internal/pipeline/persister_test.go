// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/faults"
	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/model"
)

type scriptedApplier struct {
	attempts int
	script   []error // error per attempt, nil means success
	avg      decimal.NullDecimal
}

func (s *scriptedApplier) ApplyUpdate(_ context.Context, _ model.PriceUpdate) (decimal.NullDecimal, error) {
	err := s.script[s.attempts]
	s.attempts++
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return s.avg, nil
}

func testUpdate() model.PriceUpdate {
	return model.PriceUpdate{ProductID: 1, ManufacturerName: "Acme", Price: decimal.NewFromInt(10)}
}

func newPersister(applier AggregateApplier, maxAttempts int) *RetryingPersister {
	return NewRetryingPersister(applier, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
}

func TestPersist_SucceedsFirstAttempt(t *testing.T) {
	want := decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true}
	applier := &scriptedApplier{script: []error{nil}, avg: want}
	p := newPersister(applier, 3)

	avg, err := p.Persist(context.Background(), testUpdate())
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if !avg.Valid || !avg.Decimal.Equal(want.Decimal) {
		t.Errorf("avg = %+v, want %+v", avg, want)
	}
	if applier.attempts != 1 {
		t.Errorf("attempts = %d, want 1", applier.attempts)
	}
}

func TestPersist_RetriesTransientThenSucceeds(t *testing.T) {
	transient := faults.Retryable("db down", errors.New("refused"))
	applier := &scriptedApplier{
		script: []error{transient, transient, nil},
		avg:    decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true},
	}
	p := newPersister(applier, 3)

	if _, err := p.Persist(context.Background(), testUpdate()); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if applier.attempts != 3 {
		t.Errorf("attempts = %d, want 3", applier.attempts)
	}
}

type timestampingApplier struct {
	times []time.Time
}

func (a *timestampingApplier) ApplyUpdate(_ context.Context, _ model.PriceUpdate) (decimal.NullDecimal, error) {
	a.times = append(a.times, time.Now())
	return decimal.NullDecimal{}, faults.Retryable("db down", errors.New("refused"))
}

func TestPersist_BackoffGrows(t *testing.T) {
	applier := &timestampingApplier{}
	p := NewRetryingPersister(applier, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    time.Second,
	}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())

	_, err := p.Persist(context.Background(), testUpdate())
	if err == nil {
		t.Fatal("Persist() error = nil")
	}
	if len(applier.times) != 3 {
		t.Fatalf("attempts = %d, want 3", len(applier.times))
	}

	first := applier.times[1].Sub(applier.times[0])
	second := applier.times[2].Sub(applier.times[1])
	if second < first {
		t.Errorf("second backoff %s shorter than first %s", second, first)
	}
}

func TestPersist_ExhaustsAttempts(t *testing.T) {
	transient := faults.Retryable("db down", errors.New("refused"))
	applier := &scriptedApplier{script: []error{transient, transient, transient}}
	p := newPersister(applier, 3)

	_, err := p.Persist(context.Background(), testUpdate())
	if err == nil {
		t.Fatal("Persist() error = nil after exhaustion")
	}
	if !faults.IsPermanent(err) {
		t.Errorf("exhaustion error is not permanent: %v", err)
	}
	if applier.attempts != 3 {
		t.Errorf("attempts = %d, want exactly 3", applier.attempts)
	}
}

func TestPersist_PermanentShortCircuits(t *testing.T) {
	perm := faults.Permanent("constraint violated", errors.New("boom"))
	applier := &scriptedApplier{script: []error{perm}}
	p := newPersister(applier, 3)

	_, err := p.Persist(context.Background(), testUpdate())
	if !faults.IsPermanent(err) {
		t.Fatalf("error = %v, want permanent", err)
	}
	if applier.attempts != 1 {
		t.Errorf("attempts = %d, want 1; permanent errors must not retry", applier.attempts)
	}
}

func TestPersist_CanceledDuringBackoff(t *testing.T) {
	transient := faults.Retryable("db down", errors.New("refused"))
	applier := &scriptedApplier{script: []error{transient, transient, transient}}
	p := NewRetryingPersister(applier, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Hour, // never elapses
		MaxDelay:    time.Hour,
	}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Persist(ctx, testUpdate())
	if time.Since(start) > time.Second {
		t.Fatal("Persist() did not return promptly on cancel")
	}
	if !faults.IsPermanent(err) {
		t.Errorf("error = %v, want permanent on cancel", err)
	}
	if applier.attempts != 1 {
		t.Errorf("attempts = %d, want 1", applier.attempts)
	}
}
