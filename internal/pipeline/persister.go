// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/faults"
	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/model"
)

// AggregateApplier is the slice of the store the persister drives.
type AggregateApplier interface {
	ApplyUpdate(ctx context.Context, u model.PriceUpdate) (decimal.NullDecimal, error)
}

// RetryPolicy caps the attempts and backoff of the retrying persister.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingPersister applies one update against the store with bounded
// exponential backoff. Exhausting the budget, hitting a permanent error,
// or being canceled mid-backoff all surface as terminal failures the
// caller routes to the dead-letter queue.
type RetryingPersister struct {
	store   AggregateApplier
	policy  RetryPolicy
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRetryingPersister wraps store with the given retry policy.
func NewRetryingPersister(store AggregateApplier, policy RetryPolicy, m *metrics.Metrics, log zerolog.Logger) *RetryingPersister {
	return &RetryingPersister{
		store:   store,
		policy:  policy,
		metrics: m,
		log:     log.With().Str("component", "persister").Logger(),
	}
}

// Persist applies the update, retrying transient failures. Delays start at
// BaseDelay and double per attempt, capped at MaxDelay. The returned error
// is always permanent; it is never re-raised as retryable.
func (p *RetryingPersister) Persist(ctx context.Context, u model.PriceUpdate) (decimal.NullDecimal, error) {
	var lastErr error
	delay := p.policy.BaseDelay

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		avg, err := p.store.ApplyUpdate(ctx, u)
		if err == nil {
			return avg, nil
		}
		if faults.IsPermanent(err) {
			return decimal.NullDecimal{}, err
		}
		lastErr = err

		if attempt == p.policy.MaxAttempts {
			break
		}

		p.metrics.PersistRetries.Inc()
		p.log.Warn().Err(err).
			Int64("product_id", u.ProductID).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("persist failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return decimal.NullDecimal{}, faults.Permanent("persist interrupted during backoff", ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > p.policy.MaxDelay {
			delay = p.policy.MaxDelay
		}
	}

	return decimal.NullDecimal{}, faults.Permanent(
		fmt.Sprintf("persist failed after %d attempts", p.policy.MaxAttempts), lastErr)
}
