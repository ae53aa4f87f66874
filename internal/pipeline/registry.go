// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/metrics"
)

// ManagedConsumer is what the registry holds: anything that can be
// stopped with a drain window. *BatchConsumer satisfies it.
type ManagedConsumer interface {
	Stop(drainTimeout time.Duration)
}

// ConsumerFactory builds and starts one consumer. The registry assigns
// monotonically increasing ids; they appear in logs only.
type ConsumerFactory func(ctx context.Context, id int) (ManagedConsumer, error)

// Registry owns the set of running consumers. All mutation goes through
// the mutex; the scaler and the shutdown path are the only callers.
type Registry struct {
	mu           sync.Mutex
	consumers    []ManagedConsumer
	nextID       int
	factory      ConsumerFactory
	min          int
	drainTimeout time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewRegistry builds an empty registry. min is the floor Resize never
// shrinks below.
func NewRegistry(factory ConsumerFactory, min int, drainTimeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Registry {
	return &Registry{
		factory:      factory,
		min:          min,
		drainTimeout: drainTimeout,
		metrics:      m,
		log:          log.With().Str("component", "registry").Logger(),
	}
}

// Len reports the number of running consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumers)
}

// Resize grows or shrinks the consumer set toward desired. Growth that
// fails partway keeps the consumers already started and returns the
// error. Shrinking stops the most recently added consumers first and
// never goes below the configured minimum.
func (r *Registry) Resize(ctx context.Context, desired int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.consumers) < desired {
		c, err := r.factory(ctx, r.nextID)
		if err != nil {
			r.metrics.ActiveConsumers.Set(float64(len(r.consumers)))
			return err
		}
		r.log.Info().Int("consumer_id", r.nextID).Msg("consumer added")
		r.nextID++
		r.consumers = append(r.consumers, c)
	}

	for len(r.consumers) > desired && len(r.consumers) > r.min {
		last := len(r.consumers) - 1
		c := r.consumers[last]
		r.consumers = r.consumers[:last]
		c.Stop(r.drainTimeout)
		r.log.Info().Int("remaining", len(r.consumers)).Msg("consumer removed")
	}

	r.metrics.ActiveConsumers.Set(float64(len(r.consumers)))
	return nil
}

// StopAll stops every consumer, newest first, and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.consumers) - 1; i >= 0; i-- {
		r.consumers[i].Stop(r.drainTimeout)
	}
	r.consumers = nil
	r.metrics.ActiveConsumers.Set(0)
	r.log.Info().Msg("all consumers stopped")
}
