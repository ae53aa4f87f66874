// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/config"
	"github.com/priceflow/priceflow/internal/metrics"
)

// QueueDepthFunc samples the pending-message count of the raw queue.
type QueueDepthFunc func(ctx context.Context) (uint64, error)

// ConsumerSet is the slice of the registry the scaler drives.
type ConsumerSet interface {
	Resize(ctx context.Context, desired int) error
	Len() int
}

// Scaler periodically samples queue depth and resizes the consumer set.
// One extra consumer per full threshold of backlog, clamped to the
// configured bounds. A failed depth sample skips the cycle; the set is
// never resized on stale or missing data.
type Scaler struct {
	set     ConsumerSet
	depth   QueueDepthFunc
	cfg     config.ScalerConfig
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewScaler builds a scaler over the given consumer set and depth source.
func NewScaler(set ConsumerSet, depth QueueDepthFunc, cfg config.ScalerConfig, m *metrics.Metrics, log zerolog.Logger) *Scaler {
	return &Scaler{
		set:     set,
		depth:   depth,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "scaler").Logger(),
	}
}

// Desired maps a queue depth to a consumer count within bounds.
func (s *Scaler) Desired(depth uint64) int {
	desired := int(depth)/s.cfg.QueueSizeThreshold + 1
	if desired < s.cfg.MinConsumers {
		desired = s.cfg.MinConsumers
	}
	if desired > s.cfg.MaxConsumers {
		desired = s.cfg.MaxConsumers
	}
	return desired
}

// Run evaluates one scaling cycle per interval until ctx is canceled.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().
		Int("min", s.cfg.MinConsumers).
		Int("max", s.cfg.MaxConsumers).
		Int("threshold", s.cfg.QueueSizeThreshold).
		Dur("interval", s.cfg.Interval).
		Msg("scaler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scaler stopped")
			return
		case <-ticker.C:
			s.scale(ctx)
		}
	}
}

func (s *Scaler) scale(ctx context.Context) {
	depth, err := s.depth(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scaling skipped, queue depth unavailable")
		return
	}
	s.metrics.QueueDepth.Set(float64(depth))

	desired := s.Desired(depth)
	current := s.set.Len()
	if desired == current {
		return
	}

	if err := s.set.Resize(ctx, desired); err != nil {
		s.log.Error().Err(err).Int("desired", desired).Msg("scaling cycle failed")
		return
	}
	s.log.Info().
		Uint64("queue_depth", depth).
		Int("from", current).
		Int("to", desired).
		Msg("consumer set resized")
}
