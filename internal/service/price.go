// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package service holds the request-facing use cases: submitting a raw
// batch for asynchronous processing and answering average-price reads.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/model"
)

// ErrInvalidProductID rejects non-positive product identifiers at the edge.
var ErrInvalidProductID = errors.New("product id must be positive")

// ErrNoAverage means the product has no defined average price: either no
// aggregate row exists or every offer has been retracted.
var ErrNoAverage = errors.New("no average price for product")

// ErrMalformedBatch rejects submissions that are not a non-empty JSON
// array of price updates.
var ErrMalformedBatch = errors.New("malformed price update batch")

// BatchPublisher submits a raw batch payload to the work queue.
// *broker.Broker satisfies it.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, payload []byte) error
}

// AverageCache is the cache-aside handle for average prices.
// *cache.AvgPriceCache satisfies it.
type AverageCache interface {
	Read(ctx context.Context, productID int64) (decimal.Decimal, bool)
	Write(ctx context.Context, productID int64, avg decimal.NullDecimal)
}

// AverageSource is the authoritative read of the stored average.
// *store.AggregateStore satisfies it.
type AverageSource interface {
	GetStoredAveragePrice(ctx context.Context, productID int64) (decimal.NullDecimal, bool, error)
}

// PriceService answers the two external operations: async batch intake
// and average-price reads through the cache-aside.
type PriceService struct {
	publisher BatchPublisher
	cache     AverageCache
	store     AverageSource
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New wires the service over its collaborators.
func New(publisher BatchPublisher, cache AverageCache, store AverageSource, m *metrics.Metrics, log zerolog.Logger) *PriceService {
	return &PriceService{
		publisher: publisher,
		cache:     cache,
		store:     store,
		metrics:   m,
		log:       log.With().Str("component", "service").Logger(),
	}
}

// SubmitBatch validates the payload's shape and publishes it to the work
// queue. It returns a correlation id once the broker has confirmed the
// publish; processing itself is asynchronous. Item-level validation is the
// pipeline's job, not the edge's: a well-formed batch with bad items is
// accepted here and its items dead-lettered downstream.
func (s *PriceService) SubmitBatch(ctx context.Context, payload []byte) (string, error) {
	if _, err := model.DecodeBatch(payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	if err := s.publisher.PublishBatch(ctx, payload); err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}

	correlationID := uuid.NewString()
	s.log.Info().Str("correlation_id", correlationID).Int("bytes", len(payload)).Msg("batch accepted")
	return correlationID, nil
}

// GetAveragePrice serves the average from the cache when possible and
// falls through to the store otherwise, repopulating the cache on the way
// back. ErrNoAverage is returned when the product has no defined average.
func (s *PriceService) GetAveragePrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if productID <= 0 {
		return decimal.Decimal{}, ErrInvalidProductID
	}

	if avg, ok := s.cache.Read(ctx, productID); ok {
		return avg, nil
	}

	avg, found, err := s.store.GetStoredAveragePrice(ctx, productID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read stored average: %w", err)
	}
	if !found || !avg.Valid {
		return decimal.Decimal{}, ErrNoAverage
	}

	s.cache.Write(ctx, productID, avg)
	return avg.Decimal, nil
}
