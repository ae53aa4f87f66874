// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package store persists vendor prices and product aggregates in Postgres.
//
// The aggregate is maintained with an additive delta merge executed as a
// single atomic statement; the store never reads the aggregate row and
// writes a recomputed total back, which would lose updates under
// concurrency.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/faults"
	"github.com/priceflow/priceflow/internal/model"
)

// Products are created lazily on first submission; the catalog name is an
// external concern.
const placeholderProductName = "Unknown Product Name"

// AggregateStore is the sole writer of vendor prices and product
// aggregates. Safe for concurrent use; the pool is shared process-wide.
type AggregateStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New returns a store backed by the given connection pool.
func New(pool *pgxpool.Pool, log zerolog.Logger) *AggregateStore {
	return &AggregateStore{
		pool: pool,
		log:  log.With().Str("component", "store").Logger(),
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *AggregateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ApplyUpdate records a vendor's price and merges its delta into the
// product aggregate as one atomic unit of work. It returns the new average
// price. Any failure rolls the whole transaction back; partial writes are
// never observable. Errors are retryable: storage failures here are
// transient from the pipeline's point of view.
func (s *AggregateStore) ApplyUpdate(ctx context.Context, u model.PriceUpdate) (decimal.NullDecimal, error) {
	var zero decimal.NullDecimal

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return zero, faults.Retryable("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, upsertProductSQL, u.ProductID, placeholderProductName); err != nil {
		return zero, faults.Retryable("upsert product", err)
	}

	oldPrice, hasOld, err := vendorPrice(ctx, tx, u.ProductID, u.ManufacturerName)
	if err != nil {
		return zero, err
	}

	if _, err := tx.Exec(ctx, upsertVendorPriceSQL, u.ProductID, u.ManufacturerName, u.Price.String()); err != nil {
		return zero, faults.Retryable("upsert vendor price", err)
	}

	deltaSum, deltaCount := aggregateDelta(oldPrice, hasOld, u.Price)

	// The initial avg only matters on the insert path, where the row is
	// new and the delta is the whole aggregate.
	var initialAvg *string
	if deltaCount > 0 {
		v := deltaSum.Div(decimal.NewFromInt(deltaCount)).String()
		initialAvg = &v
	}

	var avgText *string
	err = tx.QueryRow(ctx, mergeAggregateSQL, u.ProductID, initialAvg, deltaSum.String(), deltaCount).Scan(&avgText)
	if err != nil {
		return zero, faults.Retryable("merge aggregate", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, faults.Retryable("commit transaction", err)
	}

	avg, err := parseNullDecimal(avgText)
	if err != nil {
		return zero, faults.Retryable("parse merged average", err)
	}

	s.log.Debug().
		Int64("product_id", u.ProductID).
		Str("manufacturer", u.ManufacturerName).
		Str("delta_sum", deltaSum.String()).
		Int64("delta_count", deltaCount).
		Msg("applied price update")
	return avg, nil
}

// GetStoredAveragePrice reads the persisted average for a product.
// found is false when the product has no aggregate row at all.
func (s *AggregateStore) GetStoredAveragePrice(ctx context.Context, productID int64) (avg decimal.NullDecimal, found bool, err error) {
	var avgText *string
	err = s.pool.QueryRow(ctx, selectStoredAvgSQL, productID).Scan(&avgText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, false, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, false, faults.Retryable("select stored average", err)
	}
	avg, err = parseNullDecimal(avgText)
	if err != nil {
		return decimal.NullDecimal{}, false, faults.Retryable("parse stored average", err)
	}
	return avg, true, nil
}

func vendorPrice(ctx context.Context, tx pgx.Tx, productID int64, manufacturer string) (decimal.Decimal, bool, error) {
	var priceText string
	err := tx.QueryRow(ctx, selectVendorPriceSQL, productID, manufacturer).Scan(&priceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, faults.Retryable("select vendor price", err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return decimal.Decimal{}, false, faults.Retryable("parse vendor price", err)
	}
	return price, true, nil
}

// aggregateDelta computes the additive contribution of a submission.
// A new vendor adds its full price and one offer; a re-submission shifts
// the sum by the difference and leaves the offer count alone, so applying
// the same price twice yields a zero delta.
func aggregateDelta(oldPrice decimal.Decimal, hasOld bool, newPrice decimal.Decimal) (deltaSum decimal.Decimal, deltaCount int64) {
	if hasOld {
		return newPrice.Sub(oldPrice), 0
	}
	return newPrice, 1
}

func parseNullDecimal(text *string) (decimal.NullDecimal, error) {
	if text == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*text)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
