// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package model defines the wire and domain types shared across the pipeline.
package model

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ErrEmptyBatch is returned when a batch payload decodes to zero updates.
// An empty batch carries no work and is treated the same as a malformed one.
var ErrEmptyBatch = errors.New("batch contains no price updates")

// PriceUpdate is a single vendor price submission for a product.
// Instances are immutable once decoded; they arrive as members of a batch.
type PriceUpdate struct {
	ProductID        int64           `json:"product_id"`
	ManufacturerName string          `json:"manufacturer_name"`
	Price            decimal.Decimal `json:"price"`
}

// String returns a compact representation for log output.
func (u PriceUpdate) String() string {
	return fmt.Sprintf("product_id=%d manufacturer=%q price=%s", u.ProductID, u.ManufacturerName, u.Price)
}

// ProductAggregate mirrors a product_avg_price row. AvgPrice is unset while
// OfferCount is zero.
type ProductAggregate struct {
	ProductID      int64               `json:"product_id"`
	AvgPrice       decimal.NullDecimal `json:"avg_price"`
	TotalSumPrices decimal.Decimal     `json:"total_sum_prices"`
	OfferCount     int64               `json:"offer_count"`
}

// Dead-letter stages, used as the reason label on DLQ payloads and metrics.
const (
	StageMalformed   = "malformed"
	StageValidation  = "validation"
	StagePersistence = "persistence"
)

// DeadLetterItem is the payload published for an update that reached a
// terminal failure. Reasons holds validator messages or the final error.
type DeadLetterItem struct {
	Update  PriceUpdate `json:"update"`
	Reasons []string    `json:"reasons"`
	Stage   string      `json:"stage"`
}

// DecodeBatch parses a raw broker payload into its price updates.
// The payload must be a non-empty JSON array; anything else is malformed.
func DecodeBatch(payload []byte) ([]PriceUpdate, error) {
	var updates []PriceUpdate
	if err := json.Unmarshal(payload, &updates); err != nil {
		return nil, fmt.Errorf("decode price update batch: %w", err)
	}
	if len(updates) == 0 {
		return nil, ErrEmptyBatch
	}
	return updates, nil
}

// EncodeDeadLetter marshals a dead-letter item for publishing.
func EncodeDeadLetter(item DeadLetterItem) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode dead-letter item: %w", err)
	}
	return data, nil
}
