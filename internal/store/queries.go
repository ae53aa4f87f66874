// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package store

// Schema creates the tables the store operates on. Production deployments
// run migrations externally; this DDL is idempotent and used by
// integration tests and first-boot convenience.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
    product_id BIGINT PRIMARY KEY,
    name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_price (
    product_id        BIGINT        NOT NULL,
    manufacturer_name TEXT          NOT NULL,
    price             NUMERIC(18,4) NOT NULL,
    updated_at        TIMESTAMPTZ   NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (product_id, manufacturer_name)
);

CREATE TABLE IF NOT EXISTS product_avg_price (
    product_id       BIGINT PRIMARY KEY,
    avg_price        NUMERIC(18,4),
    total_sum_prices NUMERIC(18,4) NOT NULL DEFAULT 0,
    offer_count      BIGINT        NOT NULL DEFAULT 0,
    updated_at       TIMESTAMPTZ   NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const upsertProductSQL = `
INSERT INTO products (product_id, name)
VALUES ($1, $2)
ON CONFLICT (product_id) DO NOTHING`

const selectVendorPriceSQL = `
SELECT price::text FROM product_price
WHERE product_id = $1 AND manufacturer_name = $2`

const upsertVendorPriceSQL = `
INSERT INTO product_price (product_id, manufacturer_name, price, updated_at)
VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
ON CONFLICT (product_id, manufacturer_name)
DO UPDATE SET price = EXCLUDED.price, updated_at = CURRENT_TIMESTAMP`

// mergeAggregateSQL applies an additive delta to the aggregate row in one
// statement. Concurrent transactions for the same product contend only
// here, and because each contributes a commutative delta applied atomically,
// no update is lost regardless of commit order. The average is recomputed
// from the post-increment totals inside the same statement; a zero offer
// count leaves it NULL.
const mergeAggregateSQL = `
INSERT INTO product_avg_price (product_id, avg_price, total_sum_prices, offer_count, updated_at)
VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
ON CONFLICT (product_id)
DO UPDATE SET
    total_sum_prices = product_avg_price.total_sum_prices + EXCLUDED.total_sum_prices,
    offer_count      = product_avg_price.offer_count + EXCLUDED.offer_count,
    avg_price        = CASE
                           WHEN (product_avg_price.offer_count + EXCLUDED.offer_count) = 0 THEN NULL
                           ELSE (product_avg_price.total_sum_prices + EXCLUDED.total_sum_prices)
                                / (product_avg_price.offer_count + EXCLUDED.offer_count)
                       END,
    updated_at       = CURRENT_TIMESTAMP
RETURNING avg_price::text`

const selectStoredAvgSQL = `
SELECT avg_price::text FROM product_avg_price WHERE product_id = $1`
