// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package api exposes the HTTP surface: batch intake, average-price reads,
// health, and metrics.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/service"
)

// Submissions larger than this are rejected outright; a batch this size
// belongs on a direct broker connection, not the HTTP edge.
const maxBatchBytes = 4 << 20

// PriceReader answers average-price lookups. *service.PriceService
// satisfies it.
type PriceReader interface {
	GetAveragePrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// BatchSubmitter accepts a raw batch for asynchronous processing.
// *service.PriceService satisfies it.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, payload []byte) (string, error)
}

// Handlers carries the dependencies of the HTTP endpoints.
type Handlers struct {
	reader    PriceReader
	submitter BatchSubmitter
	log       zerolog.Logger
}

// NewHandlers builds the endpoint set.
func NewHandlers(reader PriceReader, submitter BatchSubmitter, log zerolog.Logger) *Handlers {
	return &Handlers{
		reader:    reader,
		submitter: submitter,
		log:       log.With().Str("component", "api").Logger(),
	}
}

type acceptedResponse struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type averageResponse struct {
	ProductID    int64  `json:"product_id"`
	AveragePrice string `json:"average_price"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitBatch handles POST /price-updates. A well-formed batch is
// published to the work queue and acknowledged with 202 and a correlation
// id; per-item outcomes surface through the dead-letter queue, not here.
func (h *Handlers) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read request body"})
		return
	}
	if len(payload) > maxBatchBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "batch exceeds size limit"})
		return
	}

	correlationID, err := h.submitter.SubmitBatch(r.Context(), payload)
	if err != nil {
		if errors.Is(err, service.ErrMalformedBatch) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be a non-empty JSON array of price updates"})
			return
		}
		h.log.Error().Err(err).Msg("batch submission failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unable to enqueue batch"})
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{CorrelationID: correlationID, Status: "accepted"})
}

// GetAveragePrice handles GET /average-price/{productID}.
func (h *Handlers) GetAveragePrice(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "product id must be an integer"})
		return
	}

	avg, err := h.reader.GetAveragePrice(r.Context(), productID)
	switch {
	case errors.Is(err, service.ErrInvalidProductID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "product id must be positive"})
	case errors.Is(err, service.ErrNoAverage):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no average price for product"})
	case err != nil:
		h.log.Error().Err(err).Int64("product_id", productID).Msg("average price lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
	default:
		writeJSON(w, http.StatusOK, averageResponse{ProductID: productID, AveragePrice: avg.String()})
	}
}

// Health handles GET /health. It reports liveness only; dependency
// failures degrade the pipeline without making the process unhealthy.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
