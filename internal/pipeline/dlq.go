// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/model"
)

// DeadLetterPublisher publishes payloads to the dead-letter destination.
// *broker.Broker satisfies it.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, payload []byte) error
}

// DeadLetterRouter routes permanently-failed or malformed items to the
// dead-letter queue. Publishing is fire-and-forget: a failure to publish
// is logged, never retried, and never blocks batch acknowledgment.
type DeadLetterRouter struct {
	publisher DeadLetterPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewDeadLetterRouter builds a router over the given publisher.
func NewDeadLetterRouter(publisher DeadLetterPublisher, m *metrics.Metrics, log zerolog.Logger) *DeadLetterRouter {
	return &DeadLetterRouter{
		publisher: publisher,
		metrics:   m,
		log:       log.With().Str("component", "dlq").Logger(),
	}
}

// SendUpdate dead-letters a single update with the reasons it failed.
func (r *DeadLetterRouter) SendUpdate(ctx context.Context, item model.DeadLetterItem) {
	payload, err := model.EncodeDeadLetter(item)
	if err != nil {
		r.log.Error().Err(err).Int64("product_id", item.Update.ProductID).Msg("failed to encode dead-letter item")
		return
	}
	if err := r.publisher.PublishDeadLetter(ctx, payload); err != nil {
		r.log.Error().Err(err).Int64("product_id", item.Update.ProductID).Msg("failed to publish dead letter")
		return
	}
	r.metrics.DeadLettered.WithLabelValues(item.Stage).Inc()
	r.log.Debug().Int64("product_id", item.Update.ProductID).Str("stage", item.Stage).Msg("update dead-lettered")
}

// SendRaw dead-letters an undeserializable payload verbatim.
func (r *DeadLetterRouter) SendRaw(ctx context.Context, payload []byte) {
	if err := r.publisher.PublishDeadLetter(ctx, payload); err != nil {
		r.log.Error().Err(err).Msg("failed to publish raw dead letter")
		return
	}
	r.metrics.DeadLettered.WithLabelValues(model.StageMalformed).Inc()
}

// DLQSource is the consumer handle the drain reads from.
// jetstream.Consumer satisfies it.
type DLQSource interface {
	Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error)
}

// DeadLetterDrain is the long-lived task consuming the dead-letter queue
// for operator visibility. It stops on the shutdown context, not on
// interruption of any worker, so its subscription is never lost
// mid-message.
type DeadLetterDrain struct {
	source  DLQSource
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewDeadLetterDrain builds the drain over a DLQ consumer.
func NewDeadLetterDrain(source DLQSource, m *metrics.Metrics, log zerolog.Logger) *DeadLetterDrain {
	return &DeadLetterDrain{
		source:  source,
		metrics: m,
		log:     log.With().Str("component", "dlq-drain").Logger(),
	}
}

// Run consumes dead letters until ctx is canceled.
func (d *DeadLetterDrain) Run(ctx context.Context) error {
	cc, err := d.source.Consume(func(msg jetstream.Msg) {
		d.log.Warn().Bytes("payload", msg.Data()).Msg("dead letter received")
		d.metrics.DLQDrained.Inc()
		if err := msg.Ack(); err != nil {
			d.log.Error().Err(err).Msg("failed to ack dead letter")
		}
	})
	if err != nil {
		return err
	}
	d.log.Info().Msg("dead-letter drain started")

	<-ctx.Done()
	cc.Stop()
	d.log.Info().Msg("dead-letter drain stopped")
	return nil
}
