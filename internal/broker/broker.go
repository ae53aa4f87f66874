// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package broker owns the NATS JetStream plumbing: the work-queue stream
// for raw price update batches, the aging dead-letter stream, confirmed
// publishing, and the durable consumers the pipeline pulls from.
package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/config"
)

// Broker wraps the shared NATS connection. The connection is shared across
// all consumers; each consumer owns its own consume context.
type Broker struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.BrokerConfig
	log zerolog.Logger
}

// Connect dials NATS with reconnect handling and initializes JetStream.
func Connect(cfg config.BrokerConfig, log zerolog.Logger) (*Broker, error) {
	blog := log.With().Str("component", "broker").Logger()

	opts := []nats.Option{
		nats.Name("priceflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				blog.Error().Err(err).Msg("broker disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			blog.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	return &Broker{nc: nc, js: js, cfg: cfg, log: blog}, nil
}

// EnsureStreams provisions the raw and dead-letter streams idempotently.
// The raw stream uses work-queue retention so each batch is delivered to
// exactly one consumer of the durable; the DLQ stream ages entries out
// after the configured TTL.
func (b *Broker) EnsureStreams(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.cfg.StreamName,
		Subjects:  []string{b.cfg.RawSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", b.cfg.StreamName, err)
	}

	_, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.cfg.DLQStreamName,
		Subjects: []string{b.cfg.DLQSubject},
		Storage:  jetstream.FileStorage,
		MaxAge:   b.cfg.DeadLetterTTL,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", b.cfg.DLQStreamName, err)
	}

	b.log.Info().
		Str("stream", b.cfg.StreamName).
		Str("dlq_stream", b.cfg.DLQStreamName).
		Dur("dlq_ttl", b.cfg.DeadLetterTTL).
		Msg("streams provisioned")
	return nil
}

// Consumer returns the shared durable pull consumer for raw batches.
// Multiple BatchConsumers consume from it, each through its own consume
// context with its own prefetch window.
func (b *Broker) Consumer(ctx context.Context) (jetstream.Consumer, error) {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       b.cfg.DurableName,
		FilterSubject: b.cfg.RawSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", b.cfg.DurableName, err)
	}
	return cons, nil
}

// DLQConsumer returns the durable consumer the dead-letter drain reads.
func (b *Broker) DLQConsumer(ctx context.Context) (jetstream.Consumer, error) {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.DLQStreamName, jetstream.ConsumerConfig{
		Durable:       b.cfg.DLQDurableName,
		FilterSubject: b.cfg.DLQSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", b.cfg.DLQDurableName, err)
	}
	return cons, nil
}

// PublishBatch publishes a raw batch payload and waits for the stream's
// acknowledgment within the confirm timeout.
func (b *Broker) PublishBatch(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()
	if _, err := b.js.Publish(ctx, b.cfg.RawSubject, payload); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// PublishDeadLetter publishes a payload to the dead-letter subject.
func (b *Broker) PublishDeadLetter(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()
	if _, err := b.js.Publish(ctx, b.cfg.DLQSubject, payload); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// QueueDepth reports the number of messages pending for the raw durable
// consumer. Used by the autoscaler.
func (b *Broker) QueueDepth(ctx context.Context) (uint64, error) {
	cons, err := b.js.Consumer(ctx, b.cfg.StreamName, b.cfg.DurableName)
	if err != nil {
		return 0, fmt.Errorf("lookup consumer: %w", err)
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("consumer info: %w", err)
	}
	return info.NumPending, nil
}

// Close drains the connection, letting buffered publishes flush.
func (b *Broker) Close() {
	if err := b.nc.Drain(); err != nil {
		b.log.Warn().Err(err).Msg("broker drain failed")
	}
}
