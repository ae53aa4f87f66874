// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/model"
)

// Delivery is one message handed over by the broker. jetstream.Msg
// satisfies it; tests use fakes.
type Delivery interface {
	Data() []byte
	Ack() error
	Term() error
}

// MessageSource starts delivery of messages to a handler.
// jetstream.Consumer satisfies it.
type MessageSource interface {
	Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error)
}

// Validating evaluates the rule set over one update.
type Validating interface {
	Validate(u model.PriceUpdate) []string
}

// Persisting applies one update with retries; errors are terminal.
type Persisting interface {
	Persist(ctx context.Context, u model.PriceUpdate) (decimal.NullDecimal, error)
}

// DeadLettering routes failed items to the dead-letter queue.
type DeadLettering interface {
	SendUpdate(ctx context.Context, item model.DeadLetterItem)
	SendRaw(ctx context.Context, payload []byte)
}

// AverageCacher repopulates the read cache after a successful merge.
type AverageCacher interface {
	Write(ctx context.Context, productID int64, avg decimal.NullDecimal)
}

// ConsumerDeps collects the collaborators of a BatchConsumer. The worker
// pools are shared across consumers; everything here is a handle passed in
// from the outside.
type ConsumerDeps struct {
	Validator      Validating
	Persister      Persisting
	DeadLetter     DeadLettering
	Cache          AverageCacher
	ValidationPool *WorkerPool
	PersistPool    *WorkerPool
	Metrics        *metrics.Metrics
	Log            zerolog.Logger
}

// BatchConsumer processes delivered batch messages:
// received → deserialized → per-item validated → per-item persisted or
// dead-lettered → acknowledged.
//
// Item processing is parallel, but every operation touching the broker
// delivery (ack, reject, dead-letter publish) is funneled through one
// sequential ops goroutine owned by this consumer; that goroutine is the
// analog of the single-writer broker channel.
type BatchConsumer struct {
	id   int
	deps ConsumerDeps
	log  zerolog.Logger

	ops     chan func()
	quit    chan struct{}
	opsDone chan struct{}

	inflight sync.WaitGroup
	cc       jetstream.ConsumeContext
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewBatchConsumer builds a consumer; Start must be called before it
// processes anything.
func NewBatchConsumer(id int, deps ConsumerDeps) *BatchConsumer {
	return &BatchConsumer{
		id:      id,
		deps:    deps,
		log:     deps.Log.With().Str("component", "consumer").Int("consumer_id", id).Logger(),
		ops:     make(chan func()),
		quit:    make(chan struct{}),
		opsDone: make(chan struct{}),
	}
}

// Start begins pulling deliveries from source with the given prefetch
// window. Each message becomes a task on the validation pool; a full
// queue backpressures the pull loop.
func (c *BatchConsumer) Start(ctx context.Context, source MessageSource, prefetch int) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.opsLoop()

	cc, err := source.Consume(func(msg jetstream.Msg) {
		c.Dispatch(msg)
	}, jetstream.PullMaxMessages(prefetch))
	if err != nil {
		close(c.quit)
		c.cancel()
		return err
	}
	c.cc = cc
	c.log.Info().Int("prefetch", prefetch).Msg("consumer started")
	return nil
}

// Dispatch hands one delivery to the validation pool. If the pool is
// stopping the message stays unacknowledged and the broker redelivers it.
func (c *BatchConsumer) Dispatch(d Delivery) {
	c.inflight.Add(1)
	ok := c.deps.ValidationPool.Submit(func() {
		defer c.inflight.Done()
		c.processMessage(d)
	})
	if !ok {
		c.inflight.Done()
	}
}

// Stop cancels the subscription, waits up to drainTimeout for in-flight
// items, flushes the pending broker operations, and abandons the rest.
// Abandoned messages stay unacknowledged and redeliver; that is the
// at-least-once contract.
func (c *BatchConsumer) Stop(drainTimeout time.Duration) {
	c.stopOnce.Do(func() {
		if c.cc != nil {
			c.cc.Stop()
		}

		if !waitTimeout(&c.inflight, drainTimeout) {
			c.log.Warn().Dur("timeout", drainTimeout).Msg("drain timed out, abandoning in-flight work")
		}

		// Let already-queued acks and dead-letter publishes complete.
		flushed := make(chan struct{})
		if c.submitOps(func() { close(flushed) }) {
			select {
			case <-flushed:
			case <-time.After(drainTimeout):
			}
		}

		close(c.quit)
		<-c.opsDone
		if c.cancel != nil {
			c.cancel()
		}
		c.log.Info().Msg("consumer stopped")
	})
}

func (c *BatchConsumer) processMessage(d Delivery) {
	start := time.Now()

	updates, err := model.DecodeBatch(d.Data())
	if err != nil {
		c.log.Error().Err(err).Msg("malformed batch, rejecting without requeue")
		c.deps.Metrics.MessagesErrored.Inc()
		payload := append([]byte(nil), d.Data()...)
		c.submitOps(func() {
			c.deps.DeadLetter.SendRaw(c.ctx, payload)
			if err := d.Term(); err != nil {
				c.log.Error().Err(err).Msg("failed to reject malformed batch")
			}
		})
		return
	}

	// The batch acknowledges only after every item reaches a terminal
	// outcome, so partial success never redelivers the whole batch.
	remaining := int64(len(updates))
	finish := func() {
		if atomic.AddInt64(&remaining, -1) != 0 {
			return
		}
		c.submitOps(func() {
			if err := d.Ack(); err != nil {
				c.log.Error().Err(err).Msg("failed to ack batch")
				return
			}
			c.deps.Metrics.MessagesProcessed.Inc()
		})
	}

	for _, u := range updates {
		u := u
		if violations := c.deps.Validator.Validate(u); len(violations) > 0 {
			c.log.Warn().
				Int64("product_id", u.ProductID).
				Strs("violations", violations).
				Msg("update rejected by validation")
			item := model.DeadLetterItem{Update: u, Reasons: violations, Stage: model.StageValidation}
			c.submitOps(func() { c.deps.DeadLetter.SendUpdate(c.ctx, item) })
			finish()
			continue
		}

		c.inflight.Add(1)
		ok := c.deps.PersistPool.Submit(func() {
			defer c.inflight.Done()
			c.persistItem(u, finish)
		})
		if !ok {
			// Pool is stopping; leave the batch unacknowledged.
			c.inflight.Done()
		}
	}

	c.deps.Metrics.ValidationDuration.Observe(time.Since(start).Seconds())
}

func (c *BatchConsumer) persistItem(u model.PriceUpdate, finish func()) {
	start := time.Now()
	avg, err := c.deps.Persister.Persist(c.ctx, u)
	c.deps.Metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.log.Error().Err(err).Int64("product_id", u.ProductID).Msg("update permanently failed, dead-lettering")
		item := model.DeadLetterItem{Update: u, Reasons: []string{err.Error()}, Stage: model.StagePersistence}
		c.submitOps(func() { c.deps.DeadLetter.SendUpdate(c.ctx, item) })
		finish()
		return
	}

	c.deps.Cache.Write(c.ctx, u.ProductID, avg)
	c.deps.Metrics.UpdatesPersisted.Inc()
	finish()
}

// submitOps queues fn on the sequential broker-ops goroutine. Returns
// false once the consumer is shut down; the operation is then dropped and
// the affected message redelivers.
func (c *BatchConsumer) submitOps(fn func()) bool {
	select {
	case <-c.quit:
		return false
	case c.ops <- fn:
		return true
	}
}

func (c *BatchConsumer) opsLoop() {
	defer close(c.opsDone)
	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.ops:
			fn()
		}
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
