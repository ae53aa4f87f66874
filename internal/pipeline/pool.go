// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WorkerPool is a bounded pool of goroutines draining a task queue.
// Two pools serve the pipeline: a small one for CPU-bound decode and
// validation, and a larger one for blocking storage calls. Both are shared
// across all consumers.
type WorkerPool struct {
	name  string
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	log   zerolog.Logger
}

// NewWorkerPool starts workers goroutines over a queue of queueSize tasks.
func NewWorkerPool(name string, workers, queueSize int, log zerolog.Logger) *WorkerPool {
	p := &WorkerPool{
		name:  name,
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		log:   log.With().Str("pool", name).Logger(),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a task, blocking while the queue is full (backpressure on
// the caller). It returns false once the pool is stopping; the task is
// then not run.
func (p *WorkerPool) Submit(task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.quit:
		return false
	}
}

// Stop signals the workers and waits up to timeout for queued work to
// finish. Tasks still running after the timeout are abandoned.
func (p *WorkerPool) Stop(timeout time.Duration) {
	p.once.Do(func() { close(p.quit) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Debug().Msg("pool drained")
	case <-time.After(timeout):
		p.log.Warn().Dur("timeout", timeout).Msg("pool stop timed out, abandoning tasks")
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		// Drain queued tasks before honoring quit so accepted work
		// completes on a graceful stop.
		select {
		case task := <-p.tasks:
			task()
		default:
			select {
			case task := <-p.tasks:
				task()
			case <-p.quit:
				return
			}
		}
	}
}
