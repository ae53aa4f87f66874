// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/metrics"
)

type recordingConsumer struct {
	id      int
	stopped bool
}

func (r *recordingConsumer) Stop(time.Duration) { r.stopped = true }

type registryHarness struct {
	registry *Registry
	started  []*recordingConsumer
	failFrom int // factory fails for ids >= failFrom when positive
}

func newRegistryHarness(min int) *registryHarness {
	h := &registryHarness{failFrom: -1}
	factory := func(_ context.Context, id int) (ManagedConsumer, error) {
		if h.failFrom >= 0 && id >= h.failFrom {
			return nil, errors.New("broker unavailable")
		}
		c := &recordingConsumer{id: id}
		h.started = append(h.started, c)
		return c, nil
	}
	h.registry = NewRegistry(factory, min, time.Second, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return h
}

func TestRegistry_GrowsToDesired(t *testing.T) {
	h := newRegistryHarness(2)

	if err := h.registry.Resize(context.Background(), 4); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if got := h.registry.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
	if len(h.started) != 4 {
		t.Errorf("started = %d, want 4", len(h.started))
	}
}

func TestRegistry_ShrinksNewestFirst(t *testing.T) {
	h := newRegistryHarness(2)
	ctx := context.Background()

	if err := h.registry.Resize(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.Resize(ctx, 3); err != nil {
		t.Fatal(err)
	}

	if got := h.registry.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	for _, c := range h.started[:3] {
		if c.stopped {
			t.Errorf("consumer %d stopped, want survivors to keep running", c.id)
		}
	}
	for _, c := range h.started[3:] {
		if !c.stopped {
			t.Errorf("consumer %d still running, want newest stopped first", c.id)
		}
	}
}

func TestRegistry_NeverShrinksBelowMin(t *testing.T) {
	h := newRegistryHarness(2)
	ctx := context.Background()

	if err := h.registry.Resize(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.Resize(ctx, 0); err != nil {
		t.Fatal(err)
	}

	if got := h.registry.Len(); got != 2 {
		t.Errorf("Len() = %d, want the minimum 2", got)
	}
}

func TestRegistry_PartialGrowthKeepsStarted(t *testing.T) {
	h := newRegistryHarness(1)
	h.failFrom = 2

	err := h.registry.Resize(context.Background(), 4)
	if err == nil {
		t.Fatal("Resize() error = nil, want factory failure")
	}
	if got := h.registry.Len(); got != 2 {
		t.Errorf("Len() = %d, want the 2 consumers started before the failure", got)
	}
}

func TestRegistry_StopAll(t *testing.T) {
	h := newRegistryHarness(2)
	ctx := context.Background()

	if err := h.registry.Resize(ctx, 3); err != nil {
		t.Fatal(err)
	}
	h.registry.StopAll()

	if got := h.registry.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	for _, c := range h.started {
		if !c.stopped {
			t.Errorf("consumer %d not stopped", c.id)
		}
	}
}
