// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package validation evaluates submission rules over a single price update.
//
// Rules live in an ordered, mutable registry keyed by their message, so the
// rule set can be extended or trimmed without touching call sites. Every
// rule is evaluated on every update; all violations are reported at once
// rather than failing fast, so a submitter sees every problem in one pass.
package validation

import (
	"sync"

	"github.com/priceflow/priceflow/internal/model"
)

// Messages for the default rule set. Exposed so callers can remove or
// replace individual rules by key.
const (
	MsgProductIDPositive     = "Product ID must be positive"
	MsgManufacturerNameEmpty = "Manufacturer name cannot be empty"
	MsgPriceNegative         = "Price cannot be negative"
)

// Rule pairs a violation predicate with the message reported when it fires.
type Rule struct {
	Message  string
	Violated func(model.PriceUpdate) bool
}

// Registry holds an ordered set of rules, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry returns a registry preloaded with the default rules.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Add(MsgProductIDPositive, func(u model.PriceUpdate) bool {
		return u.ProductID <= 0
	})
	r.Add(MsgManufacturerNameEmpty, func(u model.PriceUpdate) bool {
		return isBlank(u.ManufacturerName)
	})
	r.Add(MsgPriceNegative, func(u model.PriceUpdate) bool {
		return u.Price.IsNegative()
	})
	return r
}

// Add appends a rule to the end of the evaluation order.
func (r *Registry) Add(message string, violated func(model.PriceUpdate) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, Rule{Message: message, Violated: violated})
}

// Remove deletes every rule whose message equals the given key.
// Returns true if at least one rule was removed.
func (r *Registry) Remove(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rules[:0]
	removed := false
	for _, rule := range r.rules {
		if rule.Message == message {
			removed = true
			continue
		}
		kept = append(kept, rule)
	}
	r.rules = kept
	return removed
}

// Rules returns a snapshot of the current rule set in evaluation order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Validator evaluates a registry's rules over price updates.
type Validator struct {
	registry *Registry
}

// NewValidator returns a validator backed by the given registry.
// A nil registry gets the default rule set.
func NewValidator(registry *Registry) *Validator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Validator{registry: registry}
}

// Validate returns the messages of every violated rule, in registry order.
// An empty result means the update is acceptable. No side effects.
func (v *Validator) Validate(u model.PriceUpdate) []string {
	var violations []string
	for _, rule := range v.registry.Rules() {
		if rule.Violated(u) {
			violations = append(violations, rule.Message)
		}
	}
	return violations
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
