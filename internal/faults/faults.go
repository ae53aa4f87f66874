// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Package faults distinguishes transient failures from terminal ones so
// callers can decide retry eligibility without inspecting error text.
package faults

import "errors"

// RetryableError marks a failure as transient (connectivity, timeouts,
// storage hiccups). The retrying persister will attempt it again.
type RetryableError struct {
	Message string
	Cause   error
}

// Retryable wraps cause as a transient failure.
func Retryable(message string, cause error) *RetryableError {
	return &RetryableError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that must not be retried: validation
// rejections, exhausted retry budgets, canceled contexts.
type PermanentError struct {
	Message string
	Cause   error
}

// Permanent wraps cause as a terminal failure.
func Permanent(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *PermanentError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
