// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCancelled is the cancellation cause recorded when Cancel aborts a turn.
	ErrCancelled = errors.New("chat: turn cancelled")

	// ErrIdleTimeout indicates no bytes arrived within the idle-read window.
	ErrIdleTimeout = errors.New("chat: stream idle timeout")

	// ErrRateLimited indicates the proxy answered 429.
	ErrRateLimited = errors.New("chat: rate limited")

	// ErrServiceUnavailable indicates the proxy answered 402.
	ErrServiceUnavailable = errors.New("chat: service unavailable")
)

// StatusError is a non-2xx answer from the chat proxy.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("proxy error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("proxy error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps well-known statuses onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return e.Status == http.StatusPaymentRequired
	}
	return false
}

// StreamError wraps a failure that happened after streaming started,
// carrying the content received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
