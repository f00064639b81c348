// Package faults defines the failure taxonomy shared by the sync subsystem.
// Transient network failures are retryable, conflicts and queue capacity are
// surfaced immediately, authentication failures are owned by the auth retry
// coordinator.
package faults

import (
	"errors"
	"fmt"
)

// ErrQueueFull is returned by Enqueue when the non-terminal item count
// reached the configured cap.
var ErrQueueFull = errors.New("offline queue is full")

// ErrOffline marks a request that could not be attempted for lack of
// connectivity.
var ErrOffline = errors.New("no connectivity")

// ErrCircuitOpen marks a request skipped because the endpoint circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// NetworkError wraps a transport-level failure (no connectivity, timeout).
// Always retryable up to the retry cap.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response with the server-provided message.
// Retryable unless it is a conflict.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// ConflictError is a 409: local and remote state diverged. Never retried.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// AuthError is a 401. Handled exclusively by the auth retry coordinator.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// PKCEError reports malformed OAuth PKCE parameters, surfaced before any
// network call.
type PKCEError struct {
	Message string
}

func (e *PKCEError) Error() string {
	return fmt.Sprintf("pkce: %s", e.Message)
}

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// IsRetryable reports whether a sync attempt that returned err may be tried
// again on a later pass.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return false
	}
	return true
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
