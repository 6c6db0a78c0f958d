package network

import (
	"errors"
)

// Error types for classifying network errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// NonceError is a transient error caused by a nonce the network did not
// accept. The caller must fetch a fresh nonce before retrying.
type NonceError struct {
	err error
}

func (e *NonceError) Error() string {
	return e.err.Error()
}

func (e *NonceError) Unwrap() error {
	return e.err
}

// NewNonceError wraps an error as a nonce conflict.
func NewNonceError(err error) error {
	return &NonceError{err: err}
}

// TerminalError represents a rejection that must not be retried, such as a
// bad signature, a malformed payload, or insufficient balance.
type TerminalError struct {
	err error
}

func (e *TerminalError) Error() string {
	return e.err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.err
}

// NewTerminalError wraps an error as terminal (non-retryable).
func NewTerminalError(err error) error {
	return &TerminalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
// Nonce conflicts are transient.
func IsTransient(err error) bool {
	var transient *TransientError
	var nonce *NonceError
	return errors.As(err, &transient) || errors.As(err, &nonce)
}

// IsNonceConflict returns true if the error was caused by a rejected nonce.
func IsNonceConflict(err error) bool {
	var nonce *NonceError
	return errors.As(err, &nonce)
}

// IsTerminal returns true if the error is terminal and should not be retried.
func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}
