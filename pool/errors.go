package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted means no connection became available before the wait
	// deadline. Callers may retry with backoff.
	ErrExhausted = errors.New("connection pool exhausted")
	// ErrConnectFailed wraps a driver dial error. The pool never retries a
	// failed dial on behalf of Acquire.
	ErrConnectFailed = errors.New("failed to establish connection")
	// ErrInvalidHandle is returned when releasing a handle the pool did not
	// issue or that was already released.
	ErrInvalidHandle = errors.New("invalid connection handle")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("connection pool is closed")
	// ErrConnClosed is returned when using a released handle.
	ErrConnClosed = errors.New("connection is closed")
)

// ConnectionPoolError represents errors specific to connection pool operations
type ConnectionPoolError struct {
	Op  string
	Err error
}

func (e *ConnectionPoolError) Error() string {
	return fmt.Sprintf("connection pool error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionPoolError) Unwrap() error {
	return e.Err
}

// IsConnectionPoolError checks if an error is a connection pool error
func IsConnectionPoolError(err error) bool {
	var target *ConnectionPoolError
	return errors.As(err, &target)
}

// IsExhausted reports whether err is a wait timeout.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// IsConnectFailed reports whether err came from a failed dial.
func IsConnectFailed(err error) bool {
	return errors.Is(err, ErrConnectFailed)
}

func connectError(op string, err error) error {
	return &ConnectionPoolError{Op: op, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
}
