package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// PoolKey is the context key for the pool name
	PoolKey ContextKey = "pool"
	// ConnIDKey is the context key for a pooled connection id
	ConnIDKey ContextKey = "conn_id"
	// RequestIDKey is the context key for an admin request id
	RequestIDKey ContextKey = "request_id"
)

var contextKeys = []ContextKey{PoolKey, ConnIDKey, RequestIDKey}

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
