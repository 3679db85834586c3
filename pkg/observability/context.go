package observability

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDCtxKey contextKey = "correlation_id"
	eventIDCtxKey       contextKey = "event_id"
	userIDCtxKey        contextKey = "user_id"
)

// Standard attribute keys used in logs.
const (
	CorrelationIDKey = "correlation_id"
	EventIDKey       = "event_id"
	UserIDKey        = "user_id"
	DurationKey      = "duration_ms"
	ErrorKey         = "error"
	StatusKey        = "status"
)

// WithCorrelationID adds a correlation ID to the context.
// If id is empty, a new UUID is generated.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, correlationIDCtxKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithEventID tags the context with the gateway event being processed.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDCtxKey, id)
}

// EventIDFromContext extracts the gateway event ID from context.
func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(eventIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey, userID)
}

// UserIDFromContext extracts the user ID from context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(userIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// NewDeliveryContext creates a context for one webhook delivery: a fresh
// correlation ID plus the gateway event ID for log correlation.
func NewDeliveryContext(ctx context.Context, eventID string) context.Context {
	ctx = WithCorrelationID(ctx, "")
	if eventID != "" {
		ctx = WithEventID(ctx, eventID)
	}
	return ctx
}
