package eventbus

import (
	"context"
	"log/slog"
)

// NoopPublisher logs events instead of sending them to a broker.
// Used in local SQLite mode where no RabbitMQ is available; reconciliation
// does not depend on downstream consumers, so dropping events is safe there.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that only logs.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the event and discards it.
func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("event discarded (no broker configured)",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error { return nil }
