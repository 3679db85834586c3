package outbox

import (
	"context"

	"github.com/felixgeelhaar/creditd/internal/shared/domain"
)

// Recorder converts domain events to outbox messages and stores them in the
// ambient transaction, so events commit or roll back with the state change
// that produced them.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a recorder on top of an outbox repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record stores the events in the outbox.
func (r *Recorder) Record(ctx context.Context, events ...domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*Message, 0, len(events))
	for _, event := range events {
		msg, err := NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return r.repo.SaveBatch(ctx, msgs)
}
