package audit

import (
	"context"
	"time"
)

// Publisher delivers audit events to a durable sink. Implementations must be
// safe for concurrent use; services treat publishing as best-effort and never
// fail a verification flow on a publish error.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events. It is append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}

// StorePublisher captures structured audit events into a Store. It backs
// deployments without Kafka and doubles as the test sink.
type StorePublisher struct {
	store Store
}

func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{store: store}
}

func (p *StorePublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}
