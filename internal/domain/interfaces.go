package domain

import (
	"context"
)

// SecureStore is the platform's encrypted key/value store for credentials.
// Values are opaque strings; encryption at rest is the platform's concern.
type SecureStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ConnectivitySignal reports reachability and transition events.
type ConnectivitySignal interface {
	IsOnline() bool
	Subscribe() <-chan bool
	Unsubscribe(ch <-chan bool)
}

// EventPublisher lets components emit domain events without knowing the bus.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
