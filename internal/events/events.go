package events

import "context"

// Streams
const (
	StreamPayments = "events:payments"
)

// Event types
const (
	EventPaymentProgress      = "payment_progress"
	EventPaymentStatusChanged = "payment_status_changed"
	EventPaymentFailed        = "payment_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
