package events

import "context"

// Event types
const (
	EventPaymentStatusChanged = "payment_status_changed"
	EventStepUpCreated        = "stepup_created"
	EventStepUpStatusChanged  = "stepup_status_changed"
)

// Streams
const (
	StreamPayment = "events:payment"
	StreamStepUp  = "events:stepup"
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
