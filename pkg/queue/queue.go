package queue

import (
	"context"
	"time"
)

// Message is one queue delivery. It is owned by the queue until it is
// explicitly deleted or its visibility timeout lapses, at which point it is
// redelivered with an incremented receive count.
type Message struct {
	ID            string
	ReceiptHandle string
	ReceiveCount  int
	Attributes    map[string]string
	Body          []byte
}

// Consumer is the inbound side of the queue: receive one message at a time,
// then either delete it or push its visibility horizon further out so it
// comes back later.
type Consumer interface {
	// Receive returns the next visible message, or (nil, nil) when the queue
	// is empty. Receiving hides the message for the queue's visibility
	// timeout.
	Receive(ctx context.Context) (*Message, error)
	// Delete removes the message from the queue for good.
	Delete(ctx context.Context, msg *Message) error
	// ChangeVisibility reschedules the message to become visible again after
	// the given duration, counted from now.
	ChangeVisibility(ctx context.Context, msg *Message, timeout time.Duration) error
}

// Publisher is the outbound side, used by tests and tooling to seed queues.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attributes map[string]string) error
}
