package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

// visibilityExtensions maps a message's receive count to how long it should
// stay hidden before the next attempt. Successive attempts get longer grace
// periods; everything past the table's end gets the last entry. There is no
// attempt cutoff here: exhaustion is the queue's own dead-letter policy.
var visibilityExtensions = []time.Duration{
	30 * time.Minute,
	3 * time.Hour,
	12 * time.Hour,
	12 * time.Hour,
}

// RetryController decides what happens to a message once its handler is
// done with it: defer for a later redelivery, or drop for good.
type RetryController struct {
	consumer queue.Consumer
	log      *zap.Logger
}

// NewRetryController constructs a RetryController over the given consumer.
func NewRetryController(consumer queue.Consumer, log *zap.Logger) *RetryController {
	return &RetryController{consumer: consumer, log: log}
}

// ExtensionFor returns the visibility extension for a given receive count.
// Counts are 1-based: the first delivery defers by the first table entry.
func ExtensionFor(receiveCount int) time.Duration {
	idx := receiveCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(visibilityExtensions)-1 {
		idx = len(visibilityExtensions) - 1
	}
	return visibilityExtensions[idx]
}

// Defer extends the message's visibility timeout so the queue redelivers it
// later. The message is not deleted.
func (r *RetryController) Defer(ctx context.Context, msg *queue.Message) error {
	extension := ExtensionFor(msg.ReceiveCount)
	r.log.Warn("artifact not ready, prolonging message visibility timeout",
		zap.String("message_id", msg.ID),
		zap.Int("receive_count", msg.ReceiveCount),
		zap.Duration("extension", extension))
	return r.consumer.ChangeVisibility(ctx, msg, extension)
}

// Drop deletes the message unconditionally.
func (r *RetryController) Drop(ctx context.Context, msg *queue.Message) error {
	r.log.Info("message deleted",
		zap.String("message_id", msg.ID))
	return r.consumer.Delete(ctx, msg)
}
