package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

// Worker polls the inbound queue and feeds messages to the orchestrator one
// at a time. Sequential processing is deliberate: concurrent handling of
// notifications for the same artifact would race on the destination store.
type Worker struct {
	consumer     queue.Consumer
	orchestrator *Orchestrator
	pollInterval time.Duration
	log          *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(consumer queue.Consumer, orchestrator *Orchestrator, pollInterval time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		consumer:     consumer,
		orchestrator: orchestrator,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Run polls until the context is cancelled. Processing errors are logged
// and the loop keeps going; the failed message stays invisible until its
// visibility timeout lapses and the queue redelivers it.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Duration("poll_interval", w.pollInterval))
	for {
		msg, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("receive from queue", zap.Error(err))
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if msg == nil {
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := w.orchestrator.Process(ctx, msg); err != nil {
			w.log.Error("process message",
				zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

// sleep waits one poll interval, returning false when the context ends
// first.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
