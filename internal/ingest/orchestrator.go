// Package ingest sequences the retrieval, completeness verification and
// downstream notification of fleet artifacts announced on the inbound queue.
// One message is processed at a time; every step either advances the
// artifact towards its ingestion record or hands the message to the retry
// controller.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/discovery"
	"github.com/your-org/fleetingest/internal/envelope"
	"github.com/your-org/fleetingest/internal/media"
	"github.com/your-org/fleetingest/pkg/queue"
	"github.com/your-org/fleetingest/pkg/storage/objectstore"
)

// ErrAlreadyExists signals that the destination store already holds the
// artifact; the message is obsolete and gets dropped.
var ErrAlreadyExists = errors.New("artifact already exists at destination")

// ErrNotReady signals expected incompleteness: fragments the device has not
// finished uploading yet. The message is deferred, not dropped.
var ErrNotReady = errors.New("artifact fragments not ready")

// Notifier publishes a payload to one downstream topic.
type Notifier interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// Policy carries the ingestion policy knobs, passed in explicitly instead of
// living as process-wide globals.
type Policy struct {
	TenantBlacklist       []string
	RecorderBlacklist     []string
	TrainingWhitelist     []string
	RequestTrainingUpload bool
	DiscardRepeatedVideo  bool
	FrameBufferMS         int64
}

// Stats are monotoneously increasing counters exposed on the status
// endpoint.
type Stats struct {
	Processed atomic.Int64
	Deferred  atomic.Int64
	Dropped   atomic.Int64
	Failed    atomic.Int64
}

// Orchestrator routes each classified message through the handler for its
// recorder type.
type Orchestrator struct {
	source objectstore.Client
	dest   objectstore.Client
	engine *discovery.Engine
	retry  *RetryController
	prober media.Prober

	records  Notifier
	mdf      Notifier
	selector Notifier

	policy Policy
	log    *zap.Logger
	now    func() time.Time

	stats Stats
}

// Params collects the collaborators an Orchestrator needs.
type Params struct {
	Source   objectstore.Client
	Dest     objectstore.Client
	Engine   *discovery.Engine
	Retry    *RetryController
	Prober   media.Prober
	Records  Notifier
	MDF      Notifier
	Selector Notifier
	Policy   Policy
	Logger   *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		source:   p.Source,
		dest:     p.Dest,
		engine:   p.Engine,
		retry:    p.Retry,
		prober:   p.Prober,
		records:  p.Records,
		mdf:      p.MDF,
		selector: p.Selector,
		policy:   p.Policy,
		log:      p.Logger,
		now:      time.Now,
	}
}

// Stats exposes the processing counters.
func (o *Orchestrator) Stats() *Stats {
	return &o.stats
}

// Process classifies one message and dispatches it. Expected
// incompleteness is absorbed into a defer; anything unexpected propagates to
// the caller so the poll loop can log it and leave the message to the
// queue's own retry and dead-letter policy.
func (o *Orchestrator) Process(ctx context.Context, msg *queue.Message) error {
	recorder := envelope.Classify(msg)
	o.log.Info("received message",
		zap.String("message_id", msg.ID),
		zap.String("recorder", string(recorder)),
		zap.Int("receive_count", msg.ReceiveCount))

	var err error
	switch recorder {
	case envelope.RecorderInterior, envelope.RecorderTraining:
		err = o.processVideo(ctx, msg, recorder)
	case envelope.RecorderMultiSnapshot:
		err = o.processSnapshot(ctx, msg)
	case envelope.RecorderFront, envelope.RecorderInteriorPreview:
		// deliberately unsupported recorders: drop without processing
		o.log.Info("recorder not supported, dropping message",
			zap.String("message_id", msg.ID),
			zap.String("recorder", string(recorder)))
		err = o.drop(ctx, msg)
	default:
		// unclassifiable: leave the message for natural redelivery
		o.log.Error("could not identify message type as video nor snapshot, ignoring",
			zap.String("message_id", msg.ID))
	}

	if err != nil {
		o.stats.Failed.Add(1)
		return err
	}
	o.stats.Processed.Add(1)
	return nil
}

func (o *Orchestrator) deferMessage(ctx context.Context, msg *queue.Message) error {
	o.stats.Deferred.Add(1)
	return o.retry.Defer(ctx, msg)
}

func (o *Orchestrator) drop(ctx context.Context, msg *queue.Message) error {
	o.stats.Dropped.Add(1)
	return o.retry.Drop(ctx, msg)
}
