package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, 30*time.Minute, ExtensionFor(1))
	assert.Equal(t, 3*time.Hour, ExtensionFor(2))
	assert.Equal(t, 12*time.Hour, ExtensionFor(3))
	assert.Equal(t, 12*time.Hour, ExtensionFor(4))

	// anything outside the table clamps to the nearest entry
	assert.Equal(t, 12*time.Hour, ExtensionFor(100))
	assert.Equal(t, 30*time.Minute, ExtensionFor(0))
}

func TestDeferExtendsWithoutDeleting(t *testing.T) {
	consumer := newFakeConsumer()
	controller := NewRetryController(consumer, zap.NewNop())

	msg := &queue.Message{ID: "msg-1", ReceiveCount: 2}
	require.NoError(t, controller.Defer(context.Background(), msg))

	assert.Equal(t, 3*time.Hour, consumer.extended["msg-1"])
	assert.Empty(t, consumer.deleted)
}

func TestDropDeletes(t *testing.T) {
	consumer := newFakeConsumer()
	controller := NewRetryController(consumer, zap.NewNop())

	require.NoError(t, controller.Drop(context.Background(), &queue.Message{ID: "msg-1"}))

	assert.Equal(t, []string{"msg-1"}, consumer.deleted)
	assert.Empty(t, consumer.extended)
}

func TestFormatLength(t *testing.T) {
	assert.Equal(t, "0:01:00", formatLength(60))
	assert.Equal(t, "1:02:03", formatLength(3723))
	assert.Equal(t, "0:00:00", formatLength(0.4))
}

func TestReferenceIDIsStable(t *testing.T) {
	a := referenceID("acme_InteriorRecorder_device01_1_2")
	b := referenceID("acme_InteriorRecorder_device01_1_2")
	c := referenceID("acme_InteriorRecorder_device01_1_3")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
