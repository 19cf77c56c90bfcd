package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

const snapshotBody = `{
	"Message": {
		"value": {
			"properties": {
				"header": {"device_id": "datanauts:device01"},
				"chunk_descriptions": [
					{
						"uuid": "TrainingMultiSnapshot_abc_1.jpeg",
						"upload_status": "UPLOAD_STATUS__ALREADY_UPLOADED",
						"start_timestamp_ms": 1666958828000,
						"end_timestamp_ms": 1666958829000,
						"payload_size": 12345
					},
					{
						"uuid": "TrainingMultiSnapshot_abc_2.jpeg",
						"upload_status": "UPLOAD_STATUS__SELECTED_FOR_UPLOAD",
						"start_timestamp_ms": 1666958830000,
						"end_timestamp_ms": 1666958831000,
						"payload_size": 54321
					}
				]
			}
		}
	},
	"MessageAttributes": {
		"tenant": {"Value": "acme"},
		"eventType": {"Value": "com.example.fleet.UploadRecordingEvent"}
	}
}`

func snapshotMessage(body string) *queue.Message {
	return &queue.Message{
		ID:         "msg-1",
		Body:       []byte(body),
		Attributes: map[string]string{"SentTimestamp": "1666958900000"},
	}
}

func TestSnapshotAccessors(t *testing.T) {
	s := NewSnapshot(snapshotMessage(snapshotBody), zap.NewNop())

	assert.Equal(t, "device01", s.DeviceID())
	assert.Equal(t, "acme", s.Tenant())
	assert.Equal(t, "UploadRecordingEvent", s.EventType())
	assert.Equal(t, time.Date(2022, 10, 28, 12, 8, 20, 0, time.UTC), s.SentTimestamp())
	assert.True(t, s.Validate())
}

func TestSnapshotChunks(t *testing.T) {
	s := NewSnapshot(snapshotMessage(snapshotBody), zap.NewNop())

	chunks := s.Chunks()
	require.Len(t, chunks, 2)

	assert.Equal(t, "TrainingMultiSnapshot_abc_1.jpeg", chunks[0].UUID)
	assert.True(t, chunks[0].Available())
	assert.Equal(t, int64(1666958828000), chunks[0].StartTimestampMS)
	assert.Equal(t, int64(12345), chunks[0].PayloadSize)

	assert.False(t, chunks[1].Available())
}

func TestSnapshotValidateWithoutChunks(t *testing.T) {
	s := NewSnapshot(snapshotMessage(`{"Message": {"value": {"properties": {}}}}`), zap.NewNop())
	assert.False(t, s.Validate())
}

func TestSnapshotIrrelevant(t *testing.T) {
	s := NewSnapshot(snapshotMessage(snapshotBody), zap.NewNop())
	assert.False(t, s.Irrelevant(nil))
	assert.True(t, s.Irrelevant([]string{"acme"}))
}
