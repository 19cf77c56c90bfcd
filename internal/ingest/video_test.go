package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fleetingest/pkg/queue"
)

const trainingBody = `{
	"TopicArn": "arn:aws:sns:eu-central-1:123456789:prod-video-footage-events",
	"Message": "{'streamName': 'acme_TrainingRecorder_device01', 'deviceId': 'device01', 'footageFrom': 1666958828000, 'footageTo': 1666958888000, 'uploadStarted': 1666958890000, 'uploadFinished': 1666958950000}",
	"MessageAttributes": {
		"tenant": {"Value": "acme"},
		"deviceId": {"Value": "device01"},
		"recordingId": {"Value": "TrainingRecorder-abc123"}
	}
}`

func TestProcessIngestsTrainingVideoWithIMU(t *testing.T) {
	h := newHarness(t, Policy{})

	video1 := hour12 + "TrainingRecorder_TrainingRecorder-abc123_1.mp4"
	video2 := hour12 + "TrainingRecorder_TrainingRecorder-abc123_2.mp4"
	h.source.add(video1, []byte("part-one "), modifiedInWindow())
	h.source.add(video2, []byte("part-two"), modifiedInWindow())
	h.source.add(video1+"._stream2_imu_raw.csv.zip", gzipped(t, []byte("row1\n")), modifiedInWindow())
	h.source.add(video2+"._stream2_imu_raw.csv.zip", gzipped(t, []byte("row2\n")), modifiedInWindow())

	msg := &queue.Message{ID: "msg-training", Body: []byte(trainingBody)}
	require.NoError(t, h.orchestrator.Process(context.Background(), msg))

	videoID := "acme_TrainingRecorder_device01_1666958828000_1666958888000"

	// fragments concatenated in index order
	clip, err := h.dest.Get(context.Background(), "acme/"+videoID+".mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("part-one part-two"), clip)

	// IMU rows concatenated in the same order, decompressed
	dump, err := h.dest.Get(context.Background(), "acme/"+videoID+IMUFileExt)
	require.NoError(t, err)
	assert.Equal(t, []byte("row1\nrow2\n"), dump)

	require.Len(t, h.records.published, 1)
	var record IngestionRecord
	require.NoError(t, json.Unmarshal(h.records.published[0], &record))
	assert.Equal(t, IMUFileExt, record.SyncFileExt)
	assert.Empty(t, record.MDFAvailable)

	require.Len(t, h.mdf.published, 1)
	var notification MDFNotification
	require.NoError(t, json.Unmarshal(h.mdf.published[0], &notification))
	assert.Equal(t, videoID, notification.ID)
	assert.Equal(t, "raw-artifacts/acme/"+videoID+IMUFileExt, notification.S3Path)

	assert.Equal(t, []string{"msg-training"}, h.consumer.deleted)
}

func TestProcessShipsInteriorRecordWhenMetadataMergeFails(t *testing.T) {
	h := newHarness(t, Policy{})

	videoKey := hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"
	h.source.add(videoKey, []byte("mp4-bytes"), modifiedInWindow())
	// present but unusable metadata fragment
	h.source.add(videoKey+"._stream1_metadata.json.zip",
		gzipped(t, []byte(`{"no": "bounds"}`)), modifiedInWindow())

	require.NoError(t, h.orchestrator.Process(context.Background(), videoMessage()))

	// the video record still ships, flagged as having no merged metadata
	require.Len(t, h.records.published, 1)
	var record IngestionRecord
	require.NoError(t, json.Unmarshal(h.records.published[0], &record))
	assert.Equal(t, "No", record.MDFAvailable)
	assert.Empty(t, record.SyncFileExt)

	assert.Empty(t, h.mdf.published)
	assert.Equal(t, []string{"msg-video"}, h.consumer.deleted)
}
