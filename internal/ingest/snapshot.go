package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/discovery"
	"github.com/your-org/fleetingest/internal/envelope"
	"github.com/your-org/fleetingest/pkg/queue"
)

var snapshotExtensions = []string{".jpeg", ".png"}

// processSnapshot ingests each chunk of a multi-snapshot event on its own.
// One missing chunk never blocks the others: already-ingested and
// permanently broken chunks are skipped, chunks expected to appear later
// flag the whole message for a deferred retry.
func (o *Orchestrator) processSnapshot(ctx context.Context, msg *queue.Message) error {
	snapshot := envelope.NewSnapshot(msg, o.log)

	if snapshot.Irrelevant(o.policy.TenantBlacklist) {
		return o.drop(ctx, msg)
	}
	if !snapshot.Validate() {
		o.log.Warn("snapshot message failed validation",
			zap.String("message_id", msg.ID))
		return o.drop(ctx, msg)
	}

	tenant := snapshot.Tenant()
	device := snapshot.DeviceID()

	deferNeeded := false
	for _, chunk := range snapshot.Chunks() {
		retryLater, err := o.ingestSnapshotChunk(ctx, snapshot, tenant, device, chunk)
		if err != nil {
			return fmt.Errorf("ingest snapshot chunk %s: %w", chunk.UUID, err)
		}
		if retryLater {
			deferNeeded = true
		}
	}

	if deferNeeded {
		return o.deferMessage(ctx, msg)
	}
	return o.drop(ctx, msg)
}

// ingestSnapshotChunk locates one snapshot frame in the staging store,
// uploads it together with its metadata sidecar and publishes the ingestion
// record. It returns true when the chunk was not found yet but is still
// expected to arrive.
func (o *Orchestrator) ingestSnapshotChunk(ctx context.Context, snapshot *envelope.Snapshot, tenant, device string, chunk envelope.Chunk) (bool, error) {
	if !strings.HasSuffix(chunk.UUID, ".jpeg") {
		o.log.Debug("chunk is not a snapshot frame, skipping",
			zap.String("uuid", chunk.UUID),
			zap.String("message_id", snapshot.MessageID()))
		return false, nil
	}

	stem := strings.TrimSuffix(path.Base(chunk.UUID), ".jpeg")
	snapshotID := fmt.Sprintf("%s_%s_%s_%d", tenant, device, stem, chunk.StartTimestampMS)
	destKey := tenant + "/" + snapshotID + ".jpeg"

	exists, err := o.dest.Exists(ctx, destKey)
	if err != nil {
		return false, fmt.Errorf("check destination for %s: %w", destKey, err)
	}
	if exists {
		o.log.Info("snapshot already ingested, skipping chunk",
			zap.String("snapshot_id", snapshotID))
		return false, nil
	}

	start := time.UnixMilli(chunk.StartTimestampMS)
	if chunk.StartTimestampMS == 0 {
		// devices occasionally report no chunk timestamps; fall back to when
		// the queue first saw the message
		start = snapshot.SentTimestamp()
	}

	frame, err := o.engine.FindFile(ctx, discovery.FindParams{
		Tenant:     tenant,
		DeviceID:   device,
		Prefix:     stem,
		Start:      start,
		End:        o.now(),
		Extensions: snapshotExtensions,
	})
	if errors.Is(err, discovery.ErrNotFound) {
		if chunk.Available() {
			// the device claims the upload finished, yet the frame is not
			// there; retrying will not change that
			o.log.Error("snapshot reported uploaded but absent from source store",
				zap.String("uuid", chunk.UUID),
				zap.String("message_id", snapshot.MessageID()))
			return false, nil
		}
		o.log.Info("snapshot not uploaded yet",
			zap.String("uuid", chunk.UUID),
			zap.String("upload_status", chunk.UploadStatus))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("find snapshot frame %s: %w", stem, err)
	}

	data, err := o.source.Get(ctx, frame.Key)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", frame.Key, err)
	}
	if err := o.dest.Put(ctx, destKey, bytes.NewReader(data), int64(len(data)), nil); err != nil {
		return false, fmt.Errorf("upload %s: %w", destKey, err)
	}

	o.ingestSnapshotMetadata(ctx, snapshot, tenant, device, stem, snapshotID, start)

	record := &IngestionRecord{
		ID:                         snapshotID,
		MediaType:                  "image",
		S3Path:                     o.dest.Bucket() + "/" + destKey,
		Timestamp:                  chunk.StartTimestampMS,
		Tenant:                     tenant,
		DeviceID:                   device,
		InternalMessageReferenceID: referenceID(snapshotID),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode ingestion record: %w", err)
	}
	if err := o.records.Publish(ctx, []byte(record.ID), payload, nil); err != nil {
		return false, fmt.Errorf("publish ingestion record: %w", err)
	}
	o.log.Info("snapshot ingested",
		zap.String("snapshot_id", snapshotID),
		zap.String("s3_path", record.S3Path))
	return false, nil
}

// ingestSnapshotMetadata copies the frame's metadata sidecar when the device
// uploaded one. Sidecars are optional; absence is not an ingestion failure.
func (o *Orchestrator) ingestSnapshotMetadata(ctx context.Context, snapshot *envelope.Snapshot, tenant, device, stem, snapshotID string, start time.Time) {
	sidecar, err := o.engine.FindFile(ctx, discovery.FindParams{
		Tenant:     tenant,
		DeviceID:   device,
		Prefix:     stem,
		Start:      start,
		End:        o.now(),
		Extensions: []string{".json"},
	})
	if errors.Is(err, discovery.ErrNotFound) {
		o.log.Debug("no metadata sidecar for snapshot",
			zap.String("snapshot_id", snapshotID))
		return
	}
	if err != nil {
		o.log.Error("find snapshot metadata sidecar",
			zap.String("snapshot_id", snapshotID), zap.Error(err))
		return
	}

	data, err := o.source.Get(ctx, sidecar.Key)
	if err != nil {
		o.log.Error("download snapshot metadata sidecar",
			zap.String("key", sidecar.Key), zap.Error(err))
		return
	}
	destKey := tenant + "/" + snapshotID + "_metadata.json"
	if err := o.dest.Put(ctx, destKey, bytes.NewReader(data), int64(len(data)), nil); err != nil {
		o.log.Error("upload snapshot metadata sidecar",
			zap.String("key", destKey), zap.Error(err))
		return
	}
	o.log.Debug("snapshot metadata sidecar uploaded",
		zap.String("key", destKey))
}
