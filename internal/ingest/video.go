package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/discovery"
	"github.com/your-org/fleetingest/internal/envelope"
	"github.com/your-org/fleetingest/internal/mdf"
	"github.com/your-org/fleetingest/pkg/queue"
)

// Metadata extensions per recorder: interior recordings carry per-fragment
// signal documents, training recordings carry raw IMU dumps.
var chunkExtensions = map[envelope.RecorderType][]string{
	envelope.RecorderInterior: {".json.zip"},
	envelope.RecorderTraining: {".csv.zip", ".csv"},
}

// fragmentIndexRe extracts the owning video's fragment index from a
// metadata fragment key.
var fragmentIndexRe = regexp.MustCompile(`_(\d+)\.mp4`)

func (o *Orchestrator) processVideo(ctx context.Context, msg *queue.Message, recorder envelope.RecorderType) error {
	video := envelope.NewVideo(msg, o.log)

	if video.Irrelevant(o.policy.TenantBlacklist, o.policy.RecorderBlacklist) {
		return o.drop(ctx, msg)
	}
	if !video.Validate() {
		o.log.Warn("video message failed validation",
			zap.String("message_id", msg.ID))
		return o.drop(ctx, msg)
	}

	if recorder == envelope.RecorderInterior {
		o.maybeRequestTraining(ctx, video)
	}

	params := discovery.SearchParams{
		Tenant:         video.Tenant(),
		DeviceID:       video.DeviceID(),
		Recorder:       recorder,
		RecordingID:    video.RecordingID(),
		UploadStarted:  video.UploadStarted(),
		UploadFinished: video.UploadFinished(),
	}

	result, err := o.engine.CheckAllParts(ctx, params, chunkExtensions[recorder])
	if err != nil {
		return fmt.Errorf("check artifact completeness: %w", err)
	}
	if !result.Complete {
		return o.deferMessage(ctx, msg)
	}

	record, err := o.ingestVideo(ctx, video, params)
	if errors.Is(err, ErrAlreadyExists) {
		o.log.Info("video already ingested, dropping message",
			zap.String("message_id", msg.ID))
		return o.drop(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("ingest video: %w", err)
	}

	switch recorder {
	case envelope.RecorderInterior:
		o.ingestVideoMetadata(ctx, video, record, result.MetadataKeys)
	case envelope.RecorderTraining:
		if err := o.ingestIMU(ctx, video, record, result.MetadataKeys); err != nil {
			return fmt.Errorf("ingest imu: %w", err)
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode ingestion record: %w", err)
	}
	if err := o.records.Publish(ctx, []byte(record.ID), payload, nil); err != nil {
		return fmt.Errorf("publish ingestion record: %w", err)
	}
	o.log.Info("video artifact ingested",
		zap.String("video_id", record.ID),
		zap.String("s3_path", record.S3Path))

	return o.drop(ctx, msg)
}

// maybeRequestTraining announces an interior recording as a candidate for
// high-quality training upload selection. Announcing is best effort; a
// publish failure never blocks the interior ingestion itself.
func (o *Orchestrator) maybeRequestTraining(ctx context.Context, video *envelope.Video) {
	if !o.policy.RequestTrainingUpload {
		return
	}
	if len(o.policy.TrainingWhitelist) > 0 && !slices.Contains(o.policy.TrainingWhitelist, video.Tenant()) {
		return
	}

	candidate := TrainingCandidate{
		StreamName:  strings.Replace(video.StreamName(), string(envelope.RecorderInterior), string(envelope.RecorderTraining), 1),
		DeviceID:    video.DeviceID(),
		FootageFrom: video.FootageFrom() - o.policy.FrameBufferMS,
		FootageTo:   video.FootageTo() + o.policy.FrameBufferMS,
	}
	payload, err := json.Marshal(candidate)
	if err != nil {
		o.log.Error("encode training candidate", zap.Error(err))
		return
	}
	if err := o.selector.Publish(ctx, []byte(candidate.DeviceID), payload, nil); err != nil {
		o.log.Error("publish training candidate",
			zap.String("stream", candidate.StreamName), zap.Error(err))
		return
	}
	o.log.Info("training upload requested",
		zap.String("stream", candidate.StreamName),
		zap.Int64("footage_from", candidate.FootageFrom),
		zap.Int64("footage_to", candidate.FootageTo))
}

// ingestVideo downloads the video fragments in index order, concatenates
// them, probes the result and uploads it to the destination store.
func (o *Orchestrator) ingestVideo(ctx context.Context, video *envelope.Video, params discovery.SearchParams) (*IngestionRecord, error) {
	videoID := fmt.Sprintf("%s_%d_%d", video.StreamName(), video.FootageFrom(), video.FootageTo())
	destKey := video.Tenant() + "/" + videoID + ".mp4"

	if o.policy.DiscardRepeatedVideo {
		exists, err := o.dest.Exists(ctx, destKey)
		if err != nil {
			return nil, fmt.Errorf("check destination for %s: %w", destKey, err)
		}
		if exists {
			return nil, ErrAlreadyExists
		}
	}

	keys, err := o.engine.ListVideoKeys(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list video fragments: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no video fragments inside upload window for %s", videoID)
	}

	var clip bytes.Buffer
	for _, key := range keys {
		data, err := o.source.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download fragment %s: %w", key, err)
		}
		clip.Write(data)
	}
	o.log.Debug("video fragments concatenated",
		zap.String("video_id", videoID),
		zap.Int("fragments", len(keys)),
		zap.Int("bytes", clip.Len()))

	info, err := o.prober.Probe(ctx, clip.Bytes())
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoID, err)
	}

	if err := o.dest.Put(ctx, destKey, &clip, int64(clip.Len()), nil); err != nil {
		return nil, fmt.Errorf("upload %s: %w", destKey, err)
	}

	return &IngestionRecord{
		ID:                         videoID,
		MediaType:                  "video",
		S3Path:                     o.dest.Bucket() + "/" + destKey,
		FootageFrom:                video.FootageFrom(),
		FootageTo:                  video.FootageTo(),
		Tenant:                     video.Tenant(),
		DeviceID:                   video.DeviceID(),
		Length:                     formatLength(info.DurationSeconds),
		Resolution:                 info.Resolution(),
		InternalMessageReferenceID: referenceID(videoID),
	}, nil
}

// ingestVideoMetadata merges the interior recording's metadata fragments
// into one document and uploads it next to the video. The merged file is an
// enrichment: when it cannot be produced the record still ships, flagged as
// having no metadata.
func (o *Orchestrator) ingestVideoMetadata(ctx context.Context, video *envelope.Video, record *IngestionRecord, metadataKeys map[string]struct{}) {
	record.MDFAvailable = "No"

	fragments, err := o.downloadFragments(ctx, metadataKeys)
	if err != nil {
		o.log.Error("download metadata fragments",
			zap.String("video_id", record.ID), zap.Error(err))
		return
	}
	merged, err := mdf.Merge(fragments)
	if err != nil {
		o.log.Error("merge metadata fragments",
			zap.String("video_id", record.ID), zap.Error(err))
		return
	}

	doc := map[string]any{
		"messageid":  video.MessageID(),
		"message":    rawOrString(video.Raw().Body),
		"resolution": merged.Resolution,
		"chunk":      merged.Bounds,
		"frame":      merged.Frames,
	}
	payload, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		o.log.Error("encode merged metadata",
			zap.String("video_id", record.ID), zap.Error(err))
		return
	}

	destKey := video.Tenant() + "/" + record.ID + MetadataFileExt
	if err := o.dest.Put(ctx, destKey, bytes.NewReader(payload), int64(len(payload)), nil); err != nil {
		o.log.Error("upload merged metadata",
			zap.String("key", destKey), zap.Error(err))
		return
	}

	o.notifyMDF(ctx, record.ID, o.dest.Bucket()+"/"+destKey)
	record.MDFAvailable = "Yes"
	record.SyncFileExt = MetadataFileExt
	o.log.Info("metadata file merged and uploaded",
		zap.String("video_id", record.ID),
		zap.Int("fragments", len(fragments)))
}

// ingestIMU concatenates the training recording's IMU fragments in order
// and uploads the combined dump. Unlike interior metadata, IMU data is the
// entire point of a training recording, so a failure here fails the
// ingestion.
func (o *Orchestrator) ingestIMU(ctx context.Context, video *envelope.Video, record *IngestionRecord, metadataKeys map[string]struct{}) error {
	fragments, err := o.downloadFragments(ctx, metadataKeys)
	if err != nil {
		return err
	}

	var dump bytes.Buffer
	for _, fragment := range fragments {
		dump.Write(fragment.Data)
	}

	destKey := video.Tenant() + "/" + record.ID + IMUFileExt
	if err := o.dest.Put(ctx, destKey, &dump, int64(dump.Len()), nil); err != nil {
		return fmt.Errorf("upload %s: %w", destKey, err)
	}

	o.notifyMDF(ctx, record.ID, o.dest.Bucket()+"/"+destKey)
	record.SyncFileExt = IMUFileExt
	o.log.Info("imu dump uploaded",
		zap.String("video_id", record.ID),
		zap.Int("fragments", len(fragments)))
	return nil
}

func (o *Orchestrator) notifyMDF(ctx context.Context, id, s3Path string) {
	payload, err := json.Marshal(MDFNotification{ID: id, S3Path: s3Path})
	if err != nil {
		o.log.Error("encode mdf notification", zap.Error(err))
		return
	}
	if err := o.mdf.Publish(ctx, []byte(id), payload, nil); err != nil {
		o.log.Error("publish mdf notification",
			zap.String("video_id", id), zap.Error(err))
	}
}

// downloadFragments fetches the given fragment keys in their owning video's
// index order, transparently decompressing gzip-packed ones.
func (o *Orchestrator) downloadFragments(ctx context.Context, keys map[string]struct{}) ([]mdf.Fragment, error) {
	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return metadataFragmentIndex(ordered[i]) < metadataFragmentIndex(ordered[j])
	})

	fragments := make([]mdf.Fragment, 0, len(ordered))
	for _, key := range ordered {
		data, err := o.source.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download fragment %s: %w", key, err)
		}
		if strings.HasSuffix(key, ".zip") {
			data, err = gunzip(data)
			if err != nil {
				return nil, fmt.Errorf("decompress fragment %s: %w", key, err)
			}
		}
		fragments = append(fragments, mdf.Fragment{Name: path.Base(key), Data: data})
	}
	return fragments, nil
}

func metadataFragmentIndex(key string) int {
	groups := fragmentIndexRe.FindStringSubmatch(key)
	if groups == nil {
		return 0
	}
	n, _ := strconv.Atoi(groups[1])
	return n
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// rawOrString embeds the original message body verbatim when it is valid
// JSON, otherwise as a plain string.
func rawOrString(body []byte) any {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
