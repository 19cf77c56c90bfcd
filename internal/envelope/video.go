package envelope

import (
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

// videoTopicSuffix is the only notification topic video upload events are
// published on; anything else claiming to be a video event is noise.
const videoTopicSuffix = "video-footage-events"

// terraformTopic is a legacy producer that nests the recording id under
// value.properties instead of the attribute map.
const terraformTopic = "prod-inputEventsTerraform"

var videoRecorders = []RecorderType{RecorderInterior, RecorderTraining, RecorderFront}

// Video is the typed view over a video upload event.
type Video struct {
	*Envelope
}

// NewVideo wraps a raw message in the video view.
func NewVideo(msg *queue.Message, log *zap.Logger) *Video {
	return &Video{Envelope: New(msg, log)}
}

// StreamName returns the upload stream name, or "" when absent.
func (v *Video) StreamName() string {
	name, ok := stringField(v.Message(), "streamName")
	if !ok {
		v.log.Warn("field 'streamName' not found in message",
			zap.String("message_id", v.MessageID()))
		return ""
	}
	return name
}

// Recorder derives the recorder type from the stream name, falling back to
// the recording id for producers that omit the stream.
func (v *Video) Recorder() RecorderType {
	subject := v.StreamName()
	if subject == "" {
		subject = v.RecordingID()
	}
	for _, recorder := range videoRecorders {
		if strings.Contains(subject, string(recorder)) {
			return recorder
		}
	}
	return RecorderUnknown
}

// RecordingID returns the recording id. Its location depends on the
// producing topic: the legacy terraform topic nests it in the payload, every
// other producer carries it as a message attribute.
func (v *Video) RecordingID() string {
	if v.TopicARN() == terraformTopic {
		value, _ := v.Message()["value"].(map[string]any)
		properties, _ := value["properties"].(map[string]any)
		id, ok := stringField(properties, "recording_id")
		if !ok {
			v.log.Debug("field 'recording_id' not found in properties",
				zap.String("message_id", v.MessageID()))
		}
		return id
	}
	return v.Attribute("recordingId")
}

// DeviceID returns the device id attribute, or "" when absent.
func (v *Video) DeviceID() string {
	return v.Attribute("deviceId")
}

// FootageFrom returns the start of the footage window in epoch ms.
func (v *Video) FootageFrom() int64 {
	from, ok := int64Field(v.Message(), "footageFrom")
	if !ok {
		v.log.Debug("field 'footageFrom' not found in message",
			zap.String("message_id", v.MessageID()))
	}
	return from
}

// FootageTo returns the end of the footage window in epoch ms.
func (v *Video) FootageTo() int64 {
	to, ok := int64Field(v.Message(), "footageTo")
	if !ok {
		v.log.Debug("field 'footageTo' not found in message",
			zap.String("message_id", v.MessageID()))
	}
	return to
}

// UploadStarted returns when the device began uploading, or the zero time.
func (v *Video) UploadStarted() time.Time {
	ms, ok := int64Field(v.Message(), "uploadStarted")
	if !ok {
		v.log.Debug("field 'uploadStarted' not found in message",
			zap.String("message_id", v.MessageID()))
		return time.Time{}
	}
	return epochMS(ms)
}

// UploadFinished returns when the device finished uploading, or the zero
// time.
func (v *Video) UploadFinished() time.Time {
	ms, ok := int64Field(v.Message(), "uploadFinished")
	if !ok {
		v.log.Debug("field 'uploadFinished' not found in message",
			zap.String("message_id", v.MessageID()))
		return time.Time{}
	}
	return epochMS(ms)
}

// Validate reports whether the message contents are usable for ingestion.
func (v *Video) Validate() bool {
	// nothing structural to check for video events at the moment; malformed
	// ones fail irrelevancy or downstream retrieval instead
	return true
}

// Irrelevant reports whether the message is not meant to be ingested at all.
// It signals only strong positives: topic, stream name and recording id must
// all identify the message as a video footage event, and neither recorder
// nor tenant may be blacklisted. When in doubt it returns false and lets
// validation and downstream logic decide.
func (v *Video) Irrelevant(tenantBlacklist, recorderBlacklist []string) bool {
	if v.TopicARN() == "" {
		v.log.Debug("topic could not be identified",
			zap.String("message_id", v.MessageID()))
		return true
	}
	if v.StreamName() == "" {
		v.log.Debug("could not find a stream name",
			zap.String("message_id", v.MessageID()))
		return true
	}
	if v.RecordingID() == "" {
		v.log.Debug("could not find a recording id",
			zap.String("message_id", v.MessageID()))
		return true
	}
	if recorder := v.Recorder(); slices.Contains(recorderBlacklist, string(recorder)) {
		v.log.Info("recorder is blacklisted",
			zap.String("recorder", string(recorder)),
			zap.String("message_id", v.MessageID()))
		return true
	}
	if tenant := v.Tenant(); slices.Contains(tenantBlacklist, tenant) {
		v.log.Info("tenant is blacklisted",
			zap.String("tenant", tenant),
			zap.String("message_id", v.MessageID()))
		return true
	}
	if topic := v.TopicARN(); !strings.HasSuffix(topic, videoTopicSuffix) {
		v.log.Debug("topic is not for video footage events",
			zap.String("topic", topic),
			zap.String("message_id", v.MessageID()))
		return true
	}
	return false
}
