package envelope

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

// UploadStatusAlreadyUploaded is reported by the device for chunks whose
// upload it has confirmed; anything else means the chunk may still be on its
// way to the staging store.
const UploadStatusAlreadyUploaded = "UPLOAD_STATUS__ALREADY_UPLOADED"

// Chunk is one device-reported fragment of a multi-part artifact.
type Chunk struct {
	UUID             string
	UploadStatus     string
	StartTimestampMS int64
	EndTimestampMS   int64
	PayloadSize      int64
}

// Available reports whether the device has confirmed the chunk upload.
func (c Chunk) Available() bool {
	return c.UploadStatus == UploadStatusAlreadyUploaded
}

// Snapshot is the typed view over a multi-snapshot upload event.
type Snapshot struct {
	*Envelope
}

// NewSnapshot wraps a raw message in the snapshot view.
func NewSnapshot(msg *queue.Message, log *zap.Logger) *Snapshot {
	return &Snapshot{Envelope: New(msg, log)}
}

func (s *Snapshot) value() map[string]any {
	if v, ok := s.Body()["value"].(map[string]any); ok {
		return v
	}
	if v, ok := s.Message()["value"].(map[string]any); ok {
		return v
	}
	s.log.Debug("field 'value' not found in message nor body",
		zap.String("message_id", s.MessageID()))
	return map[string]any{}
}

func (s *Snapshot) properties() map[string]any {
	if p, ok := s.value()["properties"].(map[string]any); ok {
		return p
	}
	s.log.Debug("field 'properties' not found in value",
		zap.String("message_id", s.MessageID()))
	return map[string]any{}
}

func (s *Snapshot) header() map[string]any {
	if h, ok := s.properties()["header"].(map[string]any); ok {
		return h
	}
	s.log.Debug("field 'header' not found in properties",
		zap.String("message_id", s.MessageID()))
	return map[string]any{}
}

// DeviceID returns the device id from the payload header, or "".
func (s *Snapshot) DeviceID() string {
	id, ok := stringField(s.header(), "device_id")
	if !ok {
		s.log.Debug("field 'device_id' not found in header",
			zap.String("message_id", s.MessageID()))
		return ""
	}
	parts := strings.Split(id, ":")
	return parts[len(parts)-1]
}

// Chunks returns the device-reported chunk descriptions.
func (s *Snapshot) Chunks() []Chunk {
	raw, ok := s.properties()["chunk_descriptions"].([]any)
	if !ok {
		s.log.Debug("field 'chunk_descriptions' not found in properties",
			zap.String("message_id", s.MessageID()))
		return nil
	}

	chunks := make([]Chunk, 0, len(raw))
	for _, entry := range raw {
		desc, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		uuid, _ := stringField(desc, "uuid")
		status, _ := stringField(desc, "upload_status")
		start, _ := int64Field(desc, "start_timestamp_ms")
		end, _ := int64Field(desc, "end_timestamp_ms")
		size, _ := int64Field(desc, "payload_size")
		chunks = append(chunks, Chunk{
			UUID:             uuid,
			UploadStatus:     status,
			StartTimestampMS: start,
			EndTimestampMS:   end,
			PayloadSize:      size,
		})
	}
	return chunks
}

// EventType returns the trailing component of the eventType attribute.
func (s *Snapshot) EventType() string {
	eventType := s.Attribute("eventType")
	if eventType == "" {
		return ""
	}
	parts := strings.Split(eventType, ".")
	return parts[len(parts)-1]
}

// SentTimestamp returns when the queue accepted the message, or the zero
// time.
func (s *Snapshot) SentTimestamp() time.Time {
	raw, ok := s.Raw().Attributes["SentTimestamp"]
	if !ok {
		s.log.Debug("field 'SentTimestamp' not found in attributes",
			zap.String("message_id", s.MessageID()))
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Debug("field 'SentTimestamp' is not numeric",
			zap.String("message_id", s.MessageID()))
		return time.Time{}
	}
	return epochMS(ms)
}

// Validate reports whether the message carries anything to ingest.
func (s *Snapshot) Validate() bool {
	if len(s.Chunks()) == 0 {
		s.log.Debug("field 'chunk_descriptions' is empty, nothing to ingest",
			zap.String("message_id", s.MessageID()))
		return false
	}
	return true
}

// Irrelevant reports whether the message should be dropped without
// ingestion. Only blacklisted tenants qualify.
func (s *Snapshot) Irrelevant(tenantBlacklist []string) bool {
	if tenant := s.Tenant(); slices.Contains(tenantBlacklist, tenant) {
		s.log.Info("tenant is blacklisted",
			zap.String("tenant", tenant),
			zap.String("message_id", s.MessageID()))
		return true
	}
	return false
}
