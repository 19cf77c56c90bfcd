// Package envelope turns raw queue messages into typed views over the
// artifact families the fleet produces. Producers disagree on the message
// shape (some wrap payloads in a notification envelope with a JSON-encoded
// inner message, attribute maps use either "Value" or "StringValue"), so all
// of that drift is absorbed here: every accessor degrades to a zero value
// and logs instead of failing, and no I/O ever happens in this package.
package envelope

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/queue"
)

// RecorderType identifies the device recorder an artifact came from.
type RecorderType string

const (
	RecorderUnknown         RecorderType = ""
	RecorderInterior        RecorderType = "InteriorRecorder"
	RecorderTraining        RecorderType = "TrainingRecorder"
	RecorderMultiSnapshot   RecorderType = "TrainingMultiSnapshot"
	RecorderFront           RecorderType = "FrontRecorder"
	RecorderInteriorPreview RecorderType = "InteriorRecorderPreview"
)

// Classify identifies the recorder type of a message by substring presence
// over its serialized form. The test is a mutual exclusion: the message must
// name exactly one recorder, otherwise it is unknown and gets routed to the
// catch-all branch rather than guessed at.
func Classify(msg *queue.Message) RecorderType {
	s := string(msg.Body)

	previews := strings.Count(s, string(RecorderInteriorPreview))
	counts := map[RecorderType]int{
		// every InteriorRecorderPreview occurrence also contains
		// InteriorRecorder, discount it
		RecorderInterior:        strings.Count(s, string(RecorderInterior)) - previews,
		RecorderTraining:        strings.Count(s, string(RecorderTraining)),
		RecorderMultiSnapshot:   strings.Count(s, string(RecorderMultiSnapshot)),
		RecorderFront:           strings.Count(s, string(RecorderFront)),
		RecorderInteriorPreview: previews,
	}

	found := RecorderUnknown
	for recorder, n := range counts {
		if n <= 0 {
			continue
		}
		if found != RecorderUnknown {
			return RecorderUnknown
		}
		found = recorder
	}
	return found
}

// Envelope is the shared, tolerant view over a raw queue message. Concrete
// artifact families embed it.
type Envelope struct {
	msg *queue.Message
	log *zap.Logger

	body map[string]any
}

// New parses the message body. A body that is not valid JSON yields an empty
// view; nothing here ever fails hard.
func New(msg *queue.Message, log *zap.Logger) *Envelope {
	e := &Envelope{msg: msg, log: log, body: map[string]any{}}
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &e.body); err != nil {
			log.Warn("message body is not a JSON object",
				zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return e
}

// MessageID returns the queue-assigned message id.
func (e *Envelope) MessageID() string { return e.msg.ID }

// ReceiptHandle returns the handle used to delete or defer the message.
func (e *Envelope) ReceiptHandle() string { return e.msg.ReceiptHandle }

// ReceiveCount returns how many times the queue has delivered this message.
func (e *Envelope) ReceiveCount() int { return e.msg.ReceiveCount }

// Raw returns the underlying queue message.
func (e *Envelope) Raw() *queue.Message { return e.msg }

// Body returns the decoded top-level JSON object of the message body.
func (e *Envelope) Body() map[string]any { return e.body }

// Message returns the inner payload. Notification-wrapped producers place a
// further JSON-encoded document under "Message"; bare producers are the
// payload themselves.
func (e *Envelope) Message() map[string]any {
	raw, ok := e.body["Message"]
	if !ok {
		e.log.Debug("field 'Message' not found in body",
			zap.String("message_id", e.MessageID()))
		return e.body
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case string:
		inner := map[string]any{}
		if err := json.Unmarshal([]byte(strings.ReplaceAll(v, "'", "\"")), &inner); err != nil {
			e.log.Warn("inner 'Message' is not a JSON object",
				zap.String("message_id", e.MessageID()), zap.Error(err))
		}
		return inner
	default:
		e.log.Warn("inner 'Message' has unexpected type",
			zap.String("message_id", e.MessageID()))
		return map[string]any{}
	}
}

// MessageAttributes returns the attribute map, which lives either at the
// body root or inside the notification wrapper depending on the producer.
func (e *Envelope) MessageAttributes() map[string]any {
	if attrs, ok := e.body["MessageAttributes"].(map[string]any); ok {
		return attrs
	}
	if attrs, ok := e.Message()["MessageAttributes"].(map[string]any); ok {
		return attrs
	}
	e.log.Debug("field 'MessageAttributes' not found at root nor in body",
		zap.String("message_id", e.MessageID()))
	return map[string]any{}
}

// Attribute unwraps one message attribute. Some producers store the payload
// under "Value", others under "StringValue".
func (e *Envelope) Attribute(name string) string {
	raw, ok := e.MessageAttributes()[name]
	if !ok {
		e.log.Debug("attribute not found in 'MessageAttributes'",
			zap.String("attribute", name), zap.String("message_id", e.MessageID()))
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["Value"].(string); ok {
			return s
		}
		if s, ok := v["StringValue"].(string); ok {
			return s
		}
	}
	e.log.Debug("attribute carries neither 'Value' nor 'StringValue'",
		zap.String("attribute", name), zap.String("message_id", e.MessageID()))
	return ""
}

// Tenant returns the tenant attribute, or "" when absent.
func (e *Envelope) Tenant() string {
	return e.Attribute("tenant")
}

// TopicARN returns the last component of the notification topic ARN, or ""
// when the message carries none.
func (e *Envelope) TopicARN() string {
	arn, ok := e.body["TopicArn"].(string)
	if !ok {
		e.log.Debug("field 'TopicArn' not found in body",
			zap.String("message_id", e.MessageID()))
		return ""
	}
	parts := strings.Split(arn, ":")
	return parts[len(parts)-1]
}

// stringField reads a string out of a decoded JSON object.
func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// int64Field reads an integer out of a decoded JSON object, tolerating the
// number-as-string convention some producers use.
func int64Field(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// epochMS converts epoch milliseconds to a UTC time. Devices predating the
// millisecond convention send epoch seconds; those are recognized by
// magnitude.
func epochMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	// values below this are epoch seconds (cutoff is ~2001 in milliseconds)
	if ms < 1e12 {
		return time.Unix(ms, 0).UTC()
	}
	return time.UnixMilli(ms).UTC()
}
