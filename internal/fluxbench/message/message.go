// Package message defines the JSON payloads exchanged with the broker.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultContent = "test-message"
	TimestampField = "timestamp"
)

// Envelope is the payload a publisher sends. Timestamp is wall-clock seconds since the epoch at creation.
type Envelope struct {
	Id        string  `json:"id"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// PublishRequest is the body POSTed to the ingestion endpoint. Message holds a serialized Envelope.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// Handshake is the first and only frame a subscriber sends.
type Handshake struct {
	SubscriberId string `json:"subscriber_id"`
	Topic        string `json:"topic"`
}

// NewEnvelope builds an envelope with a fresh random id.
func NewEnvelope(content string, now time.Time) Envelope {
	return Envelope{
		Id:        uuid.NewString(),
		Content:   content,
		Timestamp: EpochSeconds(now),
	}
}

func (e Envelope) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

// NewPublishRequest serializes envelope into the request body for topic.
func NewPublishRequest(topic string, envelope Envelope) ([]byte, error) {
	serialized, err := envelope.Marshal()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(PublishRequest{Topic: topic, Message: serialized})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

func (h Handshake) Marshal() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// EpochSeconds converts t to fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// DecodeSentTime extracts the numeric timestamp field from an inbound frame. Frames without the field report
// recvTime, so their latency is zero. Frames that are not JSON objects, or whose timestamp is not a number,
// are errors.
func DecodeSentTime(frame []byte, recvTime float64) (float64, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return 0, errors.Wrap(err, "decoding inbound frame")
	}
	if fields == nil {
		return 0, errors.New("inbound frame is not a JSON object")
	}
	raw, ok := fields[TimestampField]
	if !ok {
		return recvTime, nil
	}
	var sent *float64
	if err := json.Unmarshal(raw, &sent); err != nil {
		return 0, errors.Wrapf(err, "decoding %s field %s", TimestampField, string(raw))
	}
	if sent == nil {
		return 0, errors.Errorf("%s field is null", TimestampField)
	}
	return *sent, nil
}

// LatencyMs is (recv - sent) in milliseconds. Clock skew between hosts can make it negative; it is reported as is.
func LatencyMs(sent, recv float64) float64 {
	return (recv - sent) * 1000
}
