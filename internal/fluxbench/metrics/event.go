package metrics

import (
	"time"
)

type RequestType string

const (
	RequestTypeHttp RequestType = "http"
	RequestTypeWs   RequestType = "ws"
)

type EventName string

const (
	Publish        EventName = "publish"
	PublishErr     EventName = "publish_err"
	Subscribe      EventName = "subscribe"
	SubscribeErr   EventName = "subscribe_err"
	RecvMessage    EventName = "recv_message"
	RecvMessageErr EventName = "recv_message_err"
)

// Failure returns the event name reported when the operation named n fails.
func (n EventName) Failure() EventName {
	switch n {
	case Publish:
		return PublishErr
	case Subscribe:
		return SubscribeErr
	case RecvMessage:
		return RecvMessageErr
	default:
		return n
	}
}

// IsFailure reports whether n is one of the *_err names.
func (n EventName) IsFailure() bool {
	switch n {
	case PublishErr, SubscribeErr, RecvMessageErr:
		return true
	default:
		return false
	}
}

// Event is one observed operation. Events are immutable once emitted.
type Event struct {
	RequestType    RequestType `json:"request_type"`
	Name           EventName   `json:"name"`
	ResponseTimeMs float64     `json:"response_time_ms"`
	ResponseLength int         `json:"response_length_bytes"`
	Error          string      `json:"error,omitempty"`
	// Cancelled marks a failure caused by the run stopping rather than by the broker.
	Cancelled      bool        `json:"cancelled,omitempty"`
	Time           time.Time   `json:"time"`
}

// Sink receives events from every agent concurrently. Implementations must not block the caller for more than
// a negligible time and have no way to fail the caller.
type Sink interface {
	Emit(event Event)
}

// Outcome is what an agent operation observed.
type Outcome struct {
	ResponseTimeMs float64
	ResponseLength int
	Err            error
	// Cancelled is set when Err only happened because the caller's context was done.
	Cancelled      bool
}

// Record turns an outcome into an event and emits it. A non-nil Err switches name to its failure name and
// is the only place error detail is rendered into an event.
func Record(sink Sink, requestType RequestType, name EventName, outcome Outcome) {
	event := Event{
		RequestType:    requestType,
		Name:           name,
		ResponseTimeMs: outcome.ResponseTimeMs,
		ResponseLength: outcome.ResponseLength,
		Time:           time.Now(),
	}
	if outcome.Err != nil {
		event.Name = name.Failure()
		event.Error = outcome.Err.Error()
		event.Cancelled = outcome.Cancelled
	}
	sink.Emit(event)
}
