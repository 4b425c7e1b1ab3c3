package logging

import (
	"go.uber.org/zap"
)

// EventKind classifies events reported to a Sink
type EventKind string

const (
	EventMalformedMessage EventKind = "malformed_message"
	EventTransportError   EventKind = "transport_error"
	EventConnectionOpened EventKind = "connection_opened"
	EventConnectionClosed EventKind = "connection_closed"
	EventRequestSent      EventKind = "request_sent"
	EventRecordAdded      EventKind = "record_added"
)

// Event is a typed observability event
type Event struct {
	Kind   EventKind
	Source string // component instance that raised the event
	CID    string
	Count  int
	Err    error
}

// Sink accepts events from the retrieval core
// Implementations must not panic and must not block for long
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// NopSink discards every event
var NopSink Sink = SinkFunc(func(Event) {})

type zapSink struct {
	log *zap.Logger
}

// NewZapSink returns a Sink that writes events to a zap logger
// Errors are logged at error level, lifecycle events at info, per-record events at debug
func NewZapSink(log *zap.Logger) Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &zapSink{log: log}
}

func (s *zapSink) Record(e Event) {
	fields := []zap.Field{zap.String("event", string(e.Kind))}
	if e.Source != "" {
		fields = append(fields, zap.String("source", e.Source))
	}
	if e.CID != "" {
		fields = append(fields, zap.String("cid", e.CID))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}

	switch e.Kind {
	case EventMalformedMessage, EventTransportError:
		s.log.Error("retrieval error", append(fields, zap.Error(e.Err))...)
	case EventRecordAdded:
		s.log.Debug("retrieval event", fields...)
	default:
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}
		s.log.Info("retrieval event", fields...)
	}
}
