package session

import (
	"sync"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"go.uber.org/zap"
)

// EventKind names a presentation event
type EventKind string

const (
	EventCameraStatus   EventKind = "camera_status"
	EventDevices        EventKind = "devices"
	EventScanAccepted   EventKind = "scan_accepted"
	EventLookupStarted  EventKind = "lookup_started"
	EventLookupSuccess  EventKind = "lookup_success"
	EventLookupNotFound EventKind = "lookup_not_found"
	EventLookupError    EventKind = "lookup_error"
	EventCameraError    EventKind = "camera_error"
	EventIdleStop       EventKind = "idle_stop"
)

// Event is a sequenced notification for the presentation layer
type Event struct {
	Seq        int64           `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	Kind       EventKind       `json:"kind"`
	State      string          `json:"state,omitempty"`
	Message    string          `json:"message,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Query      string          `json:"query,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	Devices    []camera.Device `json:"devices,omitempty"`
	Selectable bool            `json:"selectable,omitempty"`
	Fields     []lookup.Field  `json:"fields,omitempty"`
}

// Sink consumes presentation events
type Sink interface {
	Emit(event Event)
}

// EventBus stores recent events, assigns sequence numbers and forwards each
// event to the attached sinks.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	forward   []Sink
}

// NewEventBus creates a bounded in-memory event buffer
func NewEventBus(maxEvents int, forward ...Sink) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		forward:   forward,
	}
}

// Attach adds a sink that receives every event published from now on
func (b *EventBus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = append(b.forward, s)
}

// Emit publishes the event and forwards it
func (b *EventBus) Emit(event Event) {
	event = b.Publish(event)

	b.mu.RLock()
	forward := b.forward
	b.mu.RUnlock()

	for _, s := range forward {
		s.Emit(event)
	}
}

// Publish appends one event and assigns sequence and timestamp
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the "events" name
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.Int64("seq", e.Seq),
		zap.String("kind", string(e.Kind)),
	}
	if e.State != "" {
		fields = append(fields, zap.String("state", e.State))
	}
	if e.Query != "" {
		fields = append(fields, zap.String("query", e.Query))
	}
	if e.DeviceID != "" {
		fields = append(fields, zap.String("device", e.DeviceID))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}

	switch e.Kind {
	case EventLookupError, EventCameraError:
		s.logger.Warn("Session event", append(fields, zap.String("error_kind", e.ErrorKind))...)
	case EventLookupSuccess:
		s.logger.Info("Session event", append(fields, zap.Int("fields", len(e.Fields)))...)
	default:
		s.logger.Info("Session event", fields...)
	}
}
