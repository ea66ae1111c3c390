package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/caseflow/internal/metrics"
	"github.com/BaSui01/caseflow/types"
)

// EventType identifies a progress event.
type EventType string

const (
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventAdaptationApplied EventType = "adaptation_applied"
	EventFeedbackRequested EventType = "feedback_requested"
	EventRunCompleted      EventType = "run_completed"
	EventBreakerTripped    EventType = "breaker_tripped"
)

// Event is one entry in the append-only progress stream.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	TaskType  types.TaskType `json:"task_type,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ProgressSink receives orchestrator events. Implementations must not
// block: the control loop emits synchronously.
type ProgressSink interface {
	Emit(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChannelSink buffers events on a channel for an external consumer.
// When the buffer is full the event is dropped and counted rather than
// blocking the control loop.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Emit implements ProgressSink.
func (s *ChannelSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events dropped due to a full buffer.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the event channel. Emit must not be called after Close.
func (s *ChannelSink) Close() {
	s.once.Do(func() { close(s.ch) })
}

// sinkBreakerHandler forwards circuit breaker transitions to the sink
// and the metrics collector. Breakers are orchestrator-scoped, so no
// run id is attached.
type sinkBreakerHandler struct {
	sink      ProgressSink
	collector *metrics.Collector
}

func (h *sinkBreakerHandler) OnStateChange(event BreakerEvent) {
	if h.collector != nil {
		h.collector.RecordBreakerTransition(string(event.TaskType), event.NewState.String())
	}
	h.sink.Emit(Event{
		Type:      EventBreakerTripped,
		TaskType:  event.TaskType,
		Timestamp: event.Timestamp,
		Payload: map[string]any{
			"old_state": event.OldState.String(),
			"new_state": event.NewState.String(),
			"reason":    event.Reason,
			"failures":  event.Failures,
		},
	})
}
