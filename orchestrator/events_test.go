package orchestrator

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/caseflow/internal/metrics"
	"github.com/BaSui01/caseflow/types"
)

func TestChannelSink_DeliversInOrder(t *testing.T) {
	t.Parallel()
	sink := NewChannelSink(8)

	sink.Emit(Event{Type: EventStepStarted, RunID: "run_1", TaskType: types.TaskKeyFacts})
	sink.Emit(Event{Type: EventStepCompleted, RunID: "run_1", TaskType: types.TaskKeyFacts})
	sink.Close()

	var got []EventType
	for event := range sink.Events() {
		got = append(got, event.Type)
	}
	assert.Equal(t, []EventType{EventStepStarted, EventStepCompleted}, got)
	assert.Zero(t, sink.Dropped())
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	t.Parallel()
	sink := NewChannelSink(2)

	for i := 0; i < 5; i++ {
		sink.Emit(Event{Type: EventStepStarted, RunID: "run_2"})
	}

	assert.Equal(t, uint64(3), sink.Dropped())

	sink.Close()
	count := 0
	for range sink.Events() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestChannelSink_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	sink := NewChannelSink(1)
	sink.Close()
	sink.Close() // second close must not panic
}

func TestChannelSink_DefaultBuffer(t *testing.T) {
	t.Parallel()
	sink := NewChannelSink(0)

	// Zero buffer falls back to the default capacity.
	sink.Emit(Event{Type: EventRunCompleted, RunID: "run_3", Timestamp: time.Now()})
	assert.Zero(t, sink.Dropped())

	sink.Close()
	event, ok := <-sink.Events()
	require.True(t, ok)
	assert.Equal(t, EventRunCompleted, event.Type)
}

func TestNopSink_Discards(t *testing.T) {
	t.Parallel()
	var sink NopSink
	sink.Emit(Event{Type: EventStepStarted})
}

func TestSinkBreakerHandler_RecordsTransitions(t *testing.T) {
	ns := nextMetricsNamespace()
	collector := metrics.NewCollector(ns, nil)
	sink := NewChannelSink(4)
	defer sink.Close()
	handler := &sinkBreakerHandler{sink: sink, collector: collector}

	handler.OnStateChange(BreakerEvent{
		TaskType:  types.TaskKeyFacts,
		OldState:  CircuitClosed,
		NewState:  CircuitOpen,
		Timestamp: time.Now(),
		Reason:    "failure threshold reached",
		Failures:  5,
	})

	event := <-sink.Events()
	assert.Equal(t, EventBreakerTripped, event.Type)
	assert.Equal(t, "open", event.Payload["new_state"])

	expected := strings.NewReader(fmt.Sprintf(`
# HELP %[1]s_breaker_transitions_total Total number of circuit breaker state transitions
# TYPE %[1]s_breaker_transitions_total counter
%[1]s_breaker_transitions_total{task_type="key_facts",to_state="open"} 1
`, ns))
	require.NoError(t, testutil.GatherAndCompare(prometheus.DefaultGatherer, expected,
		ns+"_breaker_transitions_total"))
}
