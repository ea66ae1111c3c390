package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/caseflow/types"
)

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

func TestFeedbackGate_RequestPausesRun(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)

	req := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "approve?", []string{"approve", "reject"})
	next := gate.Request(state, req)

	assert.True(t, next.WaitingForHuman)
	assert.Equal(t, RunStatusPaused, next.Status)
	require.NotNil(t, next.ActiveFeedback)
	assert.Equal(t, req.ID, next.ActiveFeedback.ID)

	// Original untouched.
	assert.False(t, state.WaitingForHuman)
}

func TestFeedbackGate_SecondRequestQueues(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)

	first := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "first", nil)
	second := NewFeedbackRequest(types.TaskSummary, FeedbackClarification, "second", nil)

	next := gate.Request(state, first)
	next = gate.Request(next, second)

	assert.Equal(t, first.ID, next.ActiveFeedback.ID)
	require.Len(t, next.FeedbackQueue, 1)
	assert.Equal(t, second.ID, next.FeedbackQueue[0].ID)
}

// ---------------------------------------------------------------------------
// Respond
// ---------------------------------------------------------------------------

func TestFeedbackGate_RespondResumesRun(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)
	req := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "approve?", nil)
	paused := gate.Request(state, req)

	resumed, err := gate.Respond(paused, req.ID, &FeedbackResponse{Approved: true, Answer: "approve"})
	require.NoError(t, err)

	assert.False(t, resumed.WaitingForHuman)
	assert.Equal(t, RunStatusRunning, resumed.Status)
	assert.Nil(t, resumed.ActiveFeedback)

	stored, ok := resumed.FeedbackResponses[req.ID]
	require.True(t, ok)
	assert.True(t, stored.Approved)
	assert.False(t, stored.ReceivedAt.IsZero())

	// Answer merged into metadata for downstream steps.
	fb, ok := resumed.Metadata["feedback"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fb, req.ID)
}

func TestFeedbackGate_RespondLeavesCallerResponseUntouched(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)
	req := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "approve?", nil)
	paused := gate.Request(state, req)

	resp := &FeedbackResponse{Approved: true, Answer: "approve"}
	resumed, err := gate.Respond(paused, req.ID, resp)
	require.NoError(t, err)

	// The caller's response is not written back; the gate stores its
	// own copy with RequestID and ReceivedAt filled in.
	assert.Empty(t, resp.RequestID)
	assert.True(t, resp.ReceivedAt.IsZero())

	stored, ok := resumed.FeedbackResponses[req.ID]
	require.True(t, ok)
	assert.NotSame(t, resp, stored)
	assert.Equal(t, req.ID, stored.RequestID)
	assert.False(t, stored.ReceivedAt.IsZero())
}

func TestFeedbackGate_RespondActivatesQueuedRequest(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)
	first := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "first", nil)
	second := NewFeedbackRequest(types.TaskSummary, FeedbackClarification, "second", nil)
	paused := gate.Request(gate.Request(state, first), second)

	next, err := gate.Respond(paused, first.ID, &FeedbackResponse{Approved: true})
	require.NoError(t, err)

	// Still paused on the queued request.
	assert.True(t, next.WaitingForHuman)
	assert.Equal(t, RunStatusPaused, next.Status)
	require.NotNil(t, next.ActiveFeedback)
	assert.Equal(t, second.ID, next.ActiveFeedback.ID)
	assert.Empty(t, next.FeedbackQueue)
}

func TestFeedbackGate_RespondUnknownRequestID(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)
	req := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "approve?", nil)
	paused := gate.Request(state, req)

	_, err := gate.Respond(paused, "bogus-id", &FeedbackResponse{Approved: true})
	require.Error(t, err)
	assert.Equal(t, types.ErrFeedbackNotFound, types.GetErrorCode(err))
}

func TestFeedbackGate_RespondWithoutPendingRequest(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)

	_, err := gate.Respond(state, "any", &FeedbackResponse{})
	require.Error(t, err)
	assert.Equal(t, types.ErrFeedbackNotFound, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Forfeit
// ---------------------------------------------------------------------------

func TestFeedbackGate_ForfeitSkipsStepAndResumes(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)
	req := NewFeedbackRequest(types.TaskRisk, FeedbackApproval, "approve?", nil)
	paused := gate.Request(state, req)

	resumed := gate.Forfeit(paused)

	assert.False(t, resumed.WaitingForHuman)
	assert.Equal(t, RunStatusRunning, resumed.Status)
	assert.Nil(t, resumed.ActiveFeedback)

	step, _ := resumed.Plan.StepByTask(types.TaskRisk)
	assert.Equal(t, StepSkipped, step.Status)
}

func TestFeedbackGate_ForfeitWithoutActiveRequestIsNoop(t *testing.T) {
	t.Parallel()
	gate := NewFeedbackGate(nil)
	state := newTestState(t, types.TaskRisk)

	assert.Same(t, state, gate.Forfeit(state))
}
