package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/caseflow/types"
)

func TestRouteCache_PutGet(t *testing.T) {
	t.Parallel()
	cache := NewRouteCache(time.Minute)
	defer cache.Close()

	d := Decision{Action: ActionRunSteps, StepIDs: []string{"step_key_facts"}}
	cache.Put("fp1", d)

	got, ok := cache.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, d.Action, got.Action)
	assert.Equal(t, d.StepIDs, got.StepIDs)

	_, ok = cache.Get("fp2")
	assert.False(t, ok)
}

func TestRouteCache_TTLExpiry(t *testing.T) {
	t.Parallel()
	cache := NewRouteCache(20 * time.Millisecond)
	defer cache.Close()

	cache.Put("fp", Decision{Action: ActionEnd})
	_, ok := cache.Get("fp")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = cache.Get("fp")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestRouteCache_Stats(t *testing.T) {
	t.Parallel()
	cache := NewRouteCache(time.Minute)
	defer cache.Close()

	cache.Get("missing")
	cache.Put("fp", Decision{Action: ActionEnd})
	cache.Get("fp")
	cache.Get("fp")

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
}

// ---------------------------------------------------------------------------
// Fingerprint
// ---------------------------------------------------------------------------

func TestFingerprint_ChangesWithStepStatus(t *testing.T) {
	t.Parallel()
	state := newTestState(t, types.TaskRisk)
	before := Fingerprint(state)

	completeStep(state, types.TaskDiscrepancy)
	after := Fingerprint(state)

	assert.NotEqual(t, before, after)
}

func TestFingerprint_ChangesWithWaitingFlag(t *testing.T) {
	t.Parallel()
	state := newTestState(t, types.TaskKeyFacts)
	before := Fingerprint(state)

	state.WaitingForHuman = true
	assert.NotEqual(t, before, Fingerprint(state))
}

func TestFingerprint_StableAcrossClones(t *testing.T) {
	t.Parallel()
	state := newTestState(t, types.TaskSummary, types.TaskRisk)
	completeStep(state, types.TaskKeyFacts)

	assert.Equal(t, Fingerprint(state), Fingerprint(state.Clone()))
}
