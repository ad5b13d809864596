package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/origin/pkg/checkpoint"
)

// counterState is a minimal state for executor tests.
type counterState struct {
	Count int      `json:"count"`
	Log   []string `json:"log"`
}

func counterReducer(prev *counterState, u Update) *counterState {
	next := *prev
	next.Log = append([]string{}, prev.Log...)
	for k, v := range u {
		switch k {
		case "count":
			next.Count, _ = v.(int)
		case "log":
			if s, ok := v.(string); ok {
				next.Log = append(next.Log, s)
			}
		}
	}
	return &next
}

func newCounterState() *counterState { return &counterState{} }

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func buildTestExecutor(t *testing.T, store checkpoint.Store, suspendAt int) *Executor[*counterState] {
	t.Helper()
	g := New[*counterState]()
	g.AddNode("step", func(ctx context.Context, st *counterState) (Update, error) {
		if suspendAt > 0 && st.Count == suspendAt {
			if v, ok := ResumeValue(ctx); ok {
				return Update{"count": st.Count + 1, "log": fmt.Sprintf("resumed:%v", v)}, nil
			}
			return nil, Suspend("appr_test", map[string]any{"kind": "test", "approval_id": "appr_test"})
		}
		return Update{"count": st.Count + 1, "log": fmt.Sprintf("step:%d", st.Count)}, nil
	})
	g.AddEdge(Start, "step")
	g.AddConditionalEdge("step", func(st *counterState) string {
		if st.Count >= 3 {
			return End
		}
		return "step"
	})

	ex, err := NewExecutor(g, counterReducer, store, newCounterState)
	require.NoError(t, err)
	return ex
}

func TestExecutorRunsToEnd(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ex := buildTestExecutor(t, store, 0)

	events := collect(ex.Stream(context.Background(), Request{ThreadID: "t1", Input: Update{"count": 0}}))

	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1].Mode)

	// One checkpoint per node step, monotone ids, latest holds final state.
	latest, err := store.GetLatest(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	state, suspended, err := DecodeEnvelope(latest.State, newCounterState)
	require.NoError(t, err)
	assert.Empty(t, suspended)
	assert.Equal(t, 3, state.Count)
	assert.Equal(t, []string{"step:0", "step:1", "step:2"}, state.Log)
}

func TestExecutorSuspendAndResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ex := buildTestExecutor(t, store, 1)
	ctx := context.Background()

	events := collect(ex.Stream(ctx, Request{ThreadID: "t1", Input: Update{"count": 0}}))
	last := events[len(events)-1]
	require.Equal(t, "interrupt", last.Mode)
	assert.Equal(t, "appr_test", last.Interrupt.ApprovalID)

	// The interrupt is pending on the latest checkpoint.
	latest, err := store.GetLatest(ctx, "t1")
	require.NoError(t, err)
	pending, err := store.PendingInterrupts(ctx, "t1", latest.CheckpointID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Resume completes the run and clears the interrupt.
	events = collect(ex.Stream(ctx, Request{ThreadID: "t1", Resume: "approve"}))
	assert.Equal(t, "done", events[len(events)-1].Mode)

	latest, err = store.GetLatest(ctx, "t1")
	require.NoError(t, err)
	pending, err = store.PendingInterrupts(ctx, "t1", latest.CheckpointID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	state, _, err := DecodeEnvelope(latest.State, newCounterState)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Count)
	assert.Contains(t, state.Log, "resumed:approve")
}

func TestExecutorResumeWithoutSuspension(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ex := buildTestExecutor(t, store, 0)

	events := collect(ex.Stream(context.Background(), Request{ThreadID: "t1", Resume: true}))
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1].Mode)
}

func TestExecutorLiveUpdateOnResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ex := buildTestExecutor(t, store, 1)
	ctx := context.Background()

	collect(ex.Stream(ctx, Request{ThreadID: "t1", Input: Update{"count": 0}}))
	events := collect(ex.Stream(ctx, Request{
		ThreadID:   "t1",
		Resume:     true,
		LiveUpdate: Update{"log": "live-toggle"},
	}))
	assert.Equal(t, "done", events[len(events)-1].Mode)

	latest, _ := store.GetLatest(ctx, "t1")
	state, _, err := DecodeEnvelope(latest.State, newCounterState)
	require.NoError(t, err)
	assert.Contains(t, state.Log, "live-toggle")
}

func TestGraphValidate(t *testing.T) {
	g := New[*counterState]()
	g.AddNode("a", func(ctx context.Context, st *counterState) (Update, error) { return nil, nil })
	assert.Error(t, g.Validate(), "missing entry edge")

	g.AddEdge(Start, "a")
	assert.NoError(t, g.Validate())

	g.AddEdge("a", "missing")
	assert.Error(t, g.Validate())
}

func TestMemoryStoreMonotoneIDs(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	id1, err := store.Put(ctx, "t", []byte(`{"state":{},"suspended_node":""}`))
	require.NoError(t, err)
	id2, err := store.Put(ctx, "t", []byte(`{"state":{},"suspended_node":""}`))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	require.NoError(t, store.Clear(ctx, "t"))
	latest, err := store.GetLatest(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
