// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/origin/pkg/checkpoint"
	"github.com/kadirpekel/origin/pkg/observability"
)

// maxSteps is a hard backstop against wiring bugs; the agent's own
// tool-call limit ends turns far earlier.
const maxSteps = 200

// Event is one unit of the executor's multi-mode stream.
type Event struct {
	// Mode: "token", "update", "interrupt", "error", "done".
	Mode string

	// Node that produced the event.
	Node string

	// Token text, in token mode.
	Token string

	// Update is the node's partial state update, in update mode.
	Update Update

	// Interrupt payload, in interrupt mode.
	Interrupt *Interrupt

	// Err, in error mode.
	Err error
}

// Request starts or resumes one turn on a thread.
type Request struct {
	ThreadID string

	// Input is the initial update for a new turn. Nil on resume.
	Input Update

	// Resume carries the human decision unfreezing a suspended turn.
	Resume any

	// LiveUpdate is merged into the restored state before resuming, so UI
	// toggles changed while the approval dialog was open take effect.
	LiveUpdate Update
}

// envelope is the persisted form of a checkpoint: the typed state plus the
// name of the node to run next (set while suspended).
type envelope struct {
	State         json.RawMessage `json:"state"`
	SuspendedNode string          `json:"suspended_node,omitempty"`
}

// Executor runs a graph over checkpointed state.
type Executor[S any] struct {
	graph    *Graph[S]
	reducer  Reducer[S]
	store    checkpoint.Store
	newState func() S

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor wires a validated graph to a checkpoint store.
func NewExecutor[S any](g *Graph[S], reducer Reducer[S], store checkpoint.Store, newState func() S) (*Executor[S], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Executor[S]{
		graph:    g,
		reducer:  reducer,
		store:    store,
		newState: newState,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Store exposes the underlying checkpoint store (for turn-level sanity
// checks by the supervisor).
func (e *Executor[S]) Store() checkpoint.Store { return e.store }

// lockThread serializes turns per thread.
func (e *Executor[S]) lockThread(threadID string) func() {
	e.mu.Lock()
	l, ok := e.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[threadID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Stream executes one turn and emits events until done, interrupt, or
// error. The returned channel is closed when the turn ends.
func (e *Executor[S]) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		unlock := e.lockThread(req.ThreadID)
		defer unlock()
		e.run(ctx, req, out)
	}()
	return out
}

func (e *Executor[S]) run(ctx context.Context, req Request, out chan<- Event) {
	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	emitToken := func(node, token string) {
		emit(Event{Mode: "token", Node: node, Token: token})
	}

	state, suspendedNode, err := e.restore(ctx, req.ThreadID)
	if err != nil {
		emit(Event{Mode: "error", Err: err})
		return
	}

	current := e.graph.entry
	var resumeValue any

	if req.Resume != nil {
		if suspendedNode == "" {
			emit(Event{Mode: "error", Err: fmt.Errorf("thread %s has no suspended node to resume", req.ThreadID)})
			return
		}
		current = suspendedNode
		resumeValue = req.Resume
		if req.LiveUpdate != nil {
			state = e.reducer(state, req.LiveUpdate)
		}
		if err := e.store.ClearInterrupts(ctx, req.ThreadID); err != nil {
			emit(Event{Mode: "error", Err: fmt.Errorf("failed to clear pending interrupt: %w", err)})
			return
		}
	} else if req.Input != nil {
		state = e.reducer(state, req.Input)
	}

	for step := 0; step < maxSteps; step++ {
		if current == End {
			emit(Event{Mode: "done"})
			return
		}
		node, ok := e.graph.nodes[current]
		if !ok {
			emit(Event{Mode: "error", Err: fmt.Errorf("unknown node %q", current)})
			return
		}

		nodeCtx := withNode(ctx, current, emitToken)
		if resumeValue != nil {
			nodeCtx = withResumeValue(nodeCtx, resumeValue)
			resumeValue = nil
		}

		spanCtx, span := observability.StartSpan(nodeCtx, "graph.node",
			attribute.String("node", current),
			attribute.String("thread_id", req.ThreadID))
		update, nodeErr := node(spanCtx, state)

		if intr, suspended := asInterrupt(nodeErr); suspended {
			observability.EndSpan(span, nil)
			if err := e.persist(ctx, req.ThreadID, state, current, intr); err != nil {
				emit(Event{Mode: "error", Err: err})
				return
			}
			emit(Event{Mode: "interrupt", Node: current, Interrupt: intr})
			return
		}
		observability.EndSpan(span, nodeErr)
		if nodeErr != nil {
			emit(Event{Mode: "error", Node: current, Err: nodeErr})
			return
		}

		state = e.reducer(state, update)
		emit(Event{Mode: "update", Node: current, Update: update})

		// Checkpoint persistence must complete even when the client has
		// disconnected, or the thread state would be corrupted.
		if err := e.persist(context.WithoutCancel(ctx), req.ThreadID, state, "", nil); err != nil {
			emit(Event{Mode: "error", Err: err})
			return
		}
		if ctx.Err() != nil {
			return
		}

		current = e.graph.next(current, state)
	}
	emit(Event{Mode: "error", Err: fmt.Errorf("graph exceeded %d steps", maxSteps)})
}

// DecodeEnvelope decodes a persisted checkpoint into its typed state and
// the suspended node name (empty when the turn completed). Used by the
// supervisor's pre-turn sanity checks.
func DecodeEnvelope[S any](data []byte, newState func() S) (S, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return newState(), "", fmt.Errorf("failed to decode checkpoint envelope: %w", err)
	}
	state := newState()
	if err := json.Unmarshal(env.State, &state); err != nil {
		return newState(), "", fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return state, env.SuspendedNode, nil
}

// restore loads the latest checkpoint for a thread, returning a fresh state
// when none exists.
func (e *Executor[S]) restore(ctx context.Context, threadID string) (S, string, error) {
	tuple, err := e.store.GetLatest(ctx, threadID)
	if err != nil {
		return e.newState(), "", fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if tuple == nil {
		return e.newState(), "", nil
	}
	var env envelope
	if err := json.Unmarshal(tuple.State, &env); err != nil {
		return e.newState(), "", fmt.Errorf("failed to decode checkpoint envelope: %w", err)
	}
	state := e.newState()
	if err := json.Unmarshal(env.State, &state); err != nil {
		return e.newState(), "", fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return state, env.SuspendedNode, nil
}

// persist writes one checkpoint; when intr is non-nil the node name is
// recorded as suspended and the interrupt write is attached to the new
// checkpoint id.
func (e *Executor[S]) persist(ctx context.Context, threadID string, state S, suspendedNode string, intr *Interrupt) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	env, err := json.Marshal(envelope{State: stateJSON, SuspendedNode: suspendedNode})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	id, err := e.store.Put(ctx, threadID, env)
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	if intr != nil {
		if err := e.store.PutInterrupt(ctx, threadID, &checkpoint.InterruptWrite{
			CheckpointID: id,
			ApprovalID:   intr.ApprovalID,
			Node:         suspendedNode,
			Payload:      intr.Payload,
		}); err != nil {
			return fmt.Errorf("failed to persist interrupt: %w", err)
		}
	}
	slog.Debug("Persisted node checkpoint", "thread_id", threadID, "checkpoint_id", id, "suspended", suspendedNode != "")
	return nil
}
