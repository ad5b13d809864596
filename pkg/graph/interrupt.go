package graph

import (
	"context"
	"errors"
)

// Interrupt is the payload of a suspended turn, surfaced to the client as
// an approval request.
type Interrupt struct {
	// ApprovalID uniquely identifies this suspension; a resume decision
	// must echo it (a mismatch is treated as reject by the consumer).
	ApprovalID string `json:"approval_id"`

	// Payload is the approval request shown to the human.
	Payload map[string]any `json:"payload"`
}

// interruptSignal is raised (as an error value) by a node that needs a human
// decision. The executor persists it and halts the turn.
type interruptSignal struct {
	interrupt *Interrupt
}

func (s *interruptSignal) Error() string { return "graph interrupted: awaiting human decision" }

// Suspend signals the executor to freeze the turn with the given approval
// payload. The calling node returns the result of Suspend as its error.
func Suspend(approvalID string, payload map[string]any) error {
	return &interruptSignal{interrupt: &Interrupt{ApprovalID: approvalID, Payload: payload}}
}

// asInterrupt extracts an interrupt signal from a node error.
func asInterrupt(err error) (*Interrupt, bool) {
	var sig *interruptSignal
	if errors.As(err, &sig) {
		return sig.interrupt, true
	}
	return nil, false
}

// ============================================================================
// NODE CONTEXT
// ============================================================================

type contextKey string

const (
	nodeNameKey    contextKey = "origin.graph.node"
	tokenEmitKey   contextKey = "origin.graph.emit_token"
	resumeValueKey contextKey = "origin.graph.resume_value"
)

// NodeName returns the name of the currently executing node.
func NodeName(ctx context.Context) string {
	if v, ok := ctx.Value(nodeNameKey).(string); ok {
		return v
	}
	return ""
}

// EmitToken forwards one streamed LLM token to the turn's event stream,
// attributed to the current node. A no-op outside an executor run.
func EmitToken(ctx context.Context, token string) {
	if fn, ok := ctx.Value(tokenEmitKey).(func(node, token string)); ok {
		fn(NodeName(ctx), token)
	}
}

// ResumeValue returns the human decision delivered to the node that
// suspended, and whether one is present. Only the resumed node observes it.
func ResumeValue(ctx context.Context) (any, bool) {
	v := ctx.Value(resumeValueKey)
	if v == nil {
		return nil, false
	}
	return v, true
}

func withNode(ctx context.Context, node string, emit func(node, token string)) context.Context {
	ctx = context.WithValue(ctx, nodeNameKey, node)
	return context.WithValue(ctx, tokenEmitKey, emit)
}

func withResumeValue(ctx context.Context, v any) context.Context {
	return context.WithValue(ctx, resumeValueKey, v)
}
