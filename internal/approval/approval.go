// Package approval coordinates human sign-off for tool calls that the
// policy engine will not auto-approve. A single handler answers
// requests; without one every request fails closed.
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/notifications"
)

// Verdict is a handler's answer to one request.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDeny    Verdict = "deny"
	// VerdictAlways approves and asks for a standing grant covering the
	// tool's capabilities.
	VerdictAlways Verdict = "always"
)

// Approved reports whether the verdict lets the call proceed.
func (v Verdict) Approved() bool {
	return v == VerdictApprove || v == VerdictAlways
}

// Request is one approval prompt. Args are already sanitized.
type Request struct {
	ID              string          `json:"id"`
	ToolName        string          `json:"tool_name"`
	Capabilities    []string        `json:"capabilities"`
	Args            map[string]any  `json:"args,omitempty"`
	Risk            capability.Risk `json:"risk"`
	RiskDescription string          `json:"risk_description"`
	Reason          string          `json:"reason,omitempty"`
	Principal       string          `json:"principal,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Approver answers approval requests. Implementations block until the
// human decides or the context ends.
type Approver interface {
	Approve(ctx context.Context, req Request) (Verdict, error)
}

// Coordinator owns the single installed handler and emits the
// approval lifecycle events around each request.
type Coordinator struct {
	mu      sync.RWMutex
	handler Approver
	events  *notifications.Dispatcher
}

// NewCoordinator wires a coordinator to the event dispatcher.
func NewCoordinator(events *notifications.Dispatcher) *Coordinator {
	return &Coordinator{events: events}
}

// SetHandler installs the handler, replacing any previous one.
func (c *Coordinator) SetHandler(h Approver) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// HasHandler reports whether a handler is installed.
func (c *Coordinator) HasHandler() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler != nil
}

// Request asks the handler to decide. It never times out on its own;
// the caller's context bounds the wait. A handler error is returned to
// the caller and the request resolves as a denial. With no handler
// installed the request is denied outright.
func (c *Coordinator) Request(ctx context.Context, req Request) (Verdict, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	c.events.Notify(ctx, notifications.Payload{
		Event:     notifications.EventApprovalRequested,
		Tool:      req.ToolName,
		Risk:      req.Risk.String(),
		Reason:    req.Reason,
		Principal: req.Principal,
		RequestID: req.ID,
	})

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		slog.Warn("no approval handler installed, denying", "tool", req.ToolName, "request_id", req.ID)
		c.resolved(ctx, req, VerdictDeny)
		return VerdictDeny, nil
	}

	verdict, err := handler.Approve(ctx, req)
	if err != nil {
		slog.Warn("approval handler failed, denying", "tool", req.ToolName, "request_id", req.ID, "error", err)
		c.resolved(ctx, req, VerdictDeny)
		return VerdictDeny, err
	}

	c.resolved(ctx, req, verdict)
	return verdict, nil
}

func (c *Coordinator) resolved(ctx context.Context, req Request, verdict Verdict) {
	decision := "denied"
	if verdict.Approved() {
		decision = "approved"
	}
	c.events.Notify(ctx, notifications.Payload{
		Event:     notifications.EventApprovalResolved,
		Tool:      req.ToolName,
		Risk:      req.Risk.String(),
		Decision:  decision,
		Principal: req.Principal,
		RequestID: req.ID,
	})
}

// Func adapts a plain function into an Approver.
type Func func(ctx context.Context, req Request) (Verdict, error)

// Approve implements Approver.
func (f Func) Approve(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}
