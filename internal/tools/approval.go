package tools

import (
	"context"
	"sync"
)

// Decision is the outcome of an approval request (spec §6).
type Decision int

const (
	DecisionApproved Decision = iota
	DecisionApprovedForSession
	DecisionDenied
	DecisionPending
)

// ApprovalChecker is the approval interface consumed by the registry's
// dispatch (spec §6): request(action_kind, description) ->
// {Approve, ApproveForSession, Reject}, with a process-wide "yolo"
// auto-mode and a session-level remembered-kinds set. Grounded on the
// vocabulary of the teacher's internal/agent/approval.go, narrowed to
// the simpler contract spec.md actually defines (no allow/deny-list
// policy engine, no per-agent overrides — those are product UX beyond
// this core).
type ApprovalChecker interface {
	// Check requests a decision for one call. Implementations that
	// already hold a session-remembered approval for actionKind should
	// return DecisionApprovedForSession or DecisionApproved directly
	// without prompting again.
	Check(ctx context.Context, sessionID, actionKind, description string) Decision
	// RememberForSession records that actionKind is auto-approved for
	// the remainder of the named session.
	RememberForSession(sessionID, actionKind string)
}

// AutoApprove approves every request unconditionally ("yolo" mode).
type AutoApprove struct{}

func (AutoApprove) Check(context.Context, string, string, string) Decision { return DecisionApproved }
func (AutoApprove) RememberForSession(string, string)                      {}

// RequestFunc lets a caller plug in an interactive approval prompt
// (terminal UI, chat callback, etc.) without implementing the full
// interface.
type RequestFunc func(ctx context.Context, sessionID, actionKind, description string) Decision

// InteractiveChecker requests a live decision for each action kind not
// yet approved for the session, then remembers ApproveForSession
// outcomes in an in-memory per-session set.
type InteractiveChecker struct {
	request RequestFunc

	mu       sync.Mutex
	approved map[string]map[string]bool // sessionID -> actionKind -> remembered
}

// NewInteractiveChecker builds an InteractiveChecker backed by request.
func NewInteractiveChecker(request RequestFunc) *InteractiveChecker {
	return &InteractiveChecker{
		request:  request,
		approved: make(map[string]map[string]bool),
	}
}

func (c *InteractiveChecker) Check(ctx context.Context, sessionID, actionKind, description string) Decision {
	c.mu.Lock()
	if kinds, ok := c.approved[sessionID]; ok && kinds[actionKind] {
		c.mu.Unlock()
		return DecisionApprovedForSession
	}
	c.mu.Unlock()

	decision := c.request(ctx, sessionID, actionKind, description)
	if decision == DecisionApprovedForSession {
		c.RememberForSession(sessionID, actionKind)
	}
	return decision
}

func (c *InteractiveChecker) RememberForSession(sessionID, actionKind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approved[sessionID] == nil {
		c.approved[sessionID] = make(map[string]bool)
	}
	c.approved[sessionID][actionKind] = true
}
