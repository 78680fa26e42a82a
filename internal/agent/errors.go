// Package agent implements the Agent Executor (C7): the main loop that
// calls the provider, folds its streaming chunks into an assistant
// message, dispatches tool calls through the registry, and recurses
// until the model stops requesting tools or a limit is reached.
// Grounded structurally on the teacher's internal/agent/loop.go state
// machine and internal/agent/executor.go parallel tool dispatch.
package agent

import "errors"

// Sentinel errors surfaced to the caller per spec §7's propagation
// rule: errors the model can react to become Messages in history;
// errors that prevent further progress are raised here instead.
var (
	// ErrMaxStepsReached is raised when agentLoopStep(n) is attempted
	// with n exceeding MaxStepsPerRun (spec §7, scenario S6).
	ErrMaxStepsReached = errors.New("agent: max steps per run reached")

	// ErrNoProvider is raised at Execute time when no Provider was
	// configured.
	ErrNoProvider = errors.New("agent: no provider configured")

	// ErrNoContext is raised at Execute time when no Context was
	// configured.
	ErrNoContext = errors.New("agent: no context store configured")
)
