package agent

import "time"

// Default tuning values for Config, per spec §4.7 and §5.
const (
	DefaultMaxStepsPerRun      = 50
	DefaultMaxThinkingSteps    = 5
	DefaultRepeatedErrorRing   = 3
	DefaultToolConcurrency     = 8
	DefaultToolTimeout         = 300 * time.Second
	DefaultSkillScoreThreshold = 30
)

// Config bundles an agent's identity (spec §6 "Agent spec format") with
// the executor's tuning knobs.
type Config struct {
	// Name identifies the agent, used in sub-agent bookkeeping and logs.
	Name string

	// SystemPrompt is the rendered system prompt for this agent (the
	// Markdown template, after ${VAR} substitution — see
	// internal/agentspec for the loader/renderer).
	SystemPrompt string

	// ToolNames lists the tools (by registry name) this agent may call.
	ToolNames []string

	// MaxStepsPerRun bounds agentLoopStep recursion (spec §7
	// MaxStepsReached). Zero uses DefaultMaxStepsPerRun.
	MaxStepsPerRun int

	// MaxThinkingSteps caps consecutive no-tool-call steps before the
	// thinking-loop guard logs its safety-net warning (spec §4.7 step
	// 11, §9 Open Questions: treated as a safety net, not a hard
	// behavior change — see DESIGN.md).
	MaxThinkingSteps int

	// RepeatedErrorRingSize is how many recent tool-call signatures are
	// tracked for the repeated-error hint (spec §4.7, scenario S10).
	RepeatedErrorRingSize int

	// ToolExec configures the parallel tool-dispatch fan-out.
	ToolExec ToolExecConfig
}

func (c Config) withDefaults() Config {
	if c.MaxStepsPerRun <= 0 {
		c.MaxStepsPerRun = DefaultMaxStepsPerRun
	}
	if c.MaxThinkingSteps <= 0 {
		c.MaxThinkingSteps = DefaultMaxThinkingSteps
	}
	if c.RepeatedErrorRingSize <= 0 {
		c.RepeatedErrorRingSize = DefaultRepeatedErrorRing
	}
	c.ToolExec = c.ToolExec.withDefaults()
	return c
}

// ToolExecConfig configures the per-step parallel tool-call fan-out,
// grounded on the teacher's internal/agent/executor.go ExecutorConfig
// (supplemented feature, spec.md SPEC_FULL.md §5).
type ToolExecConfig struct {
	// MaxConcurrency caps how many tool calls run simultaneously within
	// one step. Zero uses DefaultToolConcurrency.
	MaxConcurrency int

	// DefaultTimeout bounds one tool call's execution when no
	// per-tool override is configured.
	DefaultTimeout time.Duration
}

func (c ToolExecConfig) withDefaults() ToolExecConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultToolConcurrency
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultToolTimeout
	}
	return c
}

// ToolConfig holds a per-tool execution override (timeout), grounded on
// the teacher's per-tool ToolConfig in internal/agent/executor.go.
type ToolConfig struct {
	Timeout time.Duration
}
