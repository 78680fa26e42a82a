package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisty/jimi/internal/bus"
	"github.com/wisty/jimi/internal/compaction"
	"github.com/wisty/jimi/internal/contextstore"
	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/providers"
	"github.com/wisty/jimi/internal/skills"
	"github.com/wisty/jimi/internal/tools"
)

// Executor runs the agentLoopStep state machine of spec §4.7: call the
// provider, fold its stream into an assistant message, dispatch tool
// calls, and recurse until the model stops requesting tools or a limit
// is reached. Grounded structurally on the teacher's
// internal/agent/loop.go AgenticLoop.
type Executor struct {
	cfg Config

	store    *contextstore.Context
	provider providers.Provider
	registry *tools.Registry
	compact  *compaction.Compactor

	matcher  *skills.Matcher
	injector *skills.Injector
	skillSrc func() []models.SkillSpec

	dispatcher *toolDispatcher
	bus        bus.Sink
	logger     *slog.Logger

	sessionID string

	// Per-session running state (spec §9 Open Questions: the
	// consecutive-no-tool-call counter is NOT reset across compactions,
	// so it lives on the Executor, not in Context).
	mu               sync.Mutex
	noToolCallStreak int
	errorRing        []string
}

// Deps bundles an Executor's collaborators.
type Deps struct {
	Context  *contextstore.Context
	Provider providers.Provider
	Registry *tools.Registry
	Compact  *compaction.Compactor
	Matcher  *skills.Matcher
	Injector *skills.Injector
	Skills   func() []models.SkillSpec
	Bus      bus.Sink
	Logger   *slog.Logger
}

// New builds an Executor. sessionID identifies this run for approval
// caching.
func New(sessionID string, cfg Config, deps Deps) *Executor {
	cfg = cfg.withDefaults()
	if deps.Bus == nil {
		deps.Bus = bus.NopSink{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent.executor", "agent", cfg.Name)

	metrics := &ExecutorMetrics{}
	return &Executor{
		cfg:        cfg,
		store:      deps.Context,
		provider:   deps.Provider,
		registry:   deps.Registry,
		compact:    deps.Compact,
		matcher:    deps.Matcher,
		injector:   deps.Injector,
		skillSrc:   deps.Skills,
		dispatcher: newToolDispatcher(deps.Registry, cfg.ToolExec, metrics),
		bus:        deps.Bus,
		logger:     logger,
		sessionID:  sessionID,
	}
}

// Metrics returns a snapshot of the tool-dispatch counters.
func (e *Executor) Metrics() ExecutorMetrics {
	return e.dispatcher.metrics.Snapshot()
}

// Execute runs spec §4.7's top-level operation: append the user turn,
// establish checkpoint 0, and drive agentLoopStep(1) to completion.
func (e *Executor) Execute(ctx context.Context, userInput string) error {
	if e.provider == nil {
		return ErrNoProvider
	}
	if e.store == nil {
		return ErrNoContext
	}

	userMsg := models.Message{Role: models.RoleUser, Content: models.NewTextContent(userInput)}
	if err := e.store.Append(userMsg); err != nil {
		return fmt.Errorf("agent: appending user input: %w", err)
	}

	if !e.store.HasCheckpoint(0) {
		e.store.Checkpoint(models.CheckpointInitial)
	}

	return e.runSteps(ctx)
}

// runSteps drives agentLoopStep(1), agentLoopStep(2), ... iteratively
// rather than via true recursion, to avoid unbounded Go stack growth on
// long-running agents; the observable behavior matches spec §4.7's
// recursive description exactly.
func (e *Executor) runSteps(ctx context.Context) error {
	for step := 1; ; step++ {
		done, err := e.agentLoopStep(ctx, step)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// agentLoopStep runs one iteration of spec §4.7's numbered sequence. It
// returns (done, err): done is true when the loop should stop (natural
// termination or a handled error surfaced to the model); err is only
// non-nil for a condition that must propagate to the caller
// (MaxStepsReached).
func (e *Executor) agentLoopStep(ctx context.Context, n int) (bool, error) {
	if n > e.cfg.MaxStepsPerRun {
		return false, ErrMaxStepsReached
	}
	if ctx.Err() != nil {
		e.emit(ctx, bus.Event{Kind: bus.EventStepInterrupted, Step: n})
		return true, nil
	}
	e.emit(ctx, bus.Event{Kind: bus.EventStepBegin, Step: n})

	if err := e.maybeCompact(ctx, n); err != nil {
		e.logger.Warn("compaction failed, proceeding uncompacted", "step", n, "error", err)
	}

	e.store.Checkpoint(models.CheckpointStep)

	if n == 1 {
		e.matchAndInjectSkills(ctx, n)
	}

	system := e.cfg.SystemPrompt
	history := e.store.History()
	schemas := e.registry.Schemas(e.cfg.ToolNames)

	chunks, err := e.provider.Stream(ctx, system, history, schemas)
	if err != nil {
		return e.handleStreamFailure(ctx, n, err)
	}

	assistantMsg, usage, streamErr := e.foldStream(ctx, n, chunks)
	if streamErr != nil {
		return e.handleStreamFailure(ctx, n, streamErr)
	}
	if usage != nil {
		e.store.UpdateTokenCount(usage.TotalTokens)
	}

	assistantMsg.ToolCalls = filterToolCalls(assistantMsg.ToolCalls, e.logger)

	if err := e.store.Append(assistantMsg); err != nil {
		return false, fmt.Errorf("agent: appending assistant message: %w", err)
	}

	if !assistantMsg.HasToolCalls() {
		e.noteNoToolCallStep(n)
		return true, nil
	}
	e.resetNoToolCallStreak()

	toolMessages := e.runTools(ctx, assistantMsg.ToolCalls)
	if err := e.store.Append(toolMessages...); err != nil {
		return false, fmt.Errorf("agent: appending tool results: %w", err)
	}

	return false, nil
}

// maybeCompact implements spec §4.5's trigger: compare tokenCount to
// provider.maxContext - RESERVED before each step.
func (e *Executor) maybeCompact(ctx context.Context, n int) error {
	if e.compact == nil {
		return nil
	}
	if !compaction.ShouldCompact(e.store.TokenCount(), e.provider.MaxContextSize()) {
		return nil
	}

	e.emit(ctx, bus.Event{Kind: bus.EventCompactionBegin, Step: n})
	replacement, err := e.compact.Compact(ctx, e.store.History())
	if err != nil {
		return err
	}
	if err := e.store.RevertTo(0); err != nil {
		return err
	}
	if err := e.store.Append(replacement...); err != nil {
		return err
	}
	e.store.UpdateTokenCount(0)
	e.emit(ctx, bus.Event{Kind: bus.EventCompactionEnd, Step: n})
	return nil
}

// matchAndInjectSkills runs the Matcher against the latest user Message
// and splices selected skills in as a system Message, per spec §4.6.
func (e *Executor) matchAndInjectSkills(ctx context.Context, n int) {
	if e.matcher == nil || e.injector == nil || e.skillSrc == nil {
		return
	}

	lastUser := lastUserContent(e.store.History())
	if lastUser == "" {
		return
	}

	candidates := e.skillSrc()
	activeScopes := map[models.SkillScope]bool{
		models.SkillScopeGlobal:  true,
		models.SkillScopeProject: true,
	}
	matched := e.matcher.Match(candidates, activeScopes, lastUser)
	if len(matched) == 0 {
		return
	}

	msg, names, ok := e.injector.Inject(e.store, matched)
	if !ok {
		return
	}
	if err := e.store.Append(msg); err != nil {
		e.logger.Warn("skill injection append failed", "error", err)
		return
	}
	e.emit(ctx, bus.Event{Kind: bus.EventSkillsActivated, Step: n, SkillNames: names})
}

// lastUserContent returns the flattened text of the most recent
// user-role Message in history, or "" if none exists.
func lastUserContent(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content.Flatten()
		}
	}
	return ""
}

// handleStreamFailure implements spec §7's ProviderError-inside-a-step
// rule: catch it, append a user-visible apology Message, and terminate
// the loop cleanly rather than propagating to the caller (spec §4.7
// "Cancellation", scenario S8).
func (e *Executor) handleStreamFailure(ctx context.Context, n int, cause error) (bool, error) {
	e.logger.Warn("provider stream failed, ending turn", "step", n, "error", cause)
	apology := models.Message{
		Role:    models.RoleAssistant,
		Content: models.NewTextContent(fmt.Sprintf("sorry, I hit an error: %v", cause)),
	}
	if err := e.store.Append(apology); err != nil {
		return false, fmt.Errorf("agent: appending apology message: %w", err)
	}
	return true, nil
}

// emit sends an Event on the bus, stamping Time with the current time
// when the caller left it zero.
func (e *Executor) emit(ctx context.Context, ev bus.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.bus.Emit(ctx, ev)
}

// noteNoToolCallStep advances the consecutive-no-tool-call streak and
// logs the thinking-loop guard's safety-net warning once the configured
// threshold is reached. Per spec §9's Open Question, both branches of
// the spec's literal "finish successfully" text terminate the step the
// same way; this counter is kept as an observability safety net rather
// than a behavior change, and is deliberately NOT reset by compaction
// (documented decision, see DESIGN.md).
func (e *Executor) noteNoToolCallStep(n int) {
	e.mu.Lock()
	e.noToolCallStreak++
	streak := e.noToolCallStreak
	e.mu.Unlock()

	if streak >= e.cfg.MaxThinkingSteps {
		e.logger.Warn("thinking-loop guard: forcing termination after consecutive pure-answer steps",
			"step", n, "streak", streak)
	}
}

func (e *Executor) resetNoToolCallStreak() {
	e.mu.Lock()
	e.noToolCallStreak = 0
	e.mu.Unlock()
}

// filterToolCalls drops tool calls with an empty id or function name
// and de-duplicates by id, logging each drop (spec §4.7 step 9).
func filterToolCalls(calls []models.ToolCall, logger *slog.Logger) []models.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.ID == "" || c.FunctionName == "" {
			logger.Warn("dropping malformed tool call", "id", c.ID, "function", c.FunctionName)
			continue
		}
		if seen[c.ID] {
			logger.Warn("dropping duplicate tool call id", "id", c.ID)
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// newToolCallID generates an id for a provider call that omits one
// entirely (defensive; spec's vendors are expected to supply ids).
func newToolCallID() string {
	return uuid.NewString()
}
