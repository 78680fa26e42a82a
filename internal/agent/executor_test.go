package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wisty/jimi/internal/contextstore"
	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/tools"
)

// fakeProvider replays a pre-scripted sequence of chunk-batches, one
// batch per call to Stream, grounded on the teacher's loop_test.go
// loopTestProvider fake-provider pattern.
type fakeProvider struct {
	batches    [][]models.StreamChunk
	call       int
	maxContext int
	streamErr  error
}

func (p *fakeProvider) Name() string       { return "fake" }
func (p *fakeProvider) MaxContextSize() int {
	if p.maxContext == 0 {
		return 100000
	}
	return p.maxContext
}

func (p *fakeProvider) Stream(ctx context.Context, system string, history []models.Message, schemas []models.ToolSchema) (<-chan models.StreamChunk, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if p.call >= len(p.batches) {
		p.call++
		ch := make(chan models.StreamChunk)
		close(ch)
		return ch, nil
	}
	batch := p.batches[p.call]
	p.call++

	ch := make(chan models.StreamChunk, len(batch))
	for _, c := range batch {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// fakeTool is a minimal tools.Tool.
type fakeTool struct {
	name      string
	result    models.ToolResult
	alwaysErr bool
}

func (t *fakeTool) Name() string                     { return t.name }
func (t *fakeTool) Description() string              { return "fake" }
func (t *fakeTool) ParameterSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) ParameterOrder() []string         { return nil }
func (t *fakeTool) RequiresApproval() bool           { return false }
func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	return t.result
}

func newTestRegistry(t *testing.T, tl *fakeTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	if err := reg.Register(tl); err != nil {
		t.Fatalf("registering tool: %v", err)
	}
	return reg
}

// S1 — straight-line no tools.
func TestExecuteStraightLineNoTools(t *testing.T) {
	provider := &fakeProvider{batches: [][]models.StreamChunk{
		{
			models.ContentDeltaChunk("Hello", false),
			models.ContentDeltaChunk(" world", false),
			models.DoneChunk(&models.Usage{TotalTokens: 10}),
		},
	}}
	store := contextstore.NewContext(nil)
	reg := tools.NewRegistry(nil)

	exec := New("s1", Config{}, Deps{Context: store, Provider: provider, Registry: reg})
	if err := exec.Execute(context.Background(), "hi"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	history := store.History()
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || last.Content.Flatten() != "Hello world" {
		t.Fatalf("unexpected final message: %+v", last)
	}
	if store.TokenCount() != 10 {
		t.Fatalf("tokenCount = %d", store.TokenCount())
	}
	if provider.call != 1 {
		t.Fatalf("expected exactly one provider call, got %d", provider.call)
	}
}

// S2 — single tool call round-trip.
func TestExecuteSingleToolCall(t *testing.T) {
	provider := &fakeProvider{batches: [][]models.StreamChunk{
		{
			models.ToolCallDeltaChunk("a", "add", ""),
			models.ToolCallDeltaChunk("", "", `{"x":1,"y":2}`),
			models.DoneChunk(nil),
		},
		{
			models.ContentDeltaChunk("3", false),
			models.DoneChunk(nil),
		},
	}}
	store := contextstore.NewContext(nil)
	tool := &fakeTool{name: "add", result: models.OkResult("3", "")}
	reg := newTestRegistry(t, tool)

	exec := New("s2", Config{ToolNames: []string{"add"}}, Deps{Context: store, Provider: provider, Registry: reg})
	if err := exec.Execute(context.Background(), "add 1 and 2"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	history := store.History()
	if len(history) != 4 {
		t.Fatalf("expected 4 messages (user, assistant+tool_call, tool, assistant), got %d: %+v", len(history), history)
	}
	if !history[1].HasToolCalls() || history[1].ToolCalls[0].FunctionName != "add" {
		t.Fatalf("expected assistant tool_call for add, got %+v", history[1])
	}
	if history[2].Role != models.RoleTool || history[2].ToolCallID != "a" || history[2].Content.Flatten() != "3" {
		t.Fatalf("unexpected tool message: %+v", history[2])
	}
	if history[3].Content.Flatten() != "3" {
		t.Fatalf("unexpected final assistant message: %+v", history[3])
	}
}

// S3 — split id and name across chunks.
func TestFoldStreamSplitIDAndName(t *testing.T) {
	provider := &fakeProvider{}
	exec := New("s3", Config{}, Deps{Context: contextstore.NewContext(nil), Provider: provider, Registry: tools.NewRegistry(nil)})

	ch := make(chan models.StreamChunk, 4)
	ch <- models.ToolCallDeltaChunk("a", "", "")
	ch <- models.StreamChunk{Kind: models.ChunkToolCallDelta, Name: "read_file"}
	ch <- models.StreamChunk{Kind: models.ChunkToolCallDelta, ArgsDelta: `{"path":"/x"}`}
	ch <- models.DoneChunk(nil)
	close(ch)

	msg, _, err := exec.foldStream(context.Background(), 1, ch)
	if err != nil {
		t.Fatalf("foldStream: %v", err)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 assembled tool call, got %d: %+v", len(msg.ToolCalls), msg.ToolCalls)
	}
	got := msg.ToolCalls[0]
	if got.ID != "a" || got.FunctionName != "read_file" || got.Arguments != `{"path":"/x"}` {
		t.Fatalf("unexpected assembled call: %+v", got)
	}
}

// S6 — max-steps exceeded.
func TestExecuteMaxStepsReached(t *testing.T) {
	var batches [][]models.StreamChunk
	for i := 0; i < 5; i++ {
		batches = append(batches, []models.StreamChunk{
			models.ToolCallDeltaChunk("call", "fail", `{}`),
			models.DoneChunk(nil),
		})
	}
	provider := &fakeProvider{batches: batches}
	store := contextstore.NewContext(nil)
	tool := &fakeTool{name: "fail", result: models.ErrorResult("boom", "")}
	reg := newTestRegistry(t, tool)

	exec := New("s6", Config{MaxStepsPerRun: 3, ToolNames: []string{"fail"}}, Deps{Context: store, Provider: provider, Registry: reg})
	err := exec.Execute(context.Background(), "go")
	if !errors.Is(err, ErrMaxStepsReached) {
		t.Fatalf("expected ErrMaxStepsReached, got %v", err)
	}
}

// S7 — thinking-loop guard: natural termination on the first no-tool-call
// step, with the safety-net counter still tracked across calls.
func TestExecuteTerminatesOnNoToolCalls(t *testing.T) {
	provider := &fakeProvider{batches: [][]models.StreamChunk{
		{models.ContentDeltaChunk("ok", false), models.DoneChunk(nil)},
	}}
	store := contextstore.NewContext(nil)
	reg := tools.NewRegistry(nil)
	exec := New("s7", Config{}, Deps{Context: store, Provider: provider, Registry: reg})

	if err := exec.Execute(context.Background(), "hi"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.call != 1 {
		t.Fatalf("expected loop to terminate after one step, got %d calls", provider.call)
	}
}

// S8 — stream error mid-turn is caught and surfaced as an apology.
func TestExecuteStreamErrorIsCaughtCleanly(t *testing.T) {
	provider := &fakeProvider{streamErr: errors.New("network blew up")}
	store := contextstore.NewContext(nil)
	reg := tools.NewRegistry(nil)
	exec := New("s8", Config{}, Deps{Context: store, Provider: provider, Registry: reg})

	if err := exec.Execute(context.Background(), "hi"); err != nil {
		t.Fatalf("expected clean success, got error: %v", err)
	}

	history := store.History()
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || last.HasToolCalls() {
		t.Fatalf("expected apology assistant message with no tool calls, got %+v", last)
	}
}

// S9 — approval reject feeds back as a Rejected tool result, loop continues.
func TestExecuteApprovalRejectFeedsBack(t *testing.T) {
	provider := &fakeProvider{batches: [][]models.StreamChunk{
		{models.ToolCallDeltaChunk("w", "write_file", `{}`), models.DoneChunk(nil)},
		{models.ContentDeltaChunk("done", false), models.DoneChunk(nil)},
	}}
	store := contextstore.NewContext(nil)
	reg := tools.NewRegistry(tools.NewInteractiveChecker(func(ctx context.Context, sessionID, kind, desc string) tools.Decision {
		return tools.DecisionDenied
	}))
	wrote := false
	writeTool := &approvalTool{name: "write_file", onExecute: func() { wrote = true }}
	if err := reg.Register(writeTool); err != nil {
		t.Fatalf("registering tool: %v", err)
	}

	exec := New("s9", Config{ToolNames: []string{"write_file"}}, Deps{Context: store, Provider: provider, Registry: reg})
	if err := exec.Execute(context.Background(), "write something"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if wrote {
		t.Fatal("tool body must not run when approval is rejected")
	}
	history := store.History()
	var toolMsg models.Message
	for _, m := range history {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg.Content.Flatten() == "" {
		t.Fatal("expected a rejection tool message appended")
	}
}

type approvalTool struct {
	name      string
	onExecute func()
}

func (t *approvalTool) Name() string                     { return t.name }
func (t *approvalTool) Description() string              { return "fake" }
func (t *approvalTool) ParameterSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *approvalTool) ParameterOrder() []string         { return nil }
func (t *approvalTool) RequiresApproval() bool           { return true }
func (t *approvalTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	if t.onExecute != nil {
		t.onExecute()
	}
	return models.OkResult("wrote", "")
}

// S10 — repeated failure hint appears on the third identical failure.
func TestExecuteRepeatedFailureHint(t *testing.T) {
	var batches [][]models.StreamChunk
	for i := 0; i < 3; i++ {
		batches = append(batches, []models.StreamChunk{
			models.ToolCallDeltaChunk("c", "fail", `{}`),
			models.DoneChunk(nil),
		})
	}
	provider := &fakeProvider{batches: batches}
	store := contextstore.NewContext(nil)
	tool := &fakeTool{name: "fail", result: models.ErrorResult("boom", "")}
	reg := newTestRegistry(t, tool)

	exec := New("s10", Config{MaxStepsPerRun: 3, ToolNames: []string{"fail"}}, Deps{Context: store, Provider: provider, Registry: reg})
	err := exec.Execute(context.Background(), "go")
	if !errors.Is(err, ErrMaxStepsReached) {
		t.Fatalf("expected ErrMaxStepsReached after 3 steps, got %v", err)
	}

	var toolMessages []models.Message
	for _, m := range store.History() {
		if m.Role == models.RoleTool {
			toolMessages = append(toolMessages, m)
		}
	}
	if len(toolMessages) != 3 {
		t.Fatalf("expected 3 tool messages, got %d", len(toolMessages))
	}
	last := toolMessages[2].Content.Flatten()
	if !contains(last, "failed 3 times") {
		t.Fatalf("expected repeated-failure hint in last tool message, got %q", last)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestNewToolCallIDProducesUniqueValues(t *testing.T) {
	a := newToolCallID()
	b := newToolCallID()
	if a == b {
		t.Fatal("expected distinct generated ids")
	}
}
