package contextstore

import (
	"path/filepath"
	"testing"

	"github.com/wisty/jimi/internal/models"
)

func TestAppendEnforcesPairingInvariant(t *testing.T) {
	c := NewContext(nil)
	asst := models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "a", FunctionName: "add", Arguments: "{}"}},
	}
	if err := c.Append(asst); err != nil {
		t.Fatalf("appending assistant with unresolved call must succeed: %v", err)
	}

	// A second assistant message before the tool result is appended
	// must be rejected.
	if err := c.Append(models.Message{Role: models.RoleAssistant}); err == nil {
		t.Fatal("expected pairing violation")
	}
}

func TestAppendRejectsOrphanToolMessage(t *testing.T) {
	c := NewContext(nil)
	orphan := models.Message{Role: models.RoleTool, ToolCallID: "nonexistent"}
	if err := c.Append(orphan); err == nil {
		t.Fatal("expected orphan tool message to be rejected")
	}
}

func TestAppendAcceptsMatchedPair(t *testing.T) {
	c := NewContext(nil)
	asst := models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "a", FunctionName: "add"}},
	}
	if err := c.Append(asst); err != nil {
		t.Fatal(err)
	}
	tool := models.Message{Role: models.RoleTool, ToolCallID: "a", Content: models.NewTextContent("3")}
	if err := c.Append(tool); err != nil {
		t.Fatalf("matched tool result should be accepted: %v", err)
	}
	if len(c.History()) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.History()))
	}
}

func TestCheckpointMonotonicityAndRevert(t *testing.T) {
	c := NewContext(nil)
	c0 := c.Checkpoint(models.CheckpointInitial)
	c.Append(models.Message{Role: models.RoleUser, Content: models.NewTextContent("hi")})
	c1 := c.Checkpoint(models.CheckpointStep)
	c.Append(models.Message{Role: models.RoleAssistant, Content: models.NewTextContent("hello")})

	if c1 <= c0 {
		t.Fatalf("checkpoint ids must be strictly increasing: %d <= %d", c1, c0)
	}

	if err := c.RevertTo(c0); err != nil {
		t.Fatal(err)
	}
	if len(c.History()) != 0 {
		t.Fatalf("expected empty history after reverting to checkpoint 0, got %d messages", len(c.History()))
	}

	// Reverting discards later checkpoints: c1 is no longer valid.
	if err := c.RevertTo(c1); err == nil {
		t.Fatal("expected reverting to a discarded checkpoint to fail")
	}
}

func TestNoLostUserInput(t *testing.T) {
	c := NewContext(nil)
	c.Checkpoint(models.CheckpointInitial)
	userMsg := models.Message{Role: models.RoleUser, Content: models.NewTextContent("do the thing")}
	if err := c.Append(userMsg); err != nil {
		t.Fatal(err)
	}
	history := c.History()
	if len(history) == 0 || history[0].Content.Flatten() != "do the thing" {
		t.Fatalf("expected history to begin with the user message, got %+v", history)
	}
}

func TestTokenCountMonotonicUntilReset(t *testing.T) {
	c := NewContext(nil)
	c.UpdateTokenCount(10)
	c.UpdateTokenCount(20)
	if c.TokenCount() != 20 {
		t.Fatalf("got %d", c.TokenCount())
	}
	c.UpdateTokenCount(5) // compaction lowering it is allowed
	if c.TokenCount() != 5 {
		t.Fatalf("got %d", c.TokenCount())
	}
}

func TestSkillIdempotence(t *testing.T) {
	c := NewContext(nil)
	if already := c.MarkSkillActive("golang"); already {
		t.Fatal("first activation should report not-already-active")
	}
	if already := c.MarkSkillActive("golang"); !already {
		t.Fatal("second activation of the same skill should report already-active")
	}
}

func TestNDJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend := NewNDJSONBackend(filepath.Join(dir, "history.ndjson"))
	c := NewContext(backend)
	c.Checkpoint(models.CheckpointInitial)

	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hello")},
		{Role: models.RoleAssistant, Content: models.NewTextContent("hi there")},
	}
	for _, m := range msgs {
		if err := c.Append(m); err != nil {
			t.Fatal(err)
		}
	}

	reloaded := NewContext(NewNDJSONBackend(filepath.Join(dir, "history.ndjson")))
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	history := reloaded.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(history))
	}
	if history[0].Content.Flatten() != "hello" || history[1].Content.Flatten() != "hi there" {
		t.Fatalf("unexpected replayed content: %+v", history)
	}
}
