// Package contextstore implements the append-only conversation history
// with checkpointing and token accounting (spec C4). Grounded on the
// teacher's internal/sessions/memory.go for the in-memory backing store
// shape (mutex-guarded maps, defensive copies on read) and on spec §6's
// newline-delimited JSON persistence format for the durable backend.
package contextstore

import (
	"fmt"
	"sync"

	"github.com/wisty/jimi/internal/models"
)

// ErrPairingViolation is returned by Append when the incoming batch
// would violate the tool-call pairing invariant (spec §3, invariant 1).
var ErrPairingViolation = fmt.Errorf("contextstore: append would violate tool-call pairing invariant")

// Backend persists the history as a crash-recovery log; it is
// persistence-only per spec §4.4 — the in-memory sequence inside
// Context is the source of truth during a session.
type Backend interface {
	Append(messages []models.Message) error
	Load() ([]models.Message, error)
}

// Context is a single agent's append-only Message history, monotonic
// checkpoint list, and running token counter. Operations are serialized
// with respect to the agent loop; sharing one Context across agents
// requires external wrapping (spec §5).
type Context struct {
	mu          sync.Mutex
	history     []models.Message
	checkpoints []models.Checkpoint
	nextCheckID int64
	tokenCount  int
	backend     Backend

	// activeSkills records skill names already injected this session,
	// enforced by the Injector (spec §4.6, invariant 5).
	activeSkills map[string]bool
}

// NewContext builds an empty Context. backend may be nil to run
// in-memory only (tests, sub-agents that don't need durability).
func NewContext(backend Backend) *Context {
	return &Context{
		backend:      backend,
		activeSkills: make(map[string]bool),
	}
}

// Append adds one or more Messages atomically, rejecting a batch that
// would violate the tool-call pairing invariant.
func (c *Context) Append(messages ...models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := append(append([]models.Message{}, c.history...), messages...)
	if !pairingHolds(candidate) {
		return ErrPairingViolation
	}

	if c.backend != nil {
		if err := c.backend.Append(messages); err != nil {
			return fmt.Errorf("contextstore: persisting append: %w", err)
		}
	}
	c.history = candidate
	return nil
}

// pairingHolds checks invariant 1: every assistant message's tool_calls
// are each matched, in any order, by exactly one following tool message
// before the next assistant message, with no orphan tool messages.
func pairingHolds(history []models.Message) bool {
	var pending []string // tool_call ids awaited, in order

	consume := func(id string) bool {
		for i, want := range pending {
			if want == id {
				pending = append(pending[:i], pending[i+1:]...)
				return true
			}
		}
		return false
	}

	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			if len(pending) > 0 {
				// A new assistant message arrived before all prior tool
				// calls were answered.
				return false
			}
			for _, tc := range m.ToolCalls {
				pending = append(pending, tc.ID)
			}
		case models.RoleTool:
			if !consume(m.ToolCallID) {
				return false // orphan tool message
			}
		}
	}
	return true
}

// History returns a read-only snapshot of the current sequence.
func (c *Context) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Checkpoint records the current history length and returns its id.
func (c *Context) Checkpoint(tag models.CheckpointTag) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextCheckID
	c.nextCheckID++
	c.checkpoints = append(c.checkpoints, models.Checkpoint{ID: id, Length: len(c.history), Tag: tag})
	return id
}

// HasCheckpoint reports whether the given checkpoint id has been
// created (used to guard the "create checkpoint 0 if absent" step).
func (c *Context) HasCheckpoint(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cp := range c.checkpoints {
		if cp.ID == id {
			return true
		}
	}
	return false
}

// RevertTo truncates history back to the recorded length for id and
// discards every later checkpoint (spec §3, invariant 2).
func (c *Context) RevertTo(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, cp := range c.checkpoints {
		if cp.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("contextstore: unknown checkpoint %d", id)
	}

	length := c.checkpoints[idx].Length
	if length > len(c.history) {
		length = len(c.history)
	}
	c.history = c.history[:length]
	c.checkpoints = c.checkpoints[:idx+1]
	c.activeSkills = make(map[string]bool)
	return nil
}

// UpdateTokenCount sets the running token counter (spec §4.4). Within a
// step it should only increase; compaction is expected to lower it.
func (c *Context) UpdateTokenCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCount = n
}

// TokenCount returns the current running token counter.
func (c *Context) TokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCount
}

// MarkSkillActive records that a skill has been injected this session,
// and reports whether it was already active (for the Injector's
// no-double-injection rule, invariant 5).
func (c *Context) MarkSkillActive(name string) (alreadyActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeSkills[name] {
		return true
	}
	c.activeSkills[name] = true
	return false
}

// Load replays the backend's persisted log into an empty Context,
// re-establishing checkpoint 0 over the restored history.
func (c *Context) Load() error {
	if c.backend == nil {
		return nil
	}
	messages, err := c.backend.Load()
	if err != nil {
		return fmt.Errorf("contextstore: loading backend: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = messages
	c.checkpoints = []models.Checkpoint{{ID: 0, Length: len(messages), Tag: models.CheckpointInitial}}
	c.nextCheckID = 1
	return nil
}
