// Package compaction implements the Compactor (C5): summarizing older
// history when the token budget is exceeded. Grounded on the teacher's
// internal/agent/context/summarize.go Summarizer (threshold + keep-tail
// policy) and internal/agent/compaction.go's usage-percentage trigger
// math, adapted to spec.md's simpler exact policy: summarize everything
// except the system prompt into one message, then the caller reverts to
// checkpoint 0 and appends the result.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wisty/jimi/internal/models"
)

// Reserved is the token headroom the executor keeps free of the
// provider's max context size before triggering compaction (spec §4.5).
const Reserved = 50000

// ShouldCompact reports whether the executor must compact before its
// next LLM call, per spec §4.5's exact trigger condition.
func ShouldCompact(tokenCount, maxContext int) bool {
	return tokenCount > maxContext-Reserved
}

// Summarizer asks an LLM to produce the summary text; it is the
// `llm_callable` parameter of spec §4.5's compact operation.
type Summarizer interface {
	Summarize(ctx context.Context, history []models.Message) (string, error)
}

// SummarizerFunc adapts a plain function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, history []models.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, history []models.Message) (string, error) {
	return f(ctx, history)
}

// Compactor runs the summarize-and-replace policy.
type Compactor struct {
	summarizer Summarizer
	logger     *slog.Logger
}

// New builds a Compactor backed by summarizer.
func New(summarizer Summarizer, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{summarizer: summarizer, logger: logger.With("component", "compaction")}
}

// Compact summarizes everything except the leading system message into
// one concise assistant-role message, returning the replacement history
// the caller should install after reverting to checkpoint 0. On
// summarizer failure it returns an error; compaction failure is
// non-fatal at the executor level (spec §4.5), which is expected to
// catch this error, log it, and proceed uncompacted.
func (c *Compactor) Compact(ctx context.Context, history []models.Message) ([]models.Message, error) {
	var system []models.Message
	var rest []models.Message
	for _, m := range history {
		if m.Role == models.RoleSystem && len(rest) == 0 {
			system = append(system, m)
			continue
		}
		rest = append(rest, m)
	}

	if len(rest) == 0 {
		return history, nil
	}

	prompt := BuildSummarizationPrompt(rest)
	promptMsg := models.Message{Role: models.RoleUser, Content: models.NewTextContent(prompt)}
	summary, err := c.summarizer.Summarize(ctx, []models.Message{promptMsg})
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize failed: %w", err)
	}

	out := make([]models.Message, 0, len(system)+1)
	out = append(out, system...)
	out = append(out, models.Message{
		Role:    models.RoleAssistant,
		Content: models.NewTextContent(summary),
	})
	return out, nil
}

// BuildSummarizationPrompt renders history into the prompt Compact
// hands its Summarizer, grounded on the teacher's
// BuildSummarizationPrompt (context/summarize.go): it walks messages
// noting tool calls and truncating tool results, rather than dumping
// the raw transcript.
func BuildSummarizationPrompt(history []models.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation concisely, preserving the latest user intent and any unresolved tasks:\n\n")
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			b.WriteString("User: " + m.Content.Flatten() + "\n")
		case models.RoleAssistant:
			if text := m.Content.Flatten(); text != "" {
				b.WriteString("Assistant: " + text + "\n")
			}
			for _, tc := range m.ToolCalls {
				b.WriteString(fmt.Sprintf("[Called tool: %s]\n", tc.FunctionName))
			}
		case models.RoleTool:
			result := m.Content.Flatten()
			if len(result) > 200 {
				result = result[:200] + "..."
			}
			b.WriteString(fmt.Sprintf("[Tool result: %s]\n", result))
		}
	}
	return b.String()
}
