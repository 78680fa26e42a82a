// Package models defines the shared data types that flow between the
// provider adapters, the context store, the tool registry, and the agent
// executor: roles, messages, tool calls, and the tagged unions used to
// represent streaming output and tool results.
package models

import "fmt"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartKind discriminates the variants of ContentPart.
type ContentPartKind string

const (
	ContentKindText      ContentPartKind = "text"
	ContentKindImage     ContentPartKind = "image"
	ContentKindReasoning ContentPartKind = "reasoning"
)

// ContentPart is one piece of a structured Content value. Exactly the
// fields relevant to Kind are populated; the rest are zero.
type ContentPart struct {
	Kind ContentPartKind `json:"kind"`

	// Text holds the payload for ContentKindText and ContentKindReasoning.
	Text string `json:"text,omitempty"`

	// ImageURL holds the payload for ContentKindImage. Data URIs and
	// remote URLs are both valid; the provider adapter decides how to
	// ship them to the vendor.
	ImageURL string `json:"image_url,omitempty"`
}

// Content is either a plain string or an ordered list of ContentParts.
// Exactly one of Text or Parts is meaningful; IsStructured reports which.
type Content struct {
	Text  string
	Parts []ContentPart
}

// NewTextContent builds a plain-string Content.
func NewTextContent(text string) Content {
	return Content{Text: text}
}

// NewPartsContent builds a structured Content from ordered parts.
func NewPartsContent(parts ...ContentPart) Content {
	return Content{Parts: parts}
}

// IsStructured reports whether this Content carries discriminated parts
// rather than a plain string.
func (c Content) IsStructured() bool {
	return c.Parts != nil
}

// Flatten concatenates the text of every non-reasoning part (or returns
// the plain string directly) for display or token-accounting purposes.
func (c Content) Flatten() string {
	if !c.IsStructured() {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Kind == ContentKindText {
			out += p.Text
		}
	}
	return out
}

// Empty reports whether the content carries no text at all.
func (c Content) Empty() bool {
	if !c.IsStructured() {
		return c.Text == ""
	}
	return len(c.Parts) == 0
}

// ToolCall is one function invocation requested by an assistant message.
// Arguments is the raw, possibly near-JSON string the provider emitted;
// see internal/toolargs for repair into canonical JSON.
type ToolCall struct {
	ID           string `json:"id"`
	FunctionName string `json:"function_name"`
	Arguments    string `json:"arguments"`
}

// Signature returns the "name:arguments" string used for repeated-error
// detection (spec'd ring-buffer of recent tool-call signatures).
func (t ToolCall) Signature() string {
	return fmt.Sprintf("%s:%s", t.FunctionName, t.Arguments)
}

// Message is one turn in a conversation. ToolCalls is only meaningful on
// assistant messages; ToolCallID and Name are only meaningful on tool
// messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// HasToolCalls reports whether this is an assistant message carrying one
// or more tool invocations.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolResultKind discriminates the ToolResult tagged union.
type ToolResultKind string

const (
	ToolResultOk       ToolResultKind = "ok"
	ToolResultError    ToolResultKind = "error"
	ToolResultRejected ToolResultKind = "rejected"
)

// ToolResult is the tagged union a tool execution produces: Ok carries
// output plus an optional human message, Error carries an error message
// plus optional partial output, Rejected carries only a reason.
type ToolResult struct {
	Kind    ToolResultKind
	Output  string
	Message string
}

func OkResult(output, message string) ToolResult {
	return ToolResult{Kind: ToolResultOk, Output: output, Message: message}
}

func ErrorResult(message, output string) ToolResult {
	return ToolResult{Kind: ToolResultError, Output: output, Message: message}
}

func RejectedResult(reason string) ToolResult {
	return ToolResult{Kind: ToolResultRejected, Message: reason}
}

// ToMessageContent renders the ToolResult as the content string of the
// tool-role Message fed back to the model, per the executor's step 12
// formatting rule.
func (r ToolResult) ToMessageContent() string {
	switch r.Kind {
	case ToolResultOk:
		if r.Message != "" {
			return r.Message
		}
		return r.Output
	case ToolResultError:
		msg := "Error: " + r.Message
		if r.Output != "" {
			msg += " (" + r.Output + ")"
		}
		return msg
	case ToolResultRejected:
		return r.Message
	default:
		return ""
	}
}

// IsError reports whether this result represents a tool failure (used by
// repeated-error detection).
func (r ToolResult) IsError() bool {
	return r.Kind == ToolResultError
}
