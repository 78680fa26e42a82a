package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/wisty/jimi/internal/bus"
	"github.com/wisty/jimi/internal/models"
)

// toolCallBuilder accumulates one in-progress ToolCallDelta sequence.
// Id and Name may each arrive on a different chunk than the other
// (spec §4.1 "split function names"); Args accumulates every
// arguments_delta fragment seen for this id.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (b *toolCallBuilder) toCall() models.ToolCall {
	return models.ToolCall{ID: b.id, FunctionName: b.name, Arguments: b.args.String()}
}

// foldStream consumes chunks in order, folding ContentDelta and
// ToolCallDelta chunks into an accumulator per spec §4.7 step 7, and
// emits ContentPartMessage events immediately for UI streaming. It
// returns the assembled assistant Message and usage report, or an
// error if the stream itself failed (a transport error surfaces as the
// final chunk's Err field per the Provider contract, §4.1).
func (e *Executor) foldStream(ctx context.Context, step int, chunks <-chan models.StreamChunk) (models.Message, *models.Usage, error) {
	var parts []models.ContentPart
	var calls []*toolCallBuilder
	var current *toolCallBuilder
	var usage *models.Usage

	appendText := func(text string, isReasoning bool) {
		if text == "" {
			return
		}
		kind := models.ContentKindText
		if isReasoning {
			kind = models.ContentKindReasoning
		}
		if n := len(parts); n > 0 && parts[n-1].Kind == kind {
			parts[n-1].Text += text
			return
		}
		parts = append(parts, models.ContentPart{Kind: kind, Text: text})
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return models.Message{}, nil, chunk.Err
		}

		switch chunk.Kind {
		case models.ChunkContentDelta:
			appendText(chunk.Text, chunk.IsReasoning)
			e.emit(ctx, bus.Event{Kind: bus.EventContentPartMessage, Step: step, Text: chunk.Text, IsReasoning: chunk.IsReasoning})

		case models.ChunkToolCallDelta:
			if chunk.ID != "" && (current == nil || chunk.ID != current.id) {
				current = &toolCallBuilder{id: chunk.ID}
				calls = append(calls, current)
			}
			if current == nil {
				// Defensive: a vendor sent a continuation chunk before any
				// id arrived. Start an unnamed builder so the fragment
				// isn't silently lost; filterToolCalls drops it later if
				// it never gets an id.
				current = &toolCallBuilder{}
				calls = append(calls, current)
			}
			if chunk.Name != "" {
				current.name = chunk.Name
			}
			if chunk.ArgsDelta != "" {
				current.args.WriteString(chunk.ArgsDelta)
			}

		case models.ChunkDone:
			usage = chunk.Usage
		}
	}

	toolCalls := make([]models.ToolCall, 0, len(calls))
	for _, b := range calls {
		toolCalls = append(toolCalls, b.toCall())
	}

	content := models.Content{}
	if len(parts) > 0 {
		content = models.NewPartsContent(parts...)
	}

	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
	return msg, usage, nil
}

// runTools dispatches every tool call in parallel via the
// toolDispatcher, applies repeated-error-signature detection, and
// converts each ToolResult into a tool-role Message per spec §4.7 step
// 12.
func (e *Executor) runTools(ctx context.Context, calls []models.ToolCall) []models.Message {
	for _, c := range calls {
		e.emit(ctx, bus.Event{Kind: bus.EventToolCallMessage, ToolCallID: c.ID, ToolName: c.FunctionName, ToolArgs: c.Arguments})
	}

	results := e.dispatcher.dispatchAll(ctx, e.sessionID, calls)

	messages := make([]models.Message, 0, len(results))
	for _, r := range results {
		content := r.result.ToMessageContent()
		if r.result.IsError() {
			content = e.augmentRepeatedError(r.call, content)
		}

		e.emit(ctx, bus.Event{
			Kind:       bus.EventToolResultMessage,
			ToolCallID: r.call.ID,
			ToolName:   r.call.FunctionName,
			Success:    r.result.Kind == models.ToolResultOk,
		})

		messages = append(messages, models.Message{
			Role:       models.RoleTool,
			Content:    models.NewTextContent(content),
			ToolCallID: r.call.ID,
			Name:       r.call.FunctionName,
		})
	}
	return messages
}

// augmentRepeatedError pushes the call's signature onto the
// RepeatedErrorRingSize-wide ring and, if the ring now holds nothing
// but that signature, appends a visible "stop repeating" hint to
// baseContent (spec §4.7 "Repeated-error detection", scenario S10).
func (e *Executor) augmentRepeatedError(call models.ToolCall, baseContent string) string {
	sig := call.Signature()

	e.mu.Lock()
	e.errorRing = append(e.errorRing, sig)
	if len(e.errorRing) > e.cfg.RepeatedErrorRingSize {
		e.errorRing = e.errorRing[len(e.errorRing)-e.cfg.RepeatedErrorRingSize:]
	}
	ring := append([]string(nil), e.errorRing...)
	e.mu.Unlock()

	if len(ring) < e.cfg.RepeatedErrorRingSize {
		return baseContent
	}
	for _, s := range ring {
		if s != sig {
			return baseContent
		}
	}
	return fmt.Sprintf("%s (this call has failed %d times in a row, try a different approach)", baseContent, len(ring))
}
