package providers

import (
	"context"
	"strings"

	"github.com/wisty/jimi/internal/models"
)

// thinkTagNormalizer rewrites a stream of ContentDelta chunks so that
// text between <think> and </think> tags is reclassified as reasoning,
// for vendors that embed reasoning inline rather than using a distinct
// field. It is stateful across an entire response: once inside a tag it
// stays in reasoning mode until the closing tag is seen, even if the
// tag itself is split across chunk boundaries.
type thinkTagNormalizer struct {
	inThink bool
	pending string
}

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// apply consumes one raw text delta and returns zero or more normalized
// ContentDelta chunks with IsReasoning set correctly.
func (n *thinkTagNormalizer) apply(text string) []models.StreamChunk {
	n.pending += text
	var out []models.StreamChunk

	for {
		if !n.inThink {
			if idx := strings.Index(n.pending, thinkOpenTag); idx >= 0 {
				if idx > 0 {
					out = append(out, models.ContentDeltaChunk(n.pending[:idx], false))
				}
				n.pending = n.pending[idx+len(thinkOpenTag):]
				n.inThink = true
				continue
			}
			// Keep a tail buffer in case the open tag is split across chunks.
			if safe := safeFlushLen(n.pending, thinkOpenTag); safe > 0 {
				out = append(out, models.ContentDeltaChunk(n.pending[:safe], false))
				n.pending = n.pending[safe:]
			}
			break
		}

		if idx := strings.Index(n.pending, thinkCloseTag); idx >= 0 {
			if idx > 0 {
				out = append(out, models.ContentDeltaChunk(n.pending[:idx], true))
			}
			n.pending = n.pending[idx+len(thinkCloseTag):]
			n.inThink = false
			continue
		}
		if safe := safeFlushLen(n.pending, thinkCloseTag); safe > 0 {
			out = append(out, models.ContentDeltaChunk(n.pending[:safe], true))
			n.pending = n.pending[safe:]
		}
		break
	}
	return out
}

// flush emits any remaining buffered text at stream end.
func (n *thinkTagNormalizer) flush() []models.StreamChunk {
	if n.pending == "" {
		return nil
	}
	out := []models.StreamChunk{models.ContentDeltaChunk(n.pending, n.inThink)}
	n.pending = ""
	return out
}

// safeFlushLen returns how many leading bytes of buf are guaranteed not
// to be a prefix of tag, so they can be flushed without risking splitting
// a tag across two emitted chunks.
func safeFlushLen(buf, tag string) int {
	maxSuffix := len(tag) - 1
	if maxSuffix > len(buf) {
		maxSuffix = len(buf)
	}
	for l := maxSuffix; l > 0; l-- {
		if strings.HasPrefix(tag, buf[len(buf)-l:]) {
			return len(buf) - l
		}
	}
	return len(buf)
}

// DoubleNewlineAdapter decorates a Provider whose vendor convention is:
// text before the first "\n\n" of a response is reasoning, the rest is
// normal output. Detection mode is sticky for the lifetime of one
// response, per spec §4.1.
type DoubleNewlineAdapter struct {
	inner Provider
}

// NewDoubleNewlineAdapter wraps inner with double-newline reasoning
// detection.
func NewDoubleNewlineAdapter(inner Provider) *DoubleNewlineAdapter {
	return &DoubleNewlineAdapter{inner: inner}
}

func (a *DoubleNewlineAdapter) Name() string         { return a.inner.Name() }
func (a *DoubleNewlineAdapter) MaxContextSize() int   { return a.inner.MaxContextSize() }

func (a *DoubleNewlineAdapter) Stream(ctx context.Context, system string, history []models.Message, tools []models.ToolSchema) (<-chan models.StreamChunk, error) {
	inner, err := a.inner.Stream(ctx, system, history, tools)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)

		seenSplit := false // mode locked once we've decided where reasoning ends
		inReasoning := true
		var buf strings.Builder

		flushBuffered := func(asReasoning bool) {
			if buf.Len() == 0 {
				return
			}
			out <- models.ContentDeltaChunk(buf.String(), asReasoning)
			buf.Reset()
		}

		for chunk := range inner {
			if chunk.Kind != models.ChunkContentDelta || chunk.IsReasoning {
				// Tool-call/Done chunks or already-tagged reasoning pass
				// through untouched; reasoning detection only concerns
				// plain text deltas from vendors with no native field.
				if chunk.Kind == models.ChunkContentDelta {
					flushBuffered(inReasoning)
				}
				out <- chunk
				continue
			}

			if seenSplit {
				out <- models.ContentDeltaChunk(chunk.Text, false)
				continue
			}

			buf.WriteString(chunk.Text)
			if idx := strings.Index(buf.String(), "\n\n"); idx >= 0 {
				full := buf.String()
				out <- models.ContentDeltaChunk(full[:idx], true)
				rest := full[idx+2:]
				if rest != "" {
					out <- models.ContentDeltaChunk(rest, false)
				}
				buf.Reset()
				seenSplit = true
				inReasoning = false
			}
		}
		flushBuffered(inReasoning)
	}()
	return out, nil
}
