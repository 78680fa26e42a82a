package providers

import (
	"context"
	"testing"

	"github.com/wisty/jimi/internal/models"
)

type fakeProvider struct {
	chunks []models.StreamChunk
}

func (f *fakeProvider) Name() string       { return "fake" }
func (f *fakeProvider) MaxContextSize() int { return 1000 }
func (f *fakeProvider) Stream(ctx context.Context, system string, history []models.Message, tools []models.ToolSchema) (<-chan models.StreamChunk, error) {
	ch := make(chan models.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestThinkTagNormalizerSplitAcrossChunks(t *testing.T) {
	n := &thinkTagNormalizer{}
	var got []models.StreamChunk
	got = append(got, n.apply("hello <thi")...)
	got = append(got, n.apply("nk>pondering")...)
	got = append(got, n.apply(" more</think> world")...)
	got = append(got, n.flush()...)

	var text, reasoningText string
	for _, c := range got {
		if c.IsReasoning {
			reasoningText += c.Text
		} else {
			text += c.Text
		}
	}
	if text != "hello  world" {
		t.Fatalf("unexpected normal text: %q", text)
	}
	if reasoningText != "pondering more" {
		t.Fatalf("unexpected reasoning text: %q", reasoningText)
	}
}

func TestDoubleNewlineAdapterStickyMode(t *testing.T) {
	inner := &fakeProvider{chunks: []models.StreamChunk{
		models.ContentDeltaChunk("thinking part", false),
		models.ContentDeltaChunk("\n\nanswer ", false),
		models.ContentDeltaChunk("continues\n\nmore", false),
		models.DoneChunk(&models.Usage{TotalTokens: 5}),
	}}
	adapter := NewDoubleNewlineAdapter(inner)
	out, err := adapter.Stream(context.Background(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var normal, reasoning string
	for c := range out {
		if c.Kind != models.ChunkContentDelta {
			continue
		}
		if c.IsReasoning {
			reasoning += c.Text
		} else {
			normal += c.Text
		}
	}
	if reasoning != "thinking part" {
		t.Fatalf("expected only the pre-split text marked reasoning, got %q", reasoning)
	}
	if normal != "answer continues\n\nmore" {
		t.Fatalf("expected remaining double-newlines left untouched once mode is locked, got %q", normal)
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	if got := APIKeyEnvVar("anthropic"); got != "ANTHROPIC_API_KEY" {
		t.Fatalf("got %q", got)
	}
	if got := APIKeyEnvVar("openai"); got != "OPENAI_API_KEY" {
		t.Fatalf("got %q", got)
	}
}
