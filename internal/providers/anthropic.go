package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/ratelimit"
)

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	MaxTokens    int
	ContextSize  int
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.ContextSize <= 0 {
		c.ContextSize = 200000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// AnthropicAdapter implements Provider against Claude's Messages API,
// normalizing its SSE event stream into spec-shaped StreamChunks.
// Grounded on the teacher's internal/agent/providers/anthropic.go, with
// its build-then-emit-whole-tool-call style replaced by per-delta
// fragment emission so downstream folding matches spec §4.7 step 7.
type AnthropicAdapter struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	logger  *slog.Logger
}

// NewAnthropicAdapter builds an AnthropicAdapter. The ANTHROPIC_API_KEY
// environment variable takes precedence over cfg.APIKey, per spec §6.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	cfg = cfg.withDefaults()
	if key := os.Getenv(APIKeyEnvVar("anthropic")); key != "" {
		cfg.APIKey = key
	}
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "providers.anthropic"),
	}, nil
}

func (a *AnthropicAdapter) Name() string       { return "anthropic" }
func (a *AnthropicAdapter) MaxContextSize() int { return a.cfg.ContextSize }

func (a *AnthropicAdapter) Stream(ctx context.Context, system string, history []models.Message, tools []models.ToolSchema) (<-chan models.StreamChunk, error) {
	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params, err := a.buildParams(system, history, tools)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		a.runWithRetry(ctx, params, out)
	}()
	return out, nil
}

func (a *AnthropicAdapter) runWithRetry(ctx context.Context, params anthropic.MessageNewParams, out chan<- models.StreamChunk) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		stream := a.client.Messages.NewStreaming(ctx, params)
		err := a.processStream(stream, out)
		if err == nil {
			return
		}
		lastErr = err
		if !isRetryable(err) || attempt == a.cfg.MaxRetries {
			break
		}
		backoff := a.cfg.RetryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			out <- models.StreamChunk{Kind: models.ChunkDone, Err: ctx.Err()}
			return
		case <-time.After(backoff):
		}
	}
	out <- models.StreamChunk{Kind: models.ChunkDone, Err: Wrap("anthropic", 0, "", lastErr)}
}

func (a *AnthropicAdapter) buildParams(system string, history []models.Message, tools []models.ToolSchema) (anthropic.MessageNewParams, error) {
	msgs, err := convertMessagesToAnthropic(history)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.DefaultModel),
		Messages:  msgs,
		MaxTokens: int64(a.cfg.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertToolsToAnthropic(tools)
	}
	return params, nil
}

// maxEmptyStreamEvents bounds consecutive no-op SSE events before the
// stream is treated as malformed, matching the teacher's protection
// against flooding streams.
const maxEmptyStreamEvents = 300

// processStream consumes one Anthropic SSE stream, re-fragmenting its
// tool_use content blocks into per-spec ToolCallDelta chunks: a first
// chunk carrying id+name, followed by zero or more continuation chunks
// carrying only ArgsDelta, contiguous per call (Anthropic never
// interleaves content blocks, so no buffering is required here).
func (a *AnthropicAdapter) processStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, out chan<- models.StreamChunk) error {
	var inputTokens, outputTokens int
	emptyEvents := 0
	currentToolID, currentToolName := "", ""
	openTool := false

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			switch cbs.ContentBlock.Type {
			case "tool_use":
				tu := cbs.ContentBlock.AsToolUse()
				currentToolID, currentToolName = tu.ID, tu.Name
				openTool = true
				out <- models.ToolCallDeltaChunk(currentToolID, currentToolName, "")
			default:
				processed = false
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- models.ContentDeltaChunk(delta.Text, false)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- models.ContentDeltaChunk(delta.Thinking, true)
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && openTool {
					out <- models.ToolCallDeltaChunk("", "", delta.PartialJSON)
				}
			default:
				processed = false
			}

		case "content_block_stop":
			openTool = false
			currentToolID, currentToolName = "", ""

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			out <- models.DoneChunk(&models.Usage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens})
			return nil

		case "error":
			return errors.New("anthropic: stream error event")

		default:
			processed = false
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			a.logger.Warn("dropping malformed anthropic event run", "count", emptyEvents)
			return fmt.Errorf("anthropic: stream appears malformed after %d empty events", emptyEvents)
		}
	}
	return stream.Err()
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "5")
}

func convertMessagesToAnthropic(history []models.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content.Flatten())))
		case models.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if !m.Content.Empty() {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content.Flatten()))
			}
			for _, tc := range m.ToolCalls {
				if tc.ID == "" || tc.FunctionName == "" {
					continue // spec §4.1: filter malformed calls before sending
				}
				var input any
				_ = json.Unmarshal([]byte(tc.Arguments), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.FunctionName))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content.Flatten(), false)))
		}
	}
	return out, nil
}

func convertToolsToAnthropic(tools []models.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return out
}
