package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/ratelimit"
)

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	ContextSize  int
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.ContextSize <= 0 {
		c.ContextSize = 128000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// OpenAIAdapter implements Provider against the Chat Completions
// streaming API, grounded on sashabaranov/go-openai usage in the
// teacher's internal/agent/providers/openai.go.
//
// OpenAI's delta tool_calls are keyed by an array index rather than a
// stable id, and interleave fragments of parallel tool calls within one
// response; since spec §4.1 requires contiguous per-id fragments with no
// interleaving, this adapter buffers per-index accumulators and flushes
// each call's fragments back-to-back only once the response's tool_call
// set is known complete, rather than emitting them as they arrive.
type OpenAIAdapter struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	cfg = cfg.withDefaults()
	if key := os.Getenv(APIKeyEnvVar("openai")); key != "" {
		cfg.APIKey = key
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "providers.openai"),
	}, nil
}

func (a *OpenAIAdapter) Name() string        { return "openai" }
func (a *OpenAIAdapter) MaxContextSize() int { return a.cfg.ContextSize }

func (a *OpenAIAdapter) Stream(ctx context.Context, system string, history []models.Message, tools []models.ToolSchema) (<-chan models.StreamChunk, error) {
	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := openai.ChatCompletionRequest{
		Model:     a.cfg.DefaultModel,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  convertMessagesToOpenAI(system, history),
		Stream:    true,
	}
	if len(tools) > 0 {
		req.Tools = convertToolsToOpenAI(tools)
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, Wrap("openai", 0, "", err)
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		a.processStream(stream, out)
	}()
	return out, nil
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (a *OpenAIAdapter) processStream(stream *openai.ChatCompletionStream, out chan<- models.StreamChunk) {
	pending := make(map[int]*pendingToolCall)
	var order []int
	var inputTokens, outputTokens int
	reasoning := &thinkTagNormalizer{}

	flushToolCalls := func() {
		for _, idx := range order {
			pc := pending[idx]
			if pc.id == "" || pc.name == "" {
				a.logger.Warn("dropping malformed openai tool call delta", "index", idx)
				continue
			}
			out <- models.ToolCallDeltaChunk(pc.id, pc.name, "")
			if args := pc.args.String(); args != "" {
				out <- models.ToolCallDeltaChunk("", "", args)
			}
		}
		pending = make(map[int]*pendingToolCall)
		order = nil
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			flushToolCalls()
			out <- models.StreamChunk{Kind: models.ChunkDone, Err: Wrap("openai", 0, "", err)}
			return
		}
		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.ReasoningContent != "" {
			out <- models.ContentDeltaChunk(delta.ReasoningContent, true)
		}
		for _, chunk := range reasoning.apply(delta.Content) {
			out <- chunk
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingToolCall{}
				pending[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			for _, chunk := range reasoning.flush() {
				out <- chunk
			}
			flushToolCalls()
		}
	}

	out <- models.DoneChunk(&models.Usage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens})
}

func convertMessagesToOpenAI(system string, history []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content.Flatten()})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content.Flatten()}
			for _, tc := range m.ToolCalls {
				if tc.ID == "" || tc.FunctionName == "" {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.FunctionName,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content.Flatten(),
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func convertToolsToOpenAI(tools []models.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params json.RawMessage = t.Parameters
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
