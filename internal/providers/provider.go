// Package providers translates vendor-specific streaming HTTP responses
// into the uniform models.StreamChunk sequence defined by the core data
// model (spec C1). Two concrete adapters are provided: Anthropic and
// OpenAI, grounded on the teacher's internal/agent/providers package.
package providers

import (
	"context"

	"github.com/wisty/jimi/internal/models"
)

// Provider is the interface consumed by the agent executor (C7). Stream
// must be consumed in order by a single reader; the channel is closed
// after a Done chunk or a fatal error.
type Provider interface {
	// Stream issues one completion request and returns the chunk
	// sequence. The channel is closed when the sequence ends. A failure
	// before streaming starts (rate-limit wait, request building,
	// opening the stream) is returned as an error; a transport failure
	// after the stream has started is reported as the final chunk's Err
	// field.
	Stream(ctx context.Context, system string, history []models.Message, tools []models.ToolSchema) (<-chan models.StreamChunk, error)

	// Name is the provider identifier used for routing and logging.
	Name() string

	// MaxContextSize returns the model's context window in tokens, used
	// by the compactor's trigger check (spec §4.5).
	MaxContextSize() int
}

// APIKeyEnvVar returns the environment variable name that takes
// precedence over a configured key, per spec §6: "{PROVIDER}_API_KEY".
func APIKeyEnvVar(providerName string) string {
	upper := make([]byte, 0, len(providerName)+8)
	for i := 0; i < len(providerName); i++ {
		c := providerName[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = append(upper, c)
	}
	return string(upper) + "_API_KEY"
}
