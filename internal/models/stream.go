package models

// StreamChunkKind discriminates the StreamChunk tagged union emitted by a
// Provider Adapter.
type StreamChunkKind string

const (
	ChunkContentDelta  StreamChunkKind = "content_delta"
	ChunkToolCallDelta StreamChunkKind = "tool_call_delta"
	ChunkDone          StreamChunkKind = "done"
)

// Usage reports token accounting from a provider's Done chunk.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// StreamChunk is one element of the lazy sequence a Provider Adapter
// produces. Exactly the fields relevant to Kind are populated.
type StreamChunk struct {
	Kind StreamChunkKind

	// ContentDelta fields.
	Text        string
	IsReasoning bool

	// ToolCallDelta fields. ID and Name are optional per chunk: a vendor
	// may split them across chunks, or omit them entirely on
	// continuation chunks that only carry ArgsDelta.
	ID        string
	Name      string
	ArgsDelta string

	// Done fields.
	Usage *Usage

	// Err is set when the adapter wraps a transport failure into the
	// stream instead of returning it from Stream directly (used by
	// malformed-chunk recovery paths that still need to terminate the
	// sequence with context).
	Err error
}

// ContentDeltaChunk builds a ContentDelta chunk.
func ContentDeltaChunk(text string, isReasoning bool) StreamChunk {
	return StreamChunk{Kind: ChunkContentDelta, Text: text, IsReasoning: isReasoning}
}

// ToolCallDeltaChunk builds a ToolCallDelta chunk. id and name may be
// empty strings when the vendor omits them on a given fragment.
func ToolCallDeltaChunk(id, name, argsDelta string) StreamChunk {
	return StreamChunk{Kind: ChunkToolCallDelta, ID: id, Name: name, ArgsDelta: argsDelta}
}

// DoneChunk builds a terminal Done chunk, usage may be nil.
func DoneChunk(usage *Usage) StreamChunk {
	return StreamChunk{Kind: ChunkDone, Usage: usage}
}

// ToolSchema is the JSON-schema description of a tool's parameters as
// handed to a Provider Adapter for the outgoing call.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON schema document
}
