// Package llm defines the provider boundary: typed stream chunks, the
// transcript model, and the Provider/Stream interfaces the engine consumes.
package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output chunks for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     float32
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool as presented to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation as it appears on the wire.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// FinishReason classifies why a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishTruncated FinishReason = "truncated"
	FinishToolCalls FinishReason = "tool_calls"
	FinishUnknown   FinishReason = "unknown"
)

// ChunkType describes streamed provider chunks.
type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text_delta"
	ChunkReasoningDelta ChunkType = "reasoning_delta"
	ChunkToolInputStart ChunkType = "tool_input_start"
	ChunkToolInputDelta ChunkType = "tool_input_delta"
	ChunkToolCall       ChunkType = "tool_call"
	ChunkFinish         ChunkType = "finish"
)

// Chunk represents one streamed provider update.
type Chunk struct {
	Type ChunkType

	// Text carries the delta for text_delta, reasoning_delta and
	// tool_input_delta chunks.
	Text string

	// ID correlates tool_input_start/tool_input_delta/tool_call chunks.
	ID string

	// Name is the (possibly short) tool name for tool_input_start and
	// tool_call chunks.
	Name string

	// Args is the complete argument payload for tool_call chunks.
	Args json.RawMessage

	// FinishReason and Usage are set on finish chunks only.
	FinishReason FinishReason
	Usage        *Usage
}

// Usage captures token usage reported by the provider.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
}
