// Package llm provides the model client interface used by the orchestrator
// and the middleware chain that wraps every provider.
package llm

import (
	"context"

	"sgi/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem carries the operating instructions.
	RoleSystem CompletionRole = "system"
	// RoleUser is the field staff side of the exchange, and tool results.
	RoleUser CompletionRole = "user"
	// RoleAssistant is the model side.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens bounds one reply. WhatsApp messages are short.
	DefaultMaxTokens = 1024

	// TemperatureDefault keeps answers grounded in tool data.
	TemperatureDefault = 0.2
)

// CompletionMessage is one message of a completion request. Tool calls and
// tool results travel as plain text so every provider sees the same shape.
type CompletionMessage struct {
	Role    CompletionRole
	Content string
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	ToolChoice  string // "auto" (default) or "none"
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string // "end_turn", "tool_use", "max_tokens", ...
}

// HasToolCalls reports whether the model asked for at least one tool.
func (r CompletionResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model identifier, used for metrics labels.
	GetModelName() string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}
