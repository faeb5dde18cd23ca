// Package llm is the model-provider boundary: a streaming client
// interface, typed provider errors with retry classification, an
// ordered fallback chain, and a gollm-backed implementation.
package llm

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is the fundamental unit of conversation sent to a provider.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message, optionally carrying
// the tool calls the model issued in that turn.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage creates a tool result Message tied to a prior call.
func ToolResultMessage(toolCallID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, IsError: isError}
}

// ToolDefinition describes a tool to the model (JSON Schema parameters).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the input for a streaming completion.
type Request struct {
	Model       string           `json:"model"`
	Provider    string           `json:"provider,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"` // "auto", "none", "required"
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage tracks token consumption for a single completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Response is the assembled result of one completion.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Text         string       `json:"text"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	CreatedAt    time.Time    `json:"created_at"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamTextDelta    StreamEventType = "text_delta"
	StreamToolFragment StreamEventType = "tool_call_fragment"
	StreamFinish       StreamEventType = "finish"
	StreamError        StreamEventType = "error"
)

// ToolCallFragment is an incremental piece of a tool call. Fragments
// sharing an Index belong to the same call; ID and Name arrive on the
// first fragment, ArgumentsDelta accumulates across fragments.
type ToolCallFragment struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// StreamEvent is a single event from a streaming completion. Exactly
// one of Delta, Fragment, Response, or Err is meaningful, selected by
// Type. A well-formed stream ends with either a finish or an error
// event before the channel closes.
type StreamEvent struct {
	Type     StreamEventType   `json:"type"`
	Delta    string            `json:"delta,omitempty"`
	Fragment *ToolCallFragment `json:"fragment,omitempty"`
	Response *Response         `json:"response,omitempty"`
	Err      error             `json:"-"`
}
