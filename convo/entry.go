// Package convo holds the conversation log for an agent run: ordered
// entries, token budget accounting, and compaction when the budget
// threshold is crossed.
package convo

import (
	"time"

	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

// EntryKind discriminates between entry types.
type EntryKind string

const (
	EntrySystem     EntryKind = "system"
	EntryUser       EntryKind = "user"
	EntryAssistant  EntryKind = "assistant"
	EntryToolResult EntryKind = "tool_result"
)

// Entry is a single item in the conversation log. Index is assigned on
// append and is the sole source of conversation order.
type Entry struct {
	Kind       EntryKind      `json:"kind"`
	Index      int            `json:"index"`
	Timestamp  time.Time      `json:"timestamp"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Summary    bool           `json:"summary,omitempty"` // produced by compaction
}

// NewSystemEntry creates a system entry.
func NewSystemEntry(content string) Entry {
	return Entry{Kind: EntrySystem, Timestamp: time.Now(), Content: content}
}

// NewUserEntry creates a user entry.
func NewUserEntry(content string) Entry {
	return Entry{Kind: EntryUser, Timestamp: time.Now(), Content: content}
}

// NewAssistantEntry creates an assistant entry with any tool calls the
// model issued in that turn.
func NewAssistantEntry(content string, calls []llm.ToolCall) Entry {
	return Entry{Kind: EntryAssistant, Timestamp: time.Now(), Content: content, ToolCalls: calls}
}

// NewToolResultEntry creates a tool result entry tied to a prior call.
func NewToolResultEntry(toolCallID, content string, isError bool) Entry {
	return Entry{Kind: EntryToolResult, Timestamp: time.Now(), Content: content, ToolCallID: toolCallID, IsError: isError}
}

// Window is a consistent view of the conversation for one model call.
type Window struct {
	Entries    []Entry `json:"entries"`
	TokenCount int     `json:"token_count"`
	MaxTokens  int     `json:"max_tokens"`
}

// ToMessages converts entries into provider messages in index order.
func ToMessages(entries []Entry) []llm.Message {
	var messages []llm.Message
	for _, e := range entries {
		switch e.Kind {
		case EntrySystem:
			messages = append(messages, llm.SystemMessage(e.Content))
		case EntryUser:
			messages = append(messages, llm.UserMessage(e.Content))
		case EntryAssistant:
			messages = append(messages, llm.AssistantMessage(e.Content, e.ToolCalls...))
		case EntryToolResult:
			messages = append(messages, llm.ToolResultMessage(e.ToolCallID, e.Content, e.IsError))
		}
	}
	return messages
}
