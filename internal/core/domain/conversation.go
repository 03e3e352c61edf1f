package domain

import (
	"errors"
	"time"

	"crypto/rand"
	"encoding/hex"
)

// ConversationID uniquely identifies a conversation
type ConversationID string

// MessageID uniquely identifies a message within a conversation
type MessageID string

// MessageRole defines who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Conversation represents a multi-turn chat session
type Conversation struct {
	ID        ConversationID `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message represents a single entry in a conversation history.
// Assistant messages may carry tool calls; tool messages carry the
// observation for one call, linked back through ToolCallID.
type Message struct {
	ID             MessageID         `json:"id,omitempty"`
	ConversationID ConversationID    `json:"conversation_id,omitempty"`
	Role           MessageRole       `json:"role"`
	Content        string            `json:"content"`
	ToolCalls      []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID     string            `json:"tool_call_id,omitempty"`
	ToolName       string            `json:"tool_name,omitempty"`
	CreatedAt      time.Time         `json:"created_at,omitempty"`
}

// HasToolCalls reports whether this message asks for tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// TurnContext is the immutable per-turn input: what the user said, what came
// before, and the static framing the caller supplies with every turn.
type TurnContext struct {
	UserInput string
	History   []Message

	// Static context strings, caller-owned
	Purpose     string // business instructions
	Personality string // persona tone
	Limitations string // behavioral restrictions
	DynamicInfo string // runtime facts: current date, user identity, ...
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// NewConversationID generates a compact random conversation ID (conv-<12 hex>)
func NewConversationID() ConversationID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return ConversationID("conv-" + hex.EncodeToString(b))
}

// NewMessageID generates a compact random message ID (msg-<12 hex>)
func NewMessageID() MessageID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return MessageID("msg-" + hex.EncodeToString(b))
}
