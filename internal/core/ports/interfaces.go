package ports

import (
	"context"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// ChatRequest is the model input contract: an ordered message list plus the
// tool descriptors the model may call.
type ChatRequest struct {
	Messages []domain.Message
	Tools    []domain.ToolDescriptor
}

// ChatResponse is what a model invocation yields: text, zero or more
// structured tool calls, and token accounting.
type ChatResponse struct {
	Content   string
	ToolCalls []domain.ToolCallRequest
	Usage     domain.TokenUsage
}

// LanguageModel abstracts the externally supplied model capability. When
// Tools is non-empty the provider must run in tool-binding mode and may emit
// ToolCalls alongside or instead of Content.
type LanguageModel interface {
	Invoke(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ToolObserver receives tool lifecycle notifications. Implementations run
// outside the core's control: any panic or misbehavior is swallowed by the
// executor and never affects tool execution.
type ToolObserver interface {
	OnToolStart(name string, args string)
	OnToolEnd(name string, output string)
	OnToolError(name string, errMsg string)
}

// PlannerObserver receives one notification per planning iteration. Same
// contract as ToolObserver: failures are swallowed by the planner.
type PlannerObserver interface {
	OnDecision(decision string, reasoning string, iteration int)
}

// Repository abstracts the persistent storage (DuckDB)
type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id domain.ConversationID, title string) error
	DeleteConversation(ctx context.Context, id domain.ConversationID) error

	// Messages
	AddMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, convID domain.ConversationID, limit int) ([]domain.Message, error)

	// Traces
	SaveTrace(ctx context.Context, trace *domain.Trace) error
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
