package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// TurnRequest is one user turn submitted to the bot.
//
// ConversationID is optional: empty means a new conversation is created
// (when persistence is wired) or the turn is stateless (when it is not).
// History is only consulted when no conversation store is available.
type TurnRequest struct {
	ConversationID domain.ConversationID
	Message        string
	History        []domain.Message
	Logs           []string // prior log lines, seeded into the turn's state

	Purpose     string
	Personality string
	Limitations string
	DynamicInfo string
}

// TurnResult is the response envelope. Its shape is a hard contract: every
// field is always populated (slices may be empty but never nil), no matter
// what failed internally. Callers can destructure it blindly.
type TurnResult struct {
	Content        string                  `json:"content"`
	Logs           []string                `json:"logs"`
	ToolsExecuted  []domain.ToolCallResult `json:"tools_executed"`
	TokenUsage     domain.TokenUsage       `json:"token_usage"`
	ConversationID domain.ConversationID   `json:"conversation_id,omitempty"`
}

// Bot is the single entry point for conversational turns. It hides the
// architect, pipeline, and persistence behind one call.
type Bot struct {
	logger    *slog.Logger
	architect *Architect
	pipeline  *Pipeline
	convs     *ConversationStore // nil = stateless operation
	tracer    *TraceCollector
	cfg       domain.AgentConfig
}

// NewBot wires the facade. convs may be nil for library use without
// persistence; history then comes from the request itself.
func NewBot(
	logger *slog.Logger,
	architect *Architect,
	pipeline *Pipeline,
	convs *ConversationStore,
	tracer *TraceCollector,
	cfg domain.AgentConfig,
) *Bot {
	return &Bot{
		logger:    logger,
		architect: architect,
		pipeline:  pipeline,
		convs:     convs,
		tracer:    tracer,
		cfg:       cfg,
	}
}

// GetResponse processes one turn end to end: route, execute stages,
// synthesize, persist. It never returns an error and never panics outward;
// total internal failure still yields a complete envelope with the apology
// fallback as content.
func (b *Bot) GetResponse(ctx context.Context, req TurnRequest) (result TurnResult) {
	start := time.Now()

	// Envelope shape holds even if everything below blows up.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("turn panicked", "panic", fmt.Sprint(r))
			result = TurnResult{
				Content:        fallbackApology,
				Logs:           []string{fmt.Sprintf("turn panicked: %v", r)},
				ToolsExecuted:  []domain.ToolCallResult{},
				TokenUsage:     domain.TokenUsage{},
				ConversationID: req.ConversationID,
			}
		}
		if result.Logs == nil {
			result.Logs = []string{}
		}
		if result.ToolsExecuted == nil {
			result.ToolsExecuted = []domain.ToolCallResult{}
		}
	}()

	traceName := "turn: " + truncate(req.Message, 80)
	ctx, traceID, _ := b.tracer.StartTrace(ctx, traceName, map[string]string{
		"conversation_id": string(req.ConversationID),
	})

	convID, history := b.resolveHistory(ctx, req)
	b.tracer.SetTraceConversation(traceID, string(convID))

	turn := domain.TurnContext{
		UserInput:   req.Message,
		History:     history,
		Purpose:     req.Purpose,
		Personality: req.Personality,
		Limitations: req.Limitations,
		DynamicInfo: req.DynamicInfo,
	}

	userMsg := domain.Message{
		ID:             domain.NewMessageID(),
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now(),
	}
	b.persist(ctx, userMsg)

	// Never append into the caller's history backing array.
	turnHistory := make([]domain.Message, 0, len(history)+1)
	turnHistory = append(turnHistory, history...)
	turnHistory = append(turnHistory, userMsg)

	state := domain.NewExecutionState(turnHistory, req.Logs, b.cfg.MaxLogLines)

	plan, routeUsage := b.architect.Route(ctx, turn)
	state.AddUsage(routeUsage)
	state.AppendLog(fmt.Sprintf("plan: %v", plan.Stages))

	content := b.pipeline.Run(ctx, turn, plan, state)

	b.persist(ctx, domain.Message{
		ID:             domain.NewMessageID(),
		ConversationID: convID,
		Role:           domain.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now(),
	})

	b.tracer.EndTrace(traceID, domain.SpanStatusOK, "")
	b.logger.Info("turn completed",
		"conversation_id", string(convID),
		"duration", time.Since(start),
		"iterations", state.Iteration(),
		"tools_executed", len(state.Results()),
		"tokens", state.Usage().TotalTokens)

	return TurnResult{
		Content:        content,
		Logs:           state.Logs(),
		ToolsExecuted:  state.Results(),
		TokenUsage:     state.Usage(),
		ConversationID: convID,
	}
}

// resolveHistory finds or creates the conversation and returns its windowed
// history. Persistence failures degrade to stateless operation rather than
// failing the turn.
func (b *Bot) resolveHistory(ctx context.Context, req TurnRequest) (domain.ConversationID, []domain.Message) {
	if b.convs == nil {
		return req.ConversationID, req.History
	}

	convID := req.ConversationID
	if convID == "" {
		conv, err := b.convs.CreateConversation(ctx, truncate(req.Message, 60))
		if err != nil {
			b.logger.Warn("could not create conversation, running stateless", "error", err)
			return "", req.History
		}
		convID = conv.ID
		return convID, nil
	}

	history, err := b.convs.Window(ctx, convID, b.cfg.HistoryWindow)
	if err != nil {
		b.logger.Warn("could not load history, running stateless", "conversation_id", string(convID), "error", err)
		return convID, req.History
	}
	return convID, history
}

func (b *Bot) persist(ctx context.Context, msg domain.Message) {
	if b.convs == nil || msg.ConversationID == "" {
		return
	}
	if err := b.convs.AddMessage(ctx, msg); err != nil {
		b.logger.Warn("could not persist message", "conversation_id", string(msg.ConversationID), "error", err)
	}
}
