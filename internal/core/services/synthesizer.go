package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

// fallbackApology is returned when no answer could be produced at all. The
// envelope contract still holds: the caller gets real content, never an
// empty string or an error.
const fallbackApology = "I apologize, but I ran into a problem while processing your request. Please try again."

// ResponseSynthesizer composes the final user-facing answer from everything
// the turn accumulated. It never returns an error: every failure path
// degrades to the apology fallback.
type ResponseSynthesizer struct {
	logger *slog.Logger
	llm    ports.LanguageModel
	tracer *TraceCollector
}

// NewResponseSynthesizer creates a synthesizer.
func NewResponseSynthesizer(logger *slog.Logger, llm ports.LanguageModel, tracer *TraceCollector) *ResponseSynthesizer {
	return &ResponseSynthesizer{logger: logger, llm: llm, tracer: tracer}
}

// Synthesize produces the final answer for one turn.
//
// When the planner already finished with real content, that content is the
// answer; no extra model call is spent. Otherwise the model is asked to
// compose an answer from the turn's history and observations, without tool
// binding so it cannot loop back into execution.
func (s *ResponseSynthesizer) Synthesize(ctx context.Context, turn domain.TurnContext, state *domain.ExecutionState) string {
	if final, ok := state.FinalResponse(); ok && strings.TrimSpace(final) != "" {
		return final
	}

	spanCtx, spanID := s.tracer.StartSpan(ctx, "synthesize", domain.SpanKindLLM, nil)

	var sys strings.Builder
	sys.WriteString("Compose the final answer to the user based on the conversation so far.")
	if turn.Personality != "" {
		sys.WriteString(" Match this persona:\n" + turn.Personality)
	}
	if turn.Limitations != "" {
		sys.WriteString("\nRespect these restrictions:\n" + turn.Limitations)
	}
	sys.WriteString("\nAnswer the user directly; do not mention tools or internal steps.")
	sys.WriteString("\nDo not invent information that is not present in the conversation or the tool observations.")
	sys.WriteString("\nAnswer in the same language the user wrote in.")

	messages := make([]domain.Message, 0, len(state.History())+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: sys.String()})
	messages = append(messages, state.History()...)

	resp, err := s.llm.Invoke(spanCtx, ports.ChatRequest{Messages: messages})
	if err != nil {
		s.logger.Error("synthesis model call failed", "error", err)
		state.AppendLog("synthesizer: model call failed: " + err.Error())
		s.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		return fallbackApology
	}

	state.AddUsage(resp.Usage)
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		s.logger.Warn("synthesis produced empty content, using fallback")
		s.tracer.EndSpan(spanID, domain.SpanStatusOK, "fallback", "")
		return fallbackApology
	}

	s.tracer.EndSpan(spanID, domain.SpanStatusOK, content, "")
	return content
}
