package services

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTracer() *TraceCollector {
	return NewTraceCollector(testLogger(), nil, nil)
}

// scriptedModel replays a fixed sequence of responses; once the script is
// exhausted the last step repeats. Every request is recorded for assertions.
type scriptedModel struct {
	mu       sync.Mutex
	script   []scriptStep
	requests []ports.ChatRequest
}

type scriptStep struct {
	resp *ports.ChatResponse
	err  error
}

func respondText(content string) scriptStep {
	return scriptStep{resp: &ports.ChatResponse{
		Content: content,
		Usage:   domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func respondToolCall(name string, args map[string]any) scriptStep {
	return scriptStep{resp: &ports.ChatResponse{
		ToolCalls: []domain.ToolCallRequest{{ID: domain.NewCallID(), Name: name, Args: args}},
		Usage:     domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func respondError(err error) scriptStep {
	return scriptStep{err: err}
}

func newScriptedModel(steps ...scriptStep) *scriptedModel {
	return &scriptedModel{script: steps}
}

func (m *scriptedModel) Invoke(_ context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	step := m.script[idx]
	if step.err != nil {
		return nil, step.err
	}
	// Copy so callers can't mutate the script
	resp := *step.resp
	return &resp, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
