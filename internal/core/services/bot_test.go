package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

func newTestBot(t *testing.T, architectModel, plannerModel, synthModel *scriptedModel, reg *domain.ToolRegistry) *Bot {
	t.Helper()
	tracer := testTracer()
	cfg := domain.DefaultConfig().Agent

	planner := NewPlanner(testLogger(), plannerModel, tracer, nil, cfg.MaxIterations)
	architect := NewArchitect(testLogger(), architectModel, tracer)
	synth := NewResponseSynthesizer(testLogger(), synthModel, tracer)
	pipe := NewPipeline(testLogger(), planner, synth, tracer, reg, cfg.MaxToolRetries)

	return NewBot(testLogger(), architect, pipe, nil, tracer, cfg)
}

func TestBot_FullTurnWithToolUse(t *testing.T) {
	architectModel := newScriptedModel(respondText(`{"steps": ["task", "response"], "reasoning": "action needed"}`))
	plannerModel := newScriptedModel(
		respondToolCall("send_email", map[string]any{"to": "bo@example.com"}),
		respondText("Done, I emailed Bo."),
	)
	synthModel := newScriptedModel(respondText("unused"))

	bot := newTestBot(t, architectModel, plannerModel, synthModel, taskRegistry(t))
	result := bot.GetResponse(context.Background(), TurnRequest{Message: "email bo"})

	assert.Equal(t, "Done, I emailed Bo.", result.Content)
	require.Len(t, result.ToolsExecuted, 1)
	assert.Equal(t, "send_email", result.ToolsExecuted[0].Name)
	assert.Equal(t, domain.ToolCallSuccess, result.ToolsExecuted[0].Status)

	// Usage sums architect + both planner calls
	assert.Equal(t, 45, result.TokenUsage.TotalTokens)
	assert.NotEmpty(t, result.Logs)
}

func TestBot_EnvelopeShapeOnTotalFailure(t *testing.T) {
	// Every model call fails: routing falls back, the planner fails open,
	// synthesis apologizes. The envelope must still be fully populated.
	dead := respondError(errors.New("all backends down"))
	bot := newTestBot(t,
		newScriptedModel(dead),
		newScriptedModel(dead),
		newScriptedModel(dead),
		taskRegistry(t))

	result := bot.GetResponse(context.Background(), TurnRequest{Message: "anything"})

	assert.Equal(t, fallbackApology, result.Content)
	assert.NotNil(t, result.Logs)
	assert.NotNil(t, result.ToolsExecuted)
	assert.Empty(t, result.ToolsExecuted)
	assert.True(t, result.TokenUsage.IsZero())
}

func TestBot_ConversationalTurnSkipsTools(t *testing.T) {
	architectModel := newScriptedModel(respondText(`{"steps": ["response"], "reasoning": "small talk"}`))
	plannerModel := newScriptedModel(respondText("unused"))
	synthModel := newScriptedModel(respondText("Hi there!"))

	bot := newTestBot(t, architectModel, plannerModel, synthModel, taskRegistry(t))
	result := bot.GetResponse(context.Background(), TurnRequest{Message: "hello"})

	assert.Equal(t, "Hi there!", result.Content)
	assert.Empty(t, result.ToolsExecuted)
	assert.Equal(t, 0, plannerModel.callCount())
}

func TestBot_StatelessHistoryFlowsToPlanner(t *testing.T) {
	architectModel := newScriptedModel(respondText(`{"steps": ["task", "response"], "reasoning": ""}`))
	plannerModel := newScriptedModel(respondText("I remember."))
	synthModel := newScriptedModel(respondText("unused"))

	bot := newTestBot(t, architectModel, plannerModel, synthModel, taskRegistry(t))
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "my name is Sam"},
		{Role: domain.RoleAssistant, Content: "Nice to meet you, Sam"},
	}
	result := bot.GetResponse(context.Background(), TurnRequest{Message: "what is my name?", History: history})

	assert.Equal(t, "I remember.", result.Content)
	require.Equal(t, 1, plannerModel.callCount())

	var contents []string
	for _, m := range plannerModel.requests[0].Messages {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "my name is Sam")
	assert.Contains(t, contents, "what is my name?")
}

func TestBot_PriorLogsSeedTheTurn(t *testing.T) {
	architectModel := newScriptedModel(respondText(`{"steps": ["response"], "reasoning": ""}`))
	synthModel := newScriptedModel(respondText("Hi!"))

	tracer := testTracer()
	cfg := domain.DefaultConfig().Agent
	cfg.MaxLogLines = 5

	planner := NewPlanner(testLogger(), newScriptedModel(respondText("unused")), tracer, nil, cfg.MaxIterations)
	architect := NewArchitect(testLogger(), architectModel, tracer)
	synth := NewResponseSynthesizer(testLogger(), synthModel, tracer)
	pipe := NewPipeline(testLogger(), planner, synth, tracer, taskRegistry(t), cfg.MaxToolRetries)
	bot := NewBot(testLogger(), architect, pipe, nil, tracer, cfg)

	prior := []string{"old 1", "old 2", "old 3", "old 4", "old 5", "old 6"}
	result := bot.GetResponse(context.Background(), TurnRequest{Message: "hello", Logs: prior})

	// The ring keeps the newest lines: the oldest seeds fall off, the most
	// recent seed survives alongside this turn's own entries.
	assert.LessOrEqual(t, len(result.Logs), 5)
	assert.NotContains(t, result.Logs, "old 1")
	assert.Contains(t, result.Logs, "old 6")
}

func TestBot_DoesNotMutateCallerHistory(t *testing.T) {
	architectModel := newScriptedModel(respondText(`{"steps": ["response"], "reasoning": ""}`))
	plannerModel := newScriptedModel(respondText("unused"))
	synthModel := newScriptedModel(respondText("ok"))

	bot := newTestBot(t, architectModel, plannerModel, synthModel, taskRegistry(t))

	// Spare capacity past len: an in-place append would write into it.
	backing := make([]domain.Message, 2, 8)
	backing[0] = domain.Message{Role: domain.RoleUser, Content: "first"}
	backing[1] = domain.Message{Role: domain.RoleAssistant, Content: "second"}

	bot.GetResponse(context.Background(), TurnRequest{Message: "third", History: backing})

	spare := backing[:3]
	assert.Empty(t, spare[2].Content)
	assert.Empty(t, spare[2].Role)
}

func TestBot_PanicStillYieldsEnvelope(t *testing.T) {
	// A nil architect guarantees a panic inside the turn.
	tracer := testTracer()
	cfg := domain.DefaultConfig().Agent
	bot := NewBot(testLogger(), nil, nil, nil, tracer, cfg)

	result := bot.GetResponse(context.Background(), TurnRequest{Message: "boom"})

	assert.Equal(t, fallbackApology, result.Content)
	assert.NotNil(t, result.Logs)
	assert.NotEmpty(t, result.Logs)
	assert.NotNil(t, result.ToolsExecuted)
}
