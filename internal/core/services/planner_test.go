package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

func plannerRegistry(t *testing.T) *domain.ToolRegistry {
	t.Helper()
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(&domain.Tool{
		Name:        "lookup",
		Description: "looks things up",
		Execute:     func(_ context.Context, _ map[string]any) (string, error) { return "", nil },
	}))
	return reg
}

func TestPlanner_MapsToolCallsToExecuteDecision(t *testing.T) {
	model := newScriptedModel(respondToolCall("lookup", map[string]any{"q": "x"}))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	state := domain.NewExecutionState(nil, nil, 0)
	d := p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	assert.Equal(t, domain.DecisionExecuteTool, d.Decision)
	require.Len(t, d.ToolCalls, 1)
	assert.Equal(t, "lookup", d.ToolCalls[0].Name)
	assert.NotEmpty(t, d.ToolCalls[0].ID)
	assert.Equal(t, 1, state.Iteration())
}

func TestPlanner_MapsContentToFinishDecision(t *testing.T) {
	model := newScriptedModel(respondText("all done"))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	state := domain.NewExecutionState(nil, nil, 0)
	d := p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	assert.True(t, d.Finished())
	assert.Equal(t, "all done", d.Content)
}

func TestPlanner_IterationCapForcesFinish(t *testing.T) {
	// Model always wants another tool call; the cap must stop it.
	model := newScriptedModel(respondToolCall("lookup", map[string]any{"q": "x"}))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 3)

	state := domain.NewExecutionState(nil, nil, 0)
	turn := domain.TurnContext{UserInput: "loop forever"}
	reg := plannerRegistry(t)

	var last domain.PlannerDecision
	for i := 0; i < 4; i++ {
		last = p.Decide(context.Background(), turn, state, reg)
	}

	assert.True(t, last.Finished())
	assert.Equal(t, maxIterationsMessage, last.Content)
	// The model was consulted exactly maxIters times; the forced finish is synthetic
	assert.Equal(t, 3, model.callCount())
	assert.Equal(t, 4, state.Iteration())
}

func TestPlanner_ModelErrorFailsOpen(t *testing.T) {
	model := newScriptedModel(respondError(errors.New("connection refused")))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	state := domain.NewExecutionState(nil, nil, 0)
	d := p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	// Finish with no content: the synthesizer will produce the fallback
	assert.True(t, d.Finished())
	assert.Empty(t, d.Content)
}

func TestPlanner_AccumulatesUsage(t *testing.T) {
	model := newScriptedModel(respondText("done"))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	state := domain.NewExecutionState(nil, nil, 0)
	p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	assert.Equal(t, 15, state.Usage().TotalTokens)
}

func TestPlanner_SystemPromptCarriesTurnContext(t *testing.T) {
	model := newScriptedModel(respondText("ok"))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	turn := domain.TurnContext{
		Purpose:     "Help customers book rooms",
		Personality: "Cheerful concierge",
		Limitations: "Never discuss pricing",
		DynamicInfo: "Today is Monday",
	}
	state := domain.NewExecutionState([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}, nil, 0)

	p.Decide(context.Background(), turn, state, plannerRegistry(t))

	require.Len(t, model.requests, 1)
	msgs := model.requests[0].Messages
	require.NotEmpty(t, msgs)
	sys := msgs[0]
	assert.Equal(t, domain.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "Help customers book rooms")
	assert.Contains(t, sys.Content, "Cheerful concierge")
	assert.Contains(t, sys.Content, "Never discuss pricing")
	assert.Contains(t, sys.Content, "Today is Monday")
	assert.Contains(t, sys.Content, "lookup") // tool prompt present
}

func TestPlanner_ConditionalRuleKeyedOnToolPresence(t *testing.T) {
	rules := []PromptRule{
		{WhenTool: "lookup", Text: "Always cite the lookup source."},
		{WhenTool: "absent_tool", Text: "This must not appear."},
	}
	model := newScriptedModel(respondText("ok"))
	p := NewPlanner(testLogger(), model, testTracer(), rules, 10)

	state := domain.NewExecutionState(nil, nil, 0)
	p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	sys := model.requests[0].Messages[0]
	assert.Contains(t, sys.Content, "Always cite the lookup source.")
	assert.NotContains(t, sys.Content, "This must not appear.")
}

type recordingPlannerObserver struct {
	mu        sync.Mutex
	decisions []string
}

func (o *recordingPlannerObserver) OnDecision(decision string, _ string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, decision)
}

type panickyPlannerObserver struct{}

func (panickyPlannerObserver) OnDecision(string, string, int) { panic("observer bug") }

func TestPlanner_ObserverPanicIsSwallowed(t *testing.T) {
	model := newScriptedModel(respondText("done"))
	p := NewPlanner(testLogger(), model, testTracer(), nil, 10)

	rec := &recordingPlannerObserver{}
	p.AddObserver(panickyPlannerObserver{})
	p.AddObserver(rec)

	state := domain.NewExecutionState(nil, nil, 0)
	d := p.Decide(context.Background(), domain.TurnContext{}, state, plannerRegistry(t))

	assert.True(t, d.Finished())
	assert.Equal(t, []string{string(domain.DecisionFinish)}, rec.decisions)
}
