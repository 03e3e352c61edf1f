package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

func taskRegistry(t *testing.T) *domain.ToolRegistry {
	t.Helper()
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(&domain.Tool{
		Name:        "send_email",
		Description: "sends an email",
		Parameters: domain.ToolParameters{
			Type:       "object",
			Properties: map[string]any{"to": map[string]any{"type": "string"}},
			Required:   []string{"to"},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return "sent to " + args["to"].(string), nil
		},
	}))
	return reg
}

func newTestPipeline(t *testing.T, plannerModel, synthModel *scriptedModel, reg *domain.ToolRegistry) (*Pipeline, *Planner) {
	t.Helper()
	tracer := testTracer()
	planner := NewPlanner(testLogger(), plannerModel, tracer, nil, 10)
	synth := NewResponseSynthesizer(testLogger(), synthModel, tracer)
	return NewPipeline(testLogger(), planner, synth, tracer, reg, 0), planner
}

func TestPipeline_ToolStageThenResponse(t *testing.T) {
	plannerModel := newScriptedModel(
		respondToolCall("send_email", map[string]any{"to": "ana@example.com"}),
		respondText("Email sent to Ana."),
	)
	synthModel := newScriptedModel(respondText("unused"))
	pipe, _ := newTestPipeline(t, plannerModel, synthModel, taskRegistry(t))

	state := domain.NewExecutionState([]domain.Message{
		{Role: domain.RoleUser, Content: "email ana"},
	}, nil, 0)
	plan := domain.Plan{Stages: []domain.Stage{domain.StageTask, domain.StageResponse}}

	out := pipe.Run(context.Background(), domain.TurnContext{UserInput: "email ana"}, plan, state)

	// Planner's finish content is the final answer; no synthesis call needed
	assert.Equal(t, "Email sent to Ana.", out)
	assert.Equal(t, 0, synthModel.callCount())

	require.Len(t, state.Results(), 1)
	assert.Equal(t, domain.ToolCallSuccess, state.Results()[0].Status)
	assert.Equal(t, "sent to ana@example.com", state.Results()[0].Output)
}

func TestPipeline_RejectionFedBackAsObservation(t *testing.T) {
	plannerModel := newScriptedModel(
		respondToolCall("send_email", map[string]any{"to": ""}), // falsy required param
		respondText("I need a recipient address."),
	)
	synthModel := newScriptedModel(respondText("unused"))
	pipe, _ := newTestPipeline(t, plannerModel, synthModel, taskRegistry(t))

	state := domain.NewExecutionState(nil, nil, 0)
	plan := domain.Plan{Stages: []domain.Stage{domain.StageTask, domain.StageResponse}}

	pipe.Run(context.Background(), domain.TurnContext{}, plan, state)

	// The second planner call saw the rejection as a tool observation
	require.Equal(t, 2, plannerModel.callCount())
	var observation *domain.Message
	for _, m := range plannerModel.requests[1].Messages {
		if m.Role == domain.RoleTool {
			observation = &m
			break
		}
	}
	require.NotNil(t, observation)
	assert.Contains(t, observation.Content, "ERROR:")
	assert.Contains(t, observation.Content, "missing required parameters")

	require.Len(t, state.Results(), 1)
	assert.Equal(t, domain.ToolCallRejected, state.Results()[0].Status)
}

func TestPipeline_EmptyStageSkipped(t *testing.T) {
	// Registry has only task tools; the research stage has nothing and must
	// not consume planner iterations.
	plannerModel := newScriptedModel(respondText("done"))
	synthModel := newScriptedModel(respondText("final answer"))
	pipe, _ := newTestPipeline(t, plannerModel, synthModel, taskRegistry(t))

	state := domain.NewExecutionState(nil, nil, 0)
	plan := domain.Plan{Stages: []domain.Stage{domain.StageResearch, domain.StageResponse}}

	out := pipe.Run(context.Background(), domain.TurnContext{}, plan, state)

	assert.Equal(t, "final answer", out)
	assert.Equal(t, 0, plannerModel.callCount())
	assert.Equal(t, 0, state.Iteration())
}

func TestPipeline_ResponseOnlyPlan(t *testing.T) {
	plannerModel := newScriptedModel(respondText("unused"))
	synthModel := newScriptedModel(respondText("Hello! How can I help?"))
	pipe, _ := newTestPipeline(t, plannerModel, synthModel, taskRegistry(t))

	state := domain.NewExecutionState([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}, nil, 0)

	out := pipe.Run(context.Background(), domain.TurnContext{UserInput: "hi"}, domain.FallbackPlan(), state)

	assert.Equal(t, "Hello! How can I help?", out)
	assert.Equal(t, 0, plannerModel.callCount())
	assert.Empty(t, state.Results())
}

func TestPipeline_IterationCapEndsRunawayLoop(t *testing.T) {
	// Planner model never finishes on its own.
	plannerModel := newScriptedModel(respondToolCall("send_email", map[string]any{"to": "x@example.com"}))
	synthModel := newScriptedModel(respondText("unused"))

	tracer := testTracer()
	planner := NewPlanner(testLogger(), plannerModel, tracer, nil, 3)
	synth := NewResponseSynthesizer(testLogger(), synthModel, tracer)
	pipe := NewPipeline(testLogger(), planner, synth, tracer, taskRegistry(t), 0)

	state := domain.NewExecutionState(nil, nil, 0)
	plan := domain.Plan{Stages: []domain.Stage{domain.StageTask, domain.StageResponse}}

	out := pipe.Run(context.Background(), domain.TurnContext{}, plan, state)

	assert.Equal(t, maxIterationsMessage, out)
	assert.Equal(t, 3, plannerModel.callCount())
	assert.Len(t, state.Results(), 3) // three batches executed before the cap
	assert.Equal(t, 0, synthModel.callCount())
}

func TestPipeline_UnknownStagesNormalizedAway(t *testing.T) {
	plannerModel := newScriptedModel(respondText("unused"))
	synthModel := newScriptedModel(respondText("ok"))
	pipe, _ := newTestPipeline(t, plannerModel, synthModel, taskRegistry(t))

	state := domain.NewExecutionState(nil, nil, 0)
	plan := domain.Plan{Stages: []domain.Stage{"bogus"}}

	out := pipe.Run(context.Background(), domain.TurnContext{}, plan, state)
	assert.Equal(t, "ok", out)
}
