package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

func TestArchitect_ParsesWellFormedPlan(t *testing.T) {
	model := newScriptedModel(respondText(`{"steps": ["research", "task", "response"], "reasoning": "needs info then action"}`))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, usage := a.Route(context.Background(), domain.TurnContext{UserInput: "book me a room"})

	assert.Equal(t, []domain.Stage{domain.StageResearch, domain.StageTask, domain.StageResponse}, plan.Stages)
	assert.Equal(t, "needs info then action", plan.Reasoning)
	assert.Equal(t, 15, usage.TotalTokens)
	assert.Equal(t, 1, model.callCount()) // exactly one model call
}

func TestArchitect_StripsCodeFences(t *testing.T) {
	model := newScriptedModel(respondText("```json\n{\"steps\": [\"policy\", \"response\"], \"reasoning\": \"check rules\"}\n```"))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, _ := a.Route(context.Background(), domain.TurnContext{UserInput: "cancel my order"})
	assert.Equal(t, []domain.Stage{domain.StagePolicy, domain.StageResponse}, plan.Stages)
}

func TestArchitect_ToleratesSurroundingProse(t *testing.T) {
	model := newScriptedModel(respondText(`Sure! Here is the plan: {"steps": ["response"], "reasoning": "chit-chat"} Hope that helps.`))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, _ := a.Route(context.Background(), domain.TurnContext{UserInput: "hello"})
	assert.Equal(t, []domain.Stage{domain.StageResponse}, plan.Stages)
}

func TestArchitect_UnknownStagesDropped(t *testing.T) {
	model := newScriptedModel(respondText(`{"steps": ["research", "deploy", "response"], "reasoning": ""}`))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, _ := a.Route(context.Background(), domain.TurnContext{UserInput: "x"})
	assert.Equal(t, []domain.Stage{domain.StageResearch, domain.StageResponse}, plan.Stages)
}

func TestArchitect_AppendsMissingResponse(t *testing.T) {
	model := newScriptedModel(respondText(`{"steps": ["task"], "reasoning": "do it"}`))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, _ := a.Route(context.Background(), domain.TurnContext{UserInput: "x"})
	assert.Equal(t, []domain.Stage{domain.StageTask, domain.StageResponse}, plan.Stages)
}

func TestArchitect_GarbageFallsBack(t *testing.T) {
	for _, content := range []string{
		"I think you should research this.",
		`{"steps": []}`,
		`{"steps": "not a list"}`,
		"",
	} {
		model := newScriptedModel(respondText(content))
		a := NewArchitect(testLogger(), model, testTracer())

		plan, _ := a.Route(context.Background(), domain.TurnContext{UserInput: "x"})
		assert.Equal(t, []domain.Stage{domain.StageResponse}, plan.Stages, "content: %q", content)
	}
}

func TestArchitect_ModelErrorFallsBack(t *testing.T) {
	model := newScriptedModel(respondError(errors.New("timeout")))
	a := NewArchitect(testLogger(), model, testTracer())

	plan, usage := a.Route(context.Background(), domain.TurnContext{UserInput: "x"})
	assert.Equal(t, []domain.Stage{domain.StageResponse}, plan.Stages)
	assert.True(t, usage.IsZero())
}

func TestExtractJSONObject_Balanced(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(`prefix {"a": {"b": 1}} suffix`))
	assert.Equal(t, `{"s": "va}lue"}`, extractJSONObject(`{"s": "va}lue"}`)) // brace inside string
	assert.Equal(t, "", extractJSONObject("no json here"))
	assert.Equal(t, "", extractJSONObject(`{"unterminated": true`))
}
