package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

// Pipeline interprets a turn's stage plan. It is a plain interpreter over an
// ordered stage list: tool stages run a ReAct loop scoped to that stage's
// tools, and the terminal response stage synthesizes the answer. No per-turn
// graph objects are built; the plan slice is the whole program.
type Pipeline struct {
	logger      *slog.Logger
	planner     *Planner
	synthesizer *ResponseSynthesizer
	tracer      *TraceCollector

	stageTools     map[domain.Stage]*domain.ToolRegistry
	stageExecutors map[domain.Stage]*ToolExecutor
}

// NewPipeline creates a stage interpreter over a tool registry. The registry
// is partitioned once: each tool stage sees only its own subset, so a
// research loop cannot trigger task side effects.
func NewPipeline(
	logger *slog.Logger,
	planner *Planner,
	synthesizer *ResponseSynthesizer,
	tracer *TraceCollector,
	registry *domain.ToolRegistry,
	maxToolRetries int,
) *Pipeline {
	stageTools := registry.PartitionByStage()
	stageExecutors := make(map[domain.Stage]*ToolExecutor, len(stageTools))
	for stage, tools := range stageTools {
		stageExecutors[stage] = NewToolExecutor(logger, tools, tracer, maxToolRetries)
	}
	return &Pipeline{
		logger:         logger,
		planner:        planner,
		synthesizer:    synthesizer,
		tracer:         tracer,
		stageTools:     stageTools,
		stageExecutors: stageExecutors,
	}
}

// AddToolObserver registers an observer on every stage executor.
func (p *Pipeline) AddToolObserver(obs ports.ToolObserver) {
	for _, ex := range p.stageExecutors {
		ex.AddObserver(obs)
	}
}

// Run executes the plan's stages in order and returns the final answer. The
// state accumulates across stages: later stages see earlier observations.
func (p *Pipeline) Run(ctx context.Context, turn domain.TurnContext, plan domain.Plan, state *domain.ExecutionState) string {
	plan = plan.Normalize()

	for _, stage := range plan.Stages {
		stageCtx, spanID := p.tracer.StartSpan(ctx, "stage."+string(stage), domain.SpanKindStage, nil)
		state.AppendLog("stage: " + string(stage))

		if stage == domain.StageResponse {
			content := p.synthesizer.Synthesize(stageCtx, turn, state)
			state.SetFinalResponse(content)
			state.AppendMessage(domain.Message{Role: domain.RoleAssistant, Content: content})
			p.tracer.EndSpan(spanID, domain.SpanStatusOK, content, "")
			continue
		}

		p.runToolStage(stageCtx, turn, stage, state)
		p.tracer.EndSpan(spanID, domain.SpanStatusOK, "", "")

		if ctx.Err() != nil {
			break
		}
	}

	if final, ok := state.FinalResponse(); ok {
		return final
	}
	// A cancelled turn can exit before the response stage ran.
	state.SetFinalResponse(fallbackApology)
	return fallbackApology
}

// runToolStage runs the ReAct loop for one stage: plan, execute, observe,
// repeat until the planner finishes or the iteration budget runs out. The
// budget lives in the planner and spans the whole turn, so a pathological
// plan cannot multiply it per stage.
func (p *Pipeline) runToolStage(ctx context.Context, turn domain.TurnContext, stage domain.Stage, state *domain.ExecutionState) {
	tools := p.stageTools[stage]
	executor := p.stageExecutors[stage]
	if tools == nil || tools.Len() == 0 {
		p.logger.Debug("skipping stage with no tools", "stage", string(stage))
		state.AppendLog("stage " + string(stage) + ": no tools registered, skipped")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		decision := p.planner.Decide(ctx, turn, state, tools)
		if decision.Finished() {
			// A real candidate answer is kept for the response stage;
			// write-once means only the first one sticks.
			if decision.Content != "" {
				state.SetFinalResponse(decision.Content)
			}
			return
		}

		state.AppendMessage(domain.Message{
			Role:      domain.RoleAssistant,
			Content:   decision.Reasoning,
			ToolCalls: decision.ToolCalls,
		})

		results := executor.ExecuteBatch(ctx, decision.ToolCalls)
		state.AppendResults(results...)
		for _, res := range results {
			state.AppendMessage(res.ToolMessage())
			state.AppendLog(fmt.Sprintf("tool %s: %s", res.Name, res.Status))
		}
	}
}
