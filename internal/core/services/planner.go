package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

// maxIterationsMessage is the synthetic answer emitted when the planning
// budget runs out. It is a real finish decision, not an error: the turn still
// completes and the caller still gets the full response envelope.
const maxIterationsMessage = "Maximum iterations reached. I was unable to fully complete the request with the available tools."

// PromptRule injects extra system-prompt text when a given tool is available
// in the active registry. Rules let deployments attach usage policy to a tool
// without touching the core prompt.
type PromptRule struct {
	WhenTool string
	Text     string
}

// Planner is the ReAct decision engine: one model invocation per iteration,
// mapped onto a closed decision vocabulary (execute tools or finish).
type Planner struct {
	logger    *slog.Logger
	llm       ports.LanguageModel
	tracer    *TraceCollector
	rules     []PromptRule
	observers []ports.PlannerObserver
	maxIters  int
}

// NewPlanner creates a planner. maxIters bounds how many times Decide will
// consult the model within one turn; <= 0 falls back to the default of 10.
func NewPlanner(logger *slog.Logger, llm ports.LanguageModel, tracer *TraceCollector, rules []PromptRule, maxIters int) *Planner {
	if maxIters <= 0 {
		maxIters = domain.DefaultConfig().Agent.MaxIterations
	}
	return &Planner{
		logger:   logger,
		llm:      llm,
		tracer:   tracer,
		rules:    rules,
		maxIters: maxIters,
	}
}

// AddObserver registers a decision observer. Observer failures are swallowed.
func (p *Planner) AddObserver(obs ports.PlannerObserver) {
	p.observers = append(p.observers, obs)
}

// Decide runs one planning iteration: it advances the state's iteration
// counter, consults the model, and maps the response onto a decision.
//
// Two degradations keep the loop from ever hanging or crashing the turn:
// when the iteration budget is exhausted the decision is a synthetic finish,
// and when the model invocation itself fails the decision is a finish with
// empty content so the synthesizer produces the fallback answer.
func (p *Planner) Decide(ctx context.Context, turn domain.TurnContext, state *domain.ExecutionState, tools *domain.ToolRegistry) domain.PlannerDecision {
	state.AdvanceIteration()
	iter := state.Iteration()

	if iter > p.maxIters {
		p.logger.Warn("planner iteration budget exhausted", "iterations", p.maxIters)
		state.AppendLog(fmt.Sprintf("planner: iteration budget (%d) exhausted, forcing finish", p.maxIters))
		decision := domain.PlannerDecision{
			Decision:  domain.DecisionFinish,
			Reasoning: "iteration budget exhausted",
			Content:   maxIterationsMessage,
		}
		p.notify(decision, iter)
		return decision
	}

	spanCtx, spanID := p.tracer.StartSpan(ctx, fmt.Sprintf("plan (iter %d)", iter), domain.SpanKindPlan, nil)

	messages := p.buildMessages(turn, state, tools)
	start := time.Now()
	resp, err := p.llm.Invoke(spanCtx, ports.ChatRequest{
		Messages: messages,
		Tools:    tools.Descriptors(),
	})
	if err != nil {
		p.logger.Error("planner model invocation failed", "iteration", iter, "error", err)
		state.AppendLog("planner: model invocation failed: " + err.Error())
		p.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		decision := domain.PlannerDecision{
			Decision:  domain.DecisionFinish,
			Reasoning: "model invocation failed: " + err.Error(),
		}
		p.notify(decision, iter)
		return decision
	}

	state.AddUsage(resp.Usage)
	p.logger.Debug("planner model responded",
		"iteration", iter,
		"duration", time.Since(start),
		"tool_calls", len(resp.ToolCalls),
		"tokens", resp.Usage.TotalTokens)

	decision := mapResponse(resp)
	p.tracer.EndSpan(spanID, domain.SpanStatusOK, string(decision.Decision), "")
	state.AppendLog(fmt.Sprintf("planner[%d]: %s (%d tool calls)", iter, decision.Decision, len(decision.ToolCalls)))
	p.notify(decision, iter)
	return decision
}

// mapResponse maps a raw model response onto the decision vocabulary: any
// tool call means execute, otherwise the content is a candidate final answer.
func mapResponse(resp *ports.ChatResponse) domain.PlannerDecision {
	if len(resp.ToolCalls) > 0 {
		calls := make([]domain.ToolCallRequest, len(resp.ToolCalls))
		copy(calls, resp.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = domain.NewCallID()
			}
		}
		return domain.PlannerDecision{
			Decision:  domain.DecisionExecuteTool,
			Reasoning: resp.Content,
			ToolCalls: calls,
		}
	}
	return domain.PlannerDecision{
		Decision: domain.DecisionFinish,
		Content:  resp.Content,
	}
}

// buildMessages assembles the model input: one system message carrying the
// caller's static framing plus the tool prompt, then the accumulated history.
func (p *Planner) buildMessages(turn domain.TurnContext, state *domain.ExecutionState, tools *domain.ToolRegistry) []domain.Message {
	var sys strings.Builder

	if turn.Purpose != "" {
		sys.WriteString("## Purpose\n" + turn.Purpose + "\n\n")
	}
	if turn.Personality != "" {
		sys.WriteString("## Personality\n" + turn.Personality + "\n\n")
	}
	if turn.Limitations != "" {
		sys.WriteString("## Limitations\n" + turn.Limitations + "\n\n")
	}
	if turn.DynamicInfo != "" {
		sys.WriteString("## Context\n" + turn.DynamicInfo + "\n\n")
	}

	if prompt := tools.FormatForPrompt(); prompt != "" {
		sys.WriteString(prompt)
		sys.WriteString("\nCall a tool when you need information or must perform an action. " +
			"Provide every required parameter with a real value; never pass empty strings. " +
			"When you have everything you need, answer the user directly.\n")
	}

	for _, rule := range p.rules {
		if tools.Has(rule.WhenTool) {
			sys.WriteString("\n" + rule.Text + "\n")
		}
	}

	messages := make([]domain.Message, 0, len(state.History())+1)
	if s := strings.TrimSpace(sys.String()); s != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: s})
	}
	messages = append(messages, state.History()...)
	return messages
}

func (p *Planner) notify(d domain.PlannerDecision, iteration int) {
	for _, obs := range p.observers {
		safeNotify(func() { obs.OnDecision(string(d.Decision), d.Reasoning, iteration) })
	}
}
