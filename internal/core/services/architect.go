package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

// Architect decides, per turn, which pipeline stages the request needs. It
// makes exactly one model call and maps the answer onto the closed stage
// vocabulary; anything it cannot parse degrades to the minimal plan
// (response only) so a routing failure can never block a turn.
type Architect struct {
	logger *slog.Logger
	llm    ports.LanguageModel
	tracer *TraceCollector
}

// NewArchitect creates a turn router.
func NewArchitect(logger *slog.Logger, llm ports.LanguageModel, tracer *TraceCollector) *Architect {
	return &Architect{logger: logger, llm: llm, tracer: tracer}
}

const architectPrompt = `You are a request router. Given the user's message, decide which stages are needed to handle it, in order. Available stages:

- "policy": consult business policies or rules before acting
- "research": look up information in knowledge bases or search
- "task": perform concrete actions (bookings, emails, records)
- "response": compose the answer to the user (always last)

Respond ONLY with JSON in this exact shape:
{"steps": ["...", "response"], "reasoning": "one sentence"}

A purely conversational message needs just ["response"].`

// Route produces the stage plan for one turn. The returned plan is always
// normalized: only known stages, terminated by "response".
func (a *Architect) Route(ctx context.Context, turn domain.TurnContext) (domain.Plan, domain.TokenUsage) {
	spanCtx, spanID := a.tracer.StartSpan(ctx, "route", domain.SpanKindRoute, nil)

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: architectPrompt},
		{Role: domain.RoleUser, Content: turn.UserInput},
	}

	resp, err := a.llm.Invoke(spanCtx, ports.ChatRequest{Messages: messages})
	if err != nil {
		a.logger.Warn("architect model call failed, using fallback plan", "error", err)
		a.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		return domain.FallbackPlan(), domain.TokenUsage{}
	}

	plan, ok := parsePlan(resp.Content)
	if !ok {
		a.logger.Warn("architect produced unparseable plan, using fallback", "content", truncate(resp.Content, 200))
		a.tracer.EndSpan(spanID, domain.SpanStatusOK, "fallback", "")
		return domain.FallbackPlan(), resp.Usage
	}

	plan = plan.Normalize()
	a.logger.Debug("architect routed turn", "stages", fmt.Sprint(plan.Stages), "reasoning", plan.Reasoning)
	a.tracer.EndSpan(spanID, domain.SpanStatusOK, fmt.Sprint(plan.Stages), "")
	return plan, resp.Usage
}

// parsePlan extracts {"steps": [...], "reasoning": "..."} from the model
// output, tolerating markdown code fences and surrounding prose.
func parsePlan(content string) (domain.Plan, bool) {
	raw := extractJSONObject(content)
	if raw == "" {
		return domain.Plan{}, false
	}

	var doc struct {
		Steps     []string `json:"steps"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.Plan{}, false
	}
	if len(doc.Steps) == 0 {
		return domain.Plan{}, false
	}

	plan := domain.Plan{Reasoning: doc.Reasoning}
	for _, s := range doc.Steps {
		plan.Stages = append(plan.Stages, domain.Stage(strings.TrimSpace(strings.ToLower(s))))
	}
	return plan, true
}

// extractJSONObject returns the first balanced {...} block in the text, with
// code fences stripped first.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
	}
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
