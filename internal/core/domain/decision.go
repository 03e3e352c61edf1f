package domain

// DecisionKind is the planner's verdict for one iteration.
type DecisionKind string

const (
	// DecisionExecuteTool means the model emitted one or more tool calls.
	DecisionExecuteTool DecisionKind = "execute_tool"
	// DecisionFinish means the model produced a candidate final answer.
	DecisionFinish DecisionKind = "finish"
)

// PlannerDecision is produced once per planning iteration. On a finish
// decision, Content carries the model's candidate final answer.
type PlannerDecision struct {
	Decision  DecisionKind      `json:"decision"`
	Reasoning string            `json:"reasoning"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// Finished reports whether the loop should stop.
func (d PlannerDecision) Finished() bool {
	return d.Decision == DecisionFinish
}
