package domain

// Stage is one node type in a per-turn execution plan. The vocabulary is
// closed: the architect may only emit these four, and every plan ends with
// StageResponse.
type Stage string

const (
	StagePolicy   Stage = "policy"
	StageResearch Stage = "research"
	StageTask     Stage = "task"
	StageResponse Stage = "response"
)

// KnownStage reports whether s belongs to the closed stage vocabulary.
func KnownStage(s Stage) bool {
	switch s {
	case StagePolicy, StageResearch, StageTask, StageResponse:
		return true
	}
	return false
}

// Plan is the architect's output: an ordered, linear sequence of stages for
// one turn. Plans are turn-specific and never reused.
type Plan struct {
	Stages    []Stage `json:"stages"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Normalize drops unknown stages and guarantees the plan terminates with
// StageResponse, appending it if absent. An empty plan normalizes to
// [response].
func (p Plan) Normalize() Plan {
	out := Plan{Reasoning: p.Reasoning}
	hasResponse := false
	for _, s := range p.Stages {
		if !KnownStage(s) {
			continue
		}
		if s == StageResponse {
			hasResponse = true
		}
		out.Stages = append(out.Stages, s)
	}
	if !hasResponse {
		out.Stages = append(out.Stages, StageResponse)
	}
	return out
}

// FallbackPlan is the minimal degraded plan: answer conversationally.
func FallbackPlan() Plan {
	return Plan{Stages: []Stage{StageResponse}}
}
