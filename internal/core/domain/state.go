package domain

// ExecutionState is the mutable accumulator threaded through every step of
// one turn. It is exclusively owned by that turn's execution: there is no
// locking because there is exactly one writer by contract.
//
// History, results, and logs are append-only; the iteration counter is
// monotonic; usage is summed; the final response is write-once.
type ExecutionState struct {
	history   []Message
	iteration int
	results   []ToolCallResult
	logs      []string
	maxLogs   int
	usage     TokenUsage
	final     string
	finalSet  bool
}

// NewExecutionState creates a fresh state for one turn, seeded with the
// caller's prior logs. maxLogs bounds the log ring; <= 0 means unbounded.
func NewExecutionState(history []Message, logs []string, maxLogs int) *ExecutionState {
	s := &ExecutionState{maxLogs: maxLogs}
	s.history = append(s.history, history...)
	s.logs = append(s.logs, logs...)
	s.trimLogs()
	return s
}

// History returns the accumulated message history.
func (s *ExecutionState) History() []Message {
	return s.history
}

// AppendMessage adds a message to the history.
func (s *ExecutionState) AppendMessage(msg Message) {
	s.history = append(s.history, msg)
}

// Iteration returns the current planning iteration (0-based).
func (s *ExecutionState) Iteration() int {
	return s.iteration
}

// AdvanceIteration increments the iteration counter by exactly one. It is
// called once per planning step regardless of batch size.
func (s *ExecutionState) AdvanceIteration() {
	s.iteration++
}

// Results returns every tool call result of the turn in execution order.
func (s *ExecutionState) Results() []ToolCallResult {
	return s.results
}

// AppendResults records a batch of tool call results.
func (s *ExecutionState) AppendResults(results ...ToolCallResult) {
	s.results = append(s.results, results...)
}

// LastResult returns the most recent tool call result, if any.
func (s *ExecutionState) LastResult() (ToolCallResult, bool) {
	if len(s.results) == 0 {
		return ToolCallResult{}, false
	}
	return s.results[len(s.results)-1], true
}

// Logs returns the accumulated log lines.
func (s *ExecutionState) Logs() []string {
	return s.logs
}

// AppendLog adds one log line, evicting the oldest entries past maxLogs.
func (s *ExecutionState) AppendLog(line string) {
	s.logs = append(s.logs, line)
	s.trimLogs()
}

func (s *ExecutionState) trimLogs() {
	if s.maxLogs > 0 && len(s.logs) > s.maxLogs {
		s.logs = s.logs[len(s.logs)-s.maxLogs:]
	}
}

// Usage returns the summed token usage so far.
func (s *ExecutionState) Usage() TokenUsage {
	return s.usage
}

// AddUsage accumulates token usage field-wise.
func (s *ExecutionState) AddUsage(u TokenUsage) {
	s.usage = s.usage.Add(u)
}

// FinalResponse returns the synthesized response, if set.
func (s *ExecutionState) FinalResponse() (string, bool) {
	return s.final, s.finalSet
}

// SetFinalResponse records the final response. It is write-once: later calls
// are ignored so a degraded fallback can never clobber a real answer.
func (s *ExecutionState) SetFinalResponse(text string) {
	if s.finalSet {
		return
	}
	s.final = text
	s.finalSet = true
}
