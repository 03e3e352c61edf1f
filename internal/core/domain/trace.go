package domain

import "time"

// TraceID uniquely identifies a trace (one per conversational turn).
type TraceID string

// SpanID uniquely identifies a span within a trace.
type SpanID string

// SpanKind classifies the type of operation a span represents.
type SpanKind string

const (
	SpanKindTurn  SpanKind = "turn"  // top-level turn execution
	SpanKindPlan  SpanKind = "plan"  // one planner iteration
	SpanKindRoute SpanKind = "route" // architect routing call
	SpanKindLLM   SpanKind = "llm"   // raw model invocation
	SpanKindTool  SpanKind = "tool"  // tool execution
	SpanKindStage SpanKind = "stage" // one pipeline stage
)

// SpanStatus indicates completion state of a span.
type SpanStatus string

const (
	SpanStatusRunning SpanStatus = "running"
	SpanStatusOK      SpanStatus = "ok"
	SpanStatusError   SpanStatus = "error"
)

// Span represents a single unit of work within a trace.
// Spans form a tree: a turn span contains stage, plan, llm and tool children.
type Span struct {
	ID         SpanID            `json:"id"`
	ParentID   SpanID            `json:"parent_id,omitempty"` // empty = root
	TraceID    TraceID           `json:"trace_id"`
	Name       string            `json:"name"` // e.g. "plan (iter 2)", "tool.send_email"
	Kind       SpanKind          `json:"kind"`
	Status     SpanStatus        `json:"status"`
	Input      string            `json:"input,omitempty"`  // truncated input
	Output     string            `json:"output,omitempty"` // truncated output
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Children   []SpanID          `json:"children,omitempty"`
}

// Trace groups all spans of a single turn execution.
type Trace struct {
	ID             TraceID    `json:"id"`
	RootSpanID     SpanID     `json:"root_span_id"`
	Name           string     `json:"name"` // e.g. "turn: book a meeting tomorrow"
	Status         SpanStatus `json:"status"`
	ConversationID string     `json:"conversation_id,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
	SpanCount      int        `json:"span_count"`
	Spans          []Span     `json:"spans,omitempty"` // populated only on detail view
}

// TraceSummary is a lightweight view for listing traces.
type TraceSummary struct {
	ID         TraceID    `json:"id"`
	Name       string     `json:"name"`
	Status     SpanStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	DurationMs int64      `json:"duration_ms"`
	SpanCount  int        `json:"span_count"`
}
