package domain

import (
	"crypto/rand"
	"encoding/hex"
)

// ToolCallStatus classifies how one tool call ended.
type ToolCallStatus string

const (
	// ToolCallSuccess means the tool executed and returned.
	ToolCallSuccess ToolCallStatus = "success"
	// ToolCallFailed means the tool executed and errored (after retries).
	ToolCallFailed ToolCallStatus = "failed"
	// ToolCallRejected means validation refused the call; it never executed.
	ToolCallRejected ToolCallStatus = "rejected"
)

// ToolCallRequest is one tool invocation proposed by the planner's model
// invocation. Nothing else in the system fabricates these.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCallResult is the outcome of one ToolCallRequest. Results are
// append-only observations: once added to a turn's state they are never
// mutated.
type ToolCallResult struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Status ToolCallStatus `json:"status"`
	Output string         `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// ToolMessage converts the result into a history entry so the next planning
// iteration sees it as an observation.
func (r ToolCallResult) ToolMessage() Message {
	content := r.Output
	if r.Status != ToolCallSuccess && r.Error != "" {
		content = "ERROR: " + r.Error
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: r.CallID,
		ToolName:   r.Name,
	}
}

// NewCallID generates a compact random call ID (call-<12 hex>), used when the
// model did not supply one.
func NewCallID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "call-" + hex.EncodeToString(b)
}
