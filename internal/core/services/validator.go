package services

import (
	"fmt"
	"strings"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// ToolValidator gates every tool call before execution. A rejection is not an
// error: it becomes a rejected result whose message is fed back to the
// planner as an observation, so the model can correct the call.
type ToolValidator struct {
	registry *domain.ToolRegistry
}

// NewToolValidator creates a validator bound to a registry.
func NewToolValidator(registry *domain.ToolRegistry) *ToolValidator {
	return &ToolValidator{registry: registry}
}

// Validate checks one proposed call against the registry. It returns nil when
// the call may execute, or a rejected ToolCallResult describing what is wrong.
//
// A required parameter counts as missing both when the key is absent and when
// it is present but carries an empty value (empty string, nil). Models often
// emit placeholder empty strings for values they do not know; executing with
// those produces garbage, so the call is bounced back instead.
func (v *ToolValidator) Validate(call domain.ToolCallRequest) *domain.ToolCallResult {
	tool, ok := v.registry.GetTool(call.Name)
	if !ok {
		return &domain.ToolCallResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: domain.ToolCallRejected,
			Error:  fmt.Sprintf("tool %q is not available; available tools: %s", call.Name, strings.Join(v.registry.Names(), ", ")),
		}
	}

	desc, _ := v.registry.Descriptor(tool.Name)
	var missing []string
	for _, name := range desc.Schema.Required {
		val, present := call.Args[name]
		if !present || isEmptyValue(val) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.ToolCallResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: domain.ToolCallRejected,
			Error:  fmt.Sprintf("missing required parameters for %q: %s", call.Name, strings.Join(missing, ", ")),
		}
	}
	return nil
}

// isEmptyValue reports whether a supplied argument value counts as absent.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}
