package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ToolFunc is the function signature for tool execution. The returned string
// is the observation fed back to the planner.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool represents an executable capability available to the agent.
//
// The parameter schema can be declared three ways, tried in this order at
// registration time:
//  1. Parameters — an explicit declaration (two dialects of "required" are
//     accepted, see ExtractSchema);
//  2. RawSchema — a JSON-Schema-like blob with "properties"/"required" keys;
//  3. Args — a zero value of the tool's argument struct, introspected by
//     reflection.
//
// A tool with none of these registers with an empty schema: validation then
// only checks that the tool exists.
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	RawSchema   json.RawMessage
	Args        any
	Execute     ToolFunc
}

// ToolParameters defines the explicit schema dialect for tool inputs.
type ToolParameters struct {
	Type       string         `json:"type"`       // "object"
	Properties map[string]any `json:"properties"` // param definitions
	Required   []string       `json:"required"`   // required param names
}

// ParamSchema is the normalized shape every dialect reduces to.
type ParamSchema struct {
	Required []string `json:"required"`
	All      []string `json:"all"`
}

// IsRequired reports whether name is a required parameter.
func (s ParamSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// ToolDescriptor is the registry's immutable view of one tool, derived once
// at registration.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Schema      ParamSchema `json:"schema"`
}

// ExtractSchema derives the normalized parameter schema for a tool. Any
// failure degrades to an empty schema rather than erroring: a tool is never
// refused registration because its schema is ambiguous; validation strictness
// degrades instead.
func ExtractSchema(t *Tool) ParamSchema {
	if len(t.Parameters.Properties) > 0 || len(t.Parameters.Required) > 0 {
		return schemaFromParameters(t.Parameters)
	}
	if len(t.RawSchema) > 0 {
		if s, ok := schemaFromRaw(t.RawSchema); ok {
			return s
		}
		return ParamSchema{}
	}
	if t.Args != nil {
		return schemaFromStruct(t.Args)
	}
	return ParamSchema{}
}

// schemaFromParameters normalizes the explicit dialect. Two historical ways
// of declaring "required" are accepted: the top-level Required list, and a
// per-property "required": true flag inside the property definition.
func schemaFromParameters(p ToolParameters) ParamSchema {
	s := ParamSchema{}
	required := make(map[string]bool, len(p.Required))
	for _, name := range p.Required {
		required[name] = true
	}
	for name, def := range p.Properties {
		s.All = append(s.All, name)
		if m, ok := def.(map[string]any); ok {
			if flag, ok := m["required"].(bool); ok && flag {
				required[name] = true
			}
		}
	}
	for name := range required {
		s.Required = append(s.Required, name)
	}
	sort.Strings(s.All)
	sort.Strings(s.Required)
	return s
}

// schemaFromRaw parses a JSON-Schema-like descriptor.
func schemaFromRaw(raw json.RawMessage) (ParamSchema, bool) {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ParamSchema{}, false
	}
	s := ParamSchema{Required: doc.Required}
	for name := range doc.Properties {
		s.All = append(s.All, name)
	}
	sort.Strings(s.All)
	sort.Strings(s.Required)
	if s.Required == nil {
		s.Required = []string{}
	}
	return s, true
}

// schemaFromStruct introspects an argument struct. A field is required unless
// it is a pointer, its json tag carries omitempty, or it declares a default
// via the `default` tag.
func schemaFromStruct(args any) ParamSchema {
	t := reflect.TypeOf(args)
	if t == nil {
		return ParamSchema{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return ParamSchema{}
	}

	s := ParamSchema{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name := strings.ToLower(f.Name)
		optional := false

		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
		}
		if f.Type.Kind() == reflect.Pointer {
			optional = true
		}
		if _, ok := f.Tag.Lookup("default"); ok {
			optional = true
		}

		s.All = append(s.All, name)
		if !optional {
			s.Required = append(s.Required, name)
		}
	}
	sort.Strings(s.All)
	sort.Strings(s.Required)
	return s
}

// ToolRegistry manages available tools. Registration happens once at wiring
// time; afterwards the registry is shared read-only across concurrent turns.
type ToolRegistry struct {
	tools       map[string]*Tool
	descriptors map[string]ToolDescriptor
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:       make(map[string]*Tool),
		descriptors: make(map[string]ToolDescriptor),
	}
}

// Register adds a tool to the registry, deriving its descriptor. A name
// collision is a configuration error and is rejected here, not at call time.
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.descriptors[tool.Name] = ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Schema:      ExtractSchema(tool),
	}
	return nil
}

// GetTool returns a tool by name. Name matching is exact: similarly named
// tools are never substituted for one another.
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Descriptor returns the derived descriptor for a tool.
func (r *ToolRegistry) Descriptor(name string) (ToolDescriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Descriptors returns all descriptors sorted by name, for stable prompts.
func (r *ToolRegistry) Descriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	return len(r.tools)
}

// Has reports whether a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// FormatForPrompt generates a concise description of available tools for the
// model prompt: name — description (required params).
func (r *ToolRegistry) FormatForPrompt() string {
	if len(r.tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available Tools:\n")
	for _, d := range r.Descriptors() {
		b.WriteString("- " + d.Name + ": " + d.Description)
		if len(d.Schema.All) > 0 {
			b.WriteString(" | params: " + strings.Join(d.Schema.All, ", "))
		}
		if len(d.Schema.Required) > 0 {
			b.WriteString(" | required: " + strings.Join(d.Schema.Required, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FilterByNames returns a new registry containing only the named tools. The
// new registry shares Tool pointers with the original.
func (r *ToolRegistry) FilterByNames(names []string) *ToolRegistry {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	filtered := NewToolRegistry()
	for name, tool := range r.tools {
		if _, ok := allowed[name]; ok {
			filtered.tools[name] = tool
			filtered.descriptors[name] = r.descriptors[name]
		}
	}
	return filtered
}

// StageFor classifies a tool into the pipeline stage that should expose it.
// The heuristic keys on name and description: policy tools to the policy
// stage, search/knowledge tools to research, everything else to task.
func StageFor(t *Tool) Stage {
	name := strings.ToLower(t.Name)
	desc := strings.ToLower(t.Description)

	switch {
	case strings.Contains(name, "policy") || strings.Contains(name, "policies"):
		return StagePolicy
	case strings.Contains(name, "search") || strings.Contains(name, "knowledge") ||
		strings.Contains(desc, "knowledge base"):
		return StageResearch
	default:
		return StageTask
	}
}

// PartitionByStage splits the registry into per-stage subsets. Stages with no
// tools map to an empty registry so callers need not nil-check.
func (r *ToolRegistry) PartitionByStage() map[Stage]*ToolRegistry {
	out := map[Stage]*ToolRegistry{
		StagePolicy:   NewToolRegistry(),
		StageResearch: NewToolRegistry(),
		StageTask:     NewToolRegistry(),
	}
	for name, tool := range r.tools {
		stage := StageFor(tool)
		out[stage].tools[name] = tool
		out[stage].descriptors[name] = r.descriptors[name]
	}
	return out
}
