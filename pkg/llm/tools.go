package llm

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition defines a function the LLM may call, described in JSON
// Schema form.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition creates a new tool definition with standard JSON Schema parameters.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any)
	for k, v := range properties {
		prop := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			prop["enum"] = v.Enum
		}
		props[k] = prop
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// ValidateCall checks a function call's arguments against the tool's schema:
// the arguments must be a JSON object, every required property must be
// present, and enum-constrained strings must hold an allowed value.
func (t *ToolDefinition) ValidateCall(call *FunctionCall) error {
	if call.Name != t.Name {
		return fmt.Errorf("function call names %q, tool is %q", call.Name, t.Name)
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	required, _ := t.Parameters["required"].([]string)
	if required == nil {
		if anyList, ok := t.Parameters["required"].([]any); ok {
			for _, r := range anyList {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	props, _ := t.Parameters["properties"].(map[string]any)
	for name, raw := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		enum, ok := prop["enum"].([]string)
		if !ok {
			continue
		}
		var val string
		if err := json.Unmarshal(raw, &val); err != nil {
			continue
		}
		allowed := false
		for _, e := range enum {
			if e == val {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("argument %q value %q not in enum", name, val)
		}
	}

	return nil
}

// FindTool returns the tool definition matching name, or nil.
func FindTool(tools []ToolDefinition, name string) *ToolDefinition {
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}
