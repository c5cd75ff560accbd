package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/dbperms-mcp/pkg/apierr"
	"github.com/xeipuuv/gojsonschema"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Items       string      `json:"items,omitempty"` // element type of an array parameter
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category"`
	ReadOnly    bool            `json:"read_only"` // true when the tool never changes remote state
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler executes a tool whose parameters already passed validation.
// It returns the remote JSON payload.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (json.RawMessage, error)

// TypeID is a parameter type for resource ids that Databricks hands out
// either as strings or as integers. Both are accepted and decode to a string.
const TypeID = "id"

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
	TypeID: true,
}

func schemaType(t string) interface{} {
	if t == TypeID {
		return []string{"string", "integer"}
	}
	return t
}

// Registry is the immutable table of tools
type Registry struct {
	tools        map[string]*ToolDefinition
	schemas      map[string]*gojsonschema.Schema
	inputSchemas map[string]map[string]interface{}
	order        []string
}

// NewRegistry validates the definitions and freezes them into a table
func NewRegistry(defs ...ToolDefinition) (*Registry, error) {
	r := &Registry{
		tools:        make(map[string]*ToolDefinition, len(defs)),
		schemas:      make(map[string]*gojsonschema.Schema, len(defs)),
		inputSchemas: make(map[string]map[string]interface{}, len(defs)),
		order:        make([]string, 0, len(defs)),
	}

	for i := range defs {
		def := defs[i]
		if err := validateToolDefinition(def); err != nil {
			return nil, fmt.Errorf("invalid tool definition %q: %w", def.Name, err)
		}
		if _, exists := r.tools[def.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", def.Name)
		}

		schemaMap := generateJSONSchema(def)
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
		}

		def.Parameters = append([]ToolParameter(nil), def.Parameters...)
		r.tools[def.Name] = &def
		r.schemas[def.Name] = schema
		r.inputSchemas[def.Name] = schemaMap
		r.order = append(r.order, def.Name)
	}

	return r, nil
}

// Filter returns a new registry holding only the tools the policy allows
func (r *Registry) Filter(policy *ToolPolicy) (*Registry, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	filtered := &Registry{
		tools:        make(map[string]*ToolDefinition),
		schemas:      make(map[string]*gojsonschema.Schema),
		inputSchemas: make(map[string]map[string]interface{}),
	}
	for _, name := range r.order {
		def := r.tools[name]
		if !policy.Allows(def) {
			continue
		}
		filtered.tools[name] = def
		filtered.schemas[name] = r.schemas[name]
		filtered.inputSchemas[name] = r.inputSchemas[name]
		filtered.order = append(filtered.order, name)
	}
	return filtered, nil
}

// Get returns a tool definition by name, or nil
func (r *Registry) Get(name string) *ToolDefinition {
	return r.tools[name]
}

// List returns the tool definitions in registration order
func (r *Registry) List() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, *r.tools[name])
	}
	return defs
}

// Names returns the tool names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of tools
func (r *Registry) Len() int {
	return len(r.order)
}

// InputSchema returns the JSON schema of a tool's parameters, as advertised
// to clients. The returned map must not be modified.
func (r *Registry) InputSchema(name string) map[string]interface{} {
	return r.inputSchemas[name]
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category: %s", def.Category)
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true

		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Items != "" && (param.Type != "array" || !validTypes[param.Items]) {
			return fmt.Errorf("invalid item type %s for %s", param.Items, param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func generateJSONSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        schemaType(param.Type),
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = append([]string(nil), param.Enum...)
		}
		if param.Items != "" {
			paramSchema["items"] = map[string]interface{}{"type": param.Items}
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// checkRequired reports the first required parameter that is absent, null
// or an empty string
func checkRequired(def *ToolDefinition, params map[string]interface{}) error {
	for _, param := range def.Parameters {
		if !param.Required {
			continue
		}
		value, ok := params[param.Name]
		if !ok || value == nil {
			return apierr.Missing(param.Name)
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			return apierr.Missing(param.Name)
		}
	}
	return nil
}

// validateParameters validates parameters against the tool's JSON Schema
func (r *Registry) validateParameters(name string, params map[string]interface{}) error {
	schema := r.schemas[name]
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return apierr.Validation("", "invalid parameters: %v", err)
	}

	if !result.Valid() {
		first := result.Errors()[0]
		field := first.Field()
		if field == "(root)" {
			if p, ok := first.Details()["property"].(string); ok {
				field = p
			}
		}

		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}
		return apierr.Validation(field, "invalid parameters: %s", strings.Join(messages, "; "))
	}

	return nil
}

// withoutNulls drops parameters explicitly set to null so optional
// parameters can be passed as null
func withoutNulls(params map[string]interface{}) map[string]interface{} {
	cleaned := make(map[string]interface{}, len(params))
	for k, v := range params {
		if v != nil {
			cleaned[k] = v
		}
	}
	return cleaned
}
