package functions

import (
	"encoding/json"

	"github.com/ashishlead/agent-runner/internal/workspace"
)

type schemaObject struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Items       json.RawMessage `json:"items,omitempty"`
}

// Schema converts a function's declared parameters into the JSON Schema
// object the completion API expects. All declared parameters are treated
// as required; array parameters default to string items since the source
// format does not carry an element type.
func Schema(params []workspace.FunctionParameter) json.RawMessage {
	schema := schemaObject{
		Type:       "object",
		Properties: make(map[string]schemaProperty, len(params)),
		Required:   make([]string, 0, len(params)),
	}

	for _, param := range params {
		prop := schemaProperty{
			Type:        param.Type,
			Description: param.Description,
		}
		if param.Type == "array" {
			prop.Items = json.RawMessage(`{"type":"string"}`)
		}
		schema.Properties[param.Name] = prop
		schema.Required = append(schema.Required, param.Name)
	}

	raw, _ := json.Marshal(schema)
	return raw
}
