package codex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolHandler executes one dynamic tool invocation. The returned value is
// normalized to text before being written back to the CLI: strings pass
// through, MCP-style {content: [{type: "text", ...}]} payloads are flattened,
// anything else is JSON-encoded.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// DynamicTool is a tool exposed to the CLI over the app-server protocol.
// InputSchema accepts either a full object JSON schema or a shorthand
// property-name → property-schema (or property-name → type string) mapping;
// both normalize to the same full schema at registration time.
type DynamicTool struct {
	InputSchema map[string]interface{}
	Handler     ToolHandler
	Name        string
	Description string
}

// NewTool builds a DynamicTool. Schema validation happens when the tool is
// registered on Options.
func NewTool(name, description string, inputSchema map[string]interface{}, handler ToolHandler) DynamicTool {
	return DynamicTool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Handler:     handler,
	}
}

// TypedTool builds a DynamicTool whose input schema is reflected from the
// struct type T (json and jsonschema struct tags), and whose handler receives
// decoded arguments instead of a raw map.
func TypedTool[T any](name, description string, handler func(ctx context.Context, params T) (string, error)) DynamicTool {
	schema := generateSchema[T]()

	wrapped := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
		}
		var params T
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
		}
		return handler(ctx, params)
	}

	return DynamicTool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler:     wrapped,
	}
}

// generateSchema reflects a JSON schema from a Go struct type using
// invopop/jsonschema, inlining definitions so the CLI receives a
// self-contained object schema.
func generateSchema[T any]() map[string]interface{} {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("failed to decode schema for type %T: %v", zero, err))
	}
	return out
}

// NormalizeToolInputSchema converts a tool's input schema to a full object
// JSON schema. Accepted shapes:
//
//   - a full schema with type "object" (returned as-is, copied)
//   - a schema with a properties map but no type (type defaults to "object")
//   - a shorthand property-name → property-schema map
//   - a shorthand property-name → type-string map ("text": "string")
//
// Non-object schema types are rejected.
func NormalizeToolInputSchema(inputSchema map[string]interface{}) (map[string]interface{}, error) {
	if inputSchema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}, nil
	}

	if schemaType, ok := inputSchema["type"].(string); ok {
		if schemaType == "object" {
			return copySchema(inputSchema), nil
		}
		return nil, &CallbackConfigurationError{
			Message: fmt.Sprintf("tool input schema must be object-shaped; got schema type %q", schemaType),
		}
	}

	if _, ok := inputSchema["properties"].(map[string]interface{}); ok {
		normalized := copySchema(inputSchema)
		normalized["type"] = "object"
		return normalized, nil
	}

	// Shorthand: {property: schema-or-type-string}
	properties := make(map[string]interface{}, len(inputSchema))
	for name, value := range inputSchema {
		switch v := value.(type) {
		case string:
			properties[name] = map[string]interface{}{"type": v}
		case map[string]interface{}:
			properties[name] = copySchema(v)
		default:
			return nil, &CallbackConfigurationError{
				Message: fmt.Sprintf("tool input schema property %q must be a type string or a schema object", name),
			}
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}, nil
}

func copySchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	return out
}

// normalizeToolOutput converts a handler's return value to the text written
// back to the CLI.
func normalizeToolOutput(result interface{}) string {
	switch r := result.(type) {
	case nil:
		return ""
	case string:
		return r
	case map[string]interface{}:
		if content, ok := r["content"].([]interface{}); ok {
			var parts []string
			for _, item := range content {
				block, ok := item.(map[string]interface{})
				if !ok || block["type"] != "text" {
					continue
				}
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
			if len(parts) > 0 {
				out := parts[0]
				for _, p := range parts[1:] {
					out += "\n" + p
				}
				return out
			}
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// validateTools normalizes every registered tool's schema and rejects
// duplicate names. Runs eagerly at client construction.
func validateTools(tools []DynamicTool) (map[string]DynamicTool, []map[string]interface{}, error) {
	byName := make(map[string]DynamicTool, len(tools))
	serialized := make([]map[string]interface{}, 0, len(tools))

	for _, tool := range tools {
		if tool.Name == "" {
			return nil, nil, &CallbackConfigurationError{Message: "dynamic tool registered without a name"}
		}
		if _, dup := byName[tool.Name]; dup {
			return nil, nil, &CallbackConfigurationError{
				Message: fmt.Sprintf("dynamic tool %q registered twice", tool.Name),
			}
		}
		schema, err := NormalizeToolInputSchema(tool.InputSchema)
		if err != nil {
			return nil, nil, err
		}
		tool.InputSchema = schema
		byName[tool.Name] = tool
		serialized = append(serialized, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schema,
		})
	}

	return byName, serialized, nil
}
