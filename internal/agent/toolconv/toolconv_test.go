package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/conduit/internal/agent"
)

func sampleTools() []agent.ToolDefinition {
	return []agent.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from disk",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path"},
					"mode": {"type": "string", "enum": ["text", "binary"]}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "list_dir",
			Description: "List directory entries",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"entries": {"type": "array", "items": {"type": "string"}}
				}
			}`),
		},
	}
}

func TestToAnthropicTools(t *testing.T) {
	params, err := ToAnthropicTools(sampleTools())
	if err != nil {
		t.Fatalf("ToAnthropicTools() error = %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(params))
	}
	if params[0].OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if params[0].OfTool.Name != "read_file" {
		t.Errorf("name = %q, want read_file", params[0].OfTool.Name)
	}
	if params[0].OfTool.Description.Value != "Read a file from disk" {
		t.Errorf("description = %q", params[0].OfTool.Description.Value)
	}
}

func TestToAnthropicToolsEmpty(t *testing.T) {
	params, err := ToAnthropicTools(nil)
	if err != nil {
		t.Fatalf("ToAnthropicTools(nil) error = %v", err)
	}
	if params != nil {
		t.Errorf("expected nil for empty input, got %v", params)
	}
}

func TestToAnthropicToolInvalidSchema(t *testing.T) {
	_, err := ToAnthropicTool(agent.ToolDefinition{
		Name:   "broken",
		Schema: json.RawMessage(`{not json`),
	})
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools(sampleTools())
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Function.Name != "read_file" {
		t.Errorf("name = %q, want read_file", tools[0].Function.Name)
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type = %T, want map", tools[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("schema type = %v, want object", params["type"])
	}
}

func TestToOpenAIToolsInvalidSchemaFallsBack(t *testing.T) {
	tools := ToOpenAITools([]agent.ToolDefinition{
		{Name: "broken", Schema: json.RawMessage(`nope`)},
	})
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type = %T, want map", tools[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("fallback schema type = %v, want object", params["type"])
	}
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools(sampleTools())
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool group, got %d", len(tools))
	}
	decls := tools[0].FunctionDeclarations
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}
	if decls[0].Name != "read_file" {
		t.Errorf("name = %q, want read_file", decls[0].Name)
	}
	schema := decls[0].Parameters
	if schema == nil {
		t.Fatal("expected schema")
	}
	if string(schema.Type) != "OBJECT" {
		t.Errorf("type = %q, want OBJECT", schema.Type)
	}
	pathProp, ok := schema.Properties["path"]
	if !ok {
		t.Fatal("missing path property")
	}
	if pathProp.Description != "File path" {
		t.Errorf("path description = %q", pathProp.Description)
	}
	modeProp := schema.Properties["mode"]
	if len(modeProp.Enum) != 2 {
		t.Errorf("mode enum = %v, want 2 values", modeProp.Enum)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "path" {
		t.Errorf("required = %v, want [path]", schema.Required)
	}

	// Nested array items recurse.
	arraySchema := tools[0].FunctionDeclarations[1].Parameters.Properties["entries"]
	if string(arraySchema.Type) != "ARRAY" {
		t.Errorf("entries type = %q, want ARRAY", arraySchema.Type)
	}
	if arraySchema.Items == nil || string(arraySchema.Items.Type) != "STRING" {
		t.Errorf("entries items = %+v, want STRING", arraySchema.Items)
	}
}

func TestToGeminiToolsSkipsInvalid(t *testing.T) {
	tools := ToGeminiTools([]agent.ToolDefinition{
		{Name: "broken", Schema: json.RawMessage(`nope`)},
	})
	if tools != nil {
		t.Errorf("expected nil when all schemas invalid, got %v", tools)
	}
}

func TestToBedrockTools(t *testing.T) {
	cfg := ToBedrockTools(sampleTools())
	if cfg == nil {
		t.Fatal("expected configuration")
	}
	if len(cfg.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(cfg.Tools))
	}
}
