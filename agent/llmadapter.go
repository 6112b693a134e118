package agent

import (
	"context"
	"encoding/json"

	"github.com/2389-research/agentkit/llm"
)

// DefaultLLMClient adapts an llm.Client (the wire-protocol capability) into
// the core's narrower LLMClient interface: it projects ToolDefinition into
// the JSON-Schema shape llm.Request.Tools expects, and estimates token counts
// with a rough, provider-agnostic heuristic (spec §9: the context manager
// must be tolerant to overcounting; precise per-model counting is out of
// scope for the core).
type DefaultLLMClient struct {
	Client *llm.Client
}

// NewDefaultLLMClient wraps an llm.Client.
func NewDefaultLLMClient(c *llm.Client) *DefaultLLMClient {
	return &DefaultLLMClient{Client: c}
}

func (a *DefaultLLMClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	return a.Client.Stream(ctx, req)
}

func (a *DefaultLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return a.Client.Complete(ctx, req)
}

// FormatTools turns core ToolDefinitions (a name, description, and a flat
// parameter list) into llm.ToolDefinitions whose Parameters is a JSON Schema
// object, the shape every provider adapter in llm/ expects on Request.Tools.
func (a *DefaultLLMClient) FormatTools(defs []ToolDefinition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toolParametersToJSONSchema(d.Parameters),
		})
	}
	return out
}

func toolParametersToJSONSchema(params []ToolParameter) json.RawMessage {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{}
		if len(p.Schema) > 0 {
			var custom map[string]any
			if err := json.Unmarshal(p.Schema, &custom); err == nil {
				prop = custom
			}
		}
		if _, ok := prop["type"]; !ok {
			prop["type"] = jsonSchemaType(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func jsonSchemaType(t string) string {
	switch t {
	case "", "string", "number", "integer", "boolean", "object", "array":
		if t == "" {
			return "string"
		}
		return t
	default:
		return "string"
	}
}

// CountTokens returns a rough token estimate: roughly four characters per
// token, the same order of approximation the teacher's own counter uses for
// a single vendor. Callers must treat this as tolerant-to-overcounting, not
// exact (spec §9).
func (a *DefaultLLMClient) CountTokens(ctx context.Context, messages []llm.Message, model string) (int, error) {
	total := 0
	for _, m := range messages {
		total += len(m.TextContent())
		for _, tc := range m.ToolCalls() {
			total += len(tc.Name) + len(tc.Arguments)
		}
	}
	return (total / 4) + 1, nil
}

var _ LLMClient = (*DefaultLLMClient)(nil)
