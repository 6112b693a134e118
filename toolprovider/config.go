// ABOUTME: Wires OpenAPIProvider into the toolset orchestrator's provider-source constructor registry.
package toolprovider

import (
	"github.com/2389-research/agentkit/agent"
)

// NewOpenAPISource is a ToolsetOrchestrator source constructor for
// provider-source configs of type "openapi". It expects
// ProviderOptions to carry:
//
//	provider_id: string (required) — the id RequestAuthOverrides are keyed by
//	title:       string (optional) — the API's display title
//	base_url:    string (required)
//	operations:  []any  (optional) — each entry shaped like Operation, decoded
//	                                  via mapOperation below
//
// Parsing an OpenAPI document itself into this shape is an external
// concern (spec §1); callers are expected to have already reduced a
// document (or hand-authored fixtures) into this form before configuring
// the orchestrator.
func NewOpenAPISource(opts map[string]any) (agent.ToolSource, error) {
	providerID, _ := opts["provider_id"].(string)
	title, _ := opts["title"].(string)
	baseURL, _ := opts["base_url"].(string)
	if providerID == "" || baseURL == "" {
		return nil, &agent.CoreError{Kind: agent.ErrConfiguration, Message: "openapi provider source requires provider_id and base_url"}
	}

	rawOps, _ := opts["operations"].([]any)
	operations := make([]Operation, 0, len(rawOps))
	for _, raw := range rawOps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		op, err := mapOperation(m)
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}

	return NewOpenAPIProvider(providerID, title, baseURL, operations), nil
}

func mapOperation(m map[string]any) (Operation, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return Operation{}, &agent.CoreError{Kind: agent.ErrConfiguration, Message: "openapi operation missing id"}
	}
	method, _ := m["method"].(string)
	pathTemplate, _ := m["path"].(string)

	var tags []string
	if rawTags, ok := m["tags"].([]any); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	var params []ParamSpec
	if rawParams, ok := m["params"].([]any); ok {
		for _, rp := range rawParams {
			pm, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			name, _ := pm["name"].(string)
			in, _ := pm["in"].(string)
			typ, _ := pm["type"].(string)
			required, _ := pm["required"].(bool)
			if name == "" {
				continue
			}
			location := ParamInQuery
			if in == string(ParamInPath) {
				location = ParamInPath
			}
			if typ == "" {
				typ = "string"
			}
			params = append(params, ParamSpec{Name: name, In: location, Type: typ, Required: required})
		}
	}

	hasBody, _ := m["has_body"].(bool)
	summary, _ := m["summary"].(string)
	description, _ := m["description"].(string)

	return Operation{
		ID:           id,
		Summary:      summary,
		Description:  description,
		Method:       method,
		PathTemplate: pathTemplate,
		Params:       params,
		HasBody:      hasBody,
		Tags:         tags,
	}, nil
}

// DefaultSources returns the constructor registry a ToolsetOrchestrator
// should be built with when the only source type in use is "openapi".
func DefaultSources() map[string]func(opts map[string]any) (agent.ToolSource, error) {
	return map[string]func(opts map[string]any) (agent.ToolSource, error){
		"openapi": NewOpenAPISource,
	}
}
