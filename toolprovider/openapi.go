// ABOUTME: Minimal OpenAPI-backed ToolProvider: projects operations into Tools and invokes them over HTTP.
// ABOUTME: Scoped per spec §1 to the operation-to-tool projection and auth-override contract only, not full OpenAPI/HTTP semantics.
package toolprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/2389-research/agentkit/agent"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/yosida95/uritemplate/v3"
)

// ParamLocation is where an operation parameter is carried on the wire.
type ParamLocation string

const (
	ParamInPath  ParamLocation = "path"
	ParamInQuery ParamLocation = "query"
)

// ParamSpec describes one operation parameter, reduced from an OpenAPI
// parameter object to the fields the projection needs.
type ParamSpec struct {
	Name     string
	In       ParamLocation
	Required bool
	Type     string // json schema primitive: string, integer, number, boolean
}

// Operation is a single OpenAPI operation reduced to what the projection
// needs to build a Tool: an id, human-readable summary/description, an
// HTTP method and URI-templated path, its parameters, and whether it takes
// a JSON request body.
type Operation struct {
	ID          string
	Summary     string
	Description string
	Method      string
	PathTemplate string
	Params      []ParamSpec
	HasBody     bool
	Tags        []string
}

// OpenAPIProvider is a ToolProvider (and ToolSource) projecting a fixed list
// of OpenAPI operations against one API into tools, invoking them over HTTP
// with the run's auth override (if any) applied per call (spec §4.9).
//
// This is deliberately not a spec parser: Operations are supplied already
// reduced to the Operation shape above, e.g. by a caller that has read an
// OpenAPI document with an external library. Parsing OpenAPI documents
// themselves is out of scope (spec §1).
type OpenAPIProvider struct {
	ProviderID string
	Title      string
	HTTPClient *http.Client

	mu         sync.RWMutex
	baseURL    string
	operations []Operation
	tools      map[string]*operationTool
}

// NewOpenAPIProvider builds an OpenAPIProvider over a fixed operation list.
func NewOpenAPIProvider(providerID, title, baseURL string, operations []Operation) *OpenAPIProvider {
	p := &OpenAPIProvider{
		ProviderID: providerID,
		Title:      title,
		baseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		operations: operations,
	}
	return p
}

// EnsureInitialized projects every operation into a Tool, sanitizing names
// per the tool-name grammar (spec §6).
func (p *OpenAPIProvider) EnsureInitialized(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tools != nil {
		return nil
	}

	tools := make(map[string]*operationTool, len(p.operations))
	for _, op := range p.operations {
		schema, err := paramsToSchema(op.Params)
		if err != nil {
			return &agent.CoreError{Kind: agent.ErrConfiguration, Message: "building parameter schema for " + op.ID, Cause: err}
		}
		tools[agent.SanitizeToolName(op.ID)] = &operationTool{
			provider: p,
			op:       op,
			schema:   schema,
		}
	}
	p.tools = tools
	return nil
}

func (p *OpenAPIProvider) Tools(ctx context.Context) ([]agent.Tool, error) {
	if err := p.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.tools))
	for name := range p.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]agent.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, p.tools[name])
	}
	return out, nil
}

func (p *OpenAPIProvider) TagsFor(tool agent.Tool) []string {
	ot, ok := tool.(*operationTool)
	if !ok {
		return nil
	}
	return ot.op.Tags
}

func (p *OpenAPIProvider) APITitle() string { return p.Title }
func (p *OpenAPIProvider) BaseURL() string  { return p.baseURL }

func (p *OpenAPIProvider) GetTools(ctx context.Context) ([]agent.Tool, error) {
	return p.Tools(ctx)
}

func (p *OpenAPIProvider) GetTool(ctx context.Context, name string) (agent.Tool, bool, error) {
	if err := p.EnsureInitialized(ctx); err != nil {
		return nil, false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tools[name]
	return t, ok, nil
}

var (
	_ agent.ToolProvider = (*OpenAPIProvider)(nil)
	_ agent.ToolSource   = (*OpenAPIProvider)(nil)
)

// operationTool is one operation projected into a Tool.
type operationTool struct {
	provider *OpenAPIProvider
	op       Operation
	schema   *jsonschema.Schema
}

func (t *operationTool) OperationID() string { return t.op.ID }
func (t *operationTool) Summary() string     { return t.op.Summary }

func (t *operationTool) Definition() agent.ToolDefinition {
	params := make([]agent.ToolParameter, 0, len(t.op.Params))
	for _, ps := range t.op.Params {
		var paramSchema json.RawMessage
		if s, ok := t.schema.Properties[ps.Name]; ok {
			if b, err := json.Marshal(s); err == nil {
				paramSchema = b
			}
		}
		params = append(params, agent.ToolParameter{
			Name:     ps.Name,
			Type:     ps.Type,
			Required: ps.Required,
			Schema:   paramSchema,
		})
	}

	description := t.op.Description
	if description == "" {
		description = t.op.Summary
	}

	return agent.ToolDefinition{
		Name:        agent.SanitizeToolName(t.op.ID),
		Description: description,
		Parameters:  params,
	}
}

// Execute expands the operation's path template and query parameters from
// args, applies the run's per-provider auth override (falling back to no
// auth if none is configured; the provider carries no static credentials of
// its own in this minimal projection), and issues the HTTP call.
func (t *operationTool) Execute(ctx context.Context, actx *agent.AgentContext, args map[string]any) (any, error) {
	values := uritemplate.Values{}
	query := url.Values{}
	var bodyParams map[string]any
	if t.op.HasBody {
		bodyParams = make(map[string]any)
	}

	known := make(map[string]ParamSpec, len(t.op.Params))
	for _, ps := range t.op.Params {
		known[ps.Name] = ps
	}

	for name, raw := range args {
		ps, isKnown := known[name]
		if !isKnown {
			if bodyParams != nil {
				bodyParams[name] = raw
			}
			continue
		}
		switch ps.In {
		case ParamInPath:
			values.Set(name, uritemplate.String(fmt.Sprintf("%v", raw)))
		case ParamInQuery:
			query.Set(name, fmt.Sprintf("%v", raw))
		}
	}

	tmpl, err := uritemplate.New(t.op.PathTemplate)
	if err != nil {
		return nil, &agent.CoreError{Kind: agent.ErrConfiguration, Message: "invalid path template for " + t.op.ID, Cause: err}
	}
	path := tmpl.Expand(values)

	reqURL := t.provider.BaseURL() + path
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	var bodyReader io.Reader
	if bodyParams != nil {
		b, err := json.Marshal(bodyParams)
		if err != nil {
			return nil, &agent.CoreError{Kind: agent.ErrValidation, Message: "encoding request body", Cause: err}
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(t.op.Method), reqURL, bodyReader)
	if err != nil {
		return nil, &agent.CoreError{Kind: agent.ErrValidation, Message: "building request", Cause: err}
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	setHeader := func(name, value string) { httpReq.Header.Set(name, value) }
	setQuery := func(name, value string) {
		q := httpReq.URL.Query()
		q.Set(name, value)
		httpReq.URL.RawQuery = q.Encode()
	}
	if err := agent.ApplyAuthOverride(ctx, actx, t.provider.ProviderID, setHeader, setQuery); err != nil {
		return nil, err
	}

	resp, err := t.provider.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &agent.CoreError{Kind: agent.ErrLLM, Message: "operation call failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agent.CoreError{Kind: agent.ErrStorage, Message: "reading response body", Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &agent.CoreError{Kind: agent.ErrValidation, Message: fmt.Sprintf("%s returned status %d: %s", t.op.ID, resp.StatusCode, string(respBody))}
	}

	var decoded any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return string(respBody), nil
		}
	}
	return decoded, nil
}

var _ agent.OperationTool = (*operationTool)(nil)

func paramsToSchema(params []ParamSpec) (*jsonschema.Schema, error) {
	props := make(map[string]*jsonschema.Schema, len(params))
	var required []string
	for _, ps := range params {
		props[ps.Name] = &jsonschema.Schema{Type: ps.Type}
		if ps.Required {
			required = append(required, ps.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}, nil
}
