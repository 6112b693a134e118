package toolprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2389-research/agentkit/agent"
)

func newTestProvider(t *testing.T, baseURL string) *OpenAPIProvider {
	t.Helper()
	p := NewOpenAPIProvider("petstore", "Petstore", baseURL, []Operation{
		{
			ID:           "getPetById",
			Summary:      "Get a pet by id",
			Method:       "GET",
			PathTemplate: "/pets/{id}",
			Params: []ParamSpec{
				{Name: "id", In: ParamInPath, Type: "string", Required: true},
				{Name: "verbose", In: ParamInQuery, Type: "boolean"},
			},
		},
	})
	if err := p.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	return p
}

func TestOperationToolDefinitionSanitizesName(t *testing.T) {
	p := newTestProvider(t, "http://example.invalid")
	tool, found, err := p.GetTool(context.Background(), "getPetById")
	if err != nil || !found {
		t.Fatalf("GetTool = %v, %v, %v", tool, found, err)
	}
	def := tool.Definition()
	if def.Name != "getPetById" {
		t.Errorf("Name = %q, want %q", def.Name, "getPetById")
	}
	if len(def.Parameters) != 2 {
		t.Fatalf("len(Parameters) = %d, want 2", len(def.Parameters))
	}
}

func TestOperationToolExecuteExpandsPathAndQuery(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"123","name":"Rex"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	tool, _, _ := p.GetTool(context.Background(), "getPetById")

	actx := &agent.AgentContext{
		Config: agent.RunConfig{
			RequestAuthOverrides: map[string]agent.AuthOverride{
				"petstore": {Kind: agent.AuthBearer, BearerToken: "tok-abc"},
			},
		},
	}

	result, err := tool.Execute(context.Background(), actx, map[string]any{"id": "123", "verbose": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotPath != "/pets/123" {
		t.Errorf("path = %q, want /pets/123", gotPath)
	}
	if gotQuery != "verbose=true" {
		t.Errorf("query = %q, want verbose=true", gotQuery)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q, want Bearer tok-abc", gotAuth)
	}

	decoded, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map[string]any", result)
	}
	if decoded["name"] != "Rex" {
		t.Errorf("decoded name = %v, want Rex", decoded["name"])
	}
}

func TestOperationToolExecuteSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not found`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	tool, _, _ := p.GetTool(context.Background(), "getPetById")

	_, err := tool.Execute(context.Background(), &agent.AgentContext{}, map[string]any{"id": "999"})
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	coreErr, ok := err.(*agent.CoreError)
	if !ok {
		t.Fatalf("error type = %T, want *agent.CoreError", err)
	}
	if coreErr.Kind != agent.ErrValidation {
		t.Errorf("Kind = %q, want %q", coreErr.Kind, agent.ErrValidation)
	}
}
