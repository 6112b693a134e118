package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// stubToolSource is a minimal ToolSource for exercising the orchestrator
// without depending on the toolprovider package (which itself depends on
// this package, so importing it here would cycle).
type stubToolSource struct {
	tools    []Tool
	tags     map[string][]string // tool name -> tags
	apiTitle string
	baseURL  string
}

func (s stubToolSource) EnsureInitialized(ctx context.Context) error { return nil }

func (s stubToolSource) Tools(ctx context.Context) ([]Tool, error) { return s.tools, nil }

func (s stubToolSource) TagsFor(tool Tool) []string {
	return s.tags[tool.Definition().Name]
}

func (s stubToolSource) APITitle() string { return s.apiTitle }

func (s stubToolSource) BaseURL() string { return s.baseURL }

var _ ToolSource = stubToolSource{}

func noopTool(name string) Tool {
	return fnTool{
		def: ToolDefinition{Name: name},
		fn:  func(ctx context.Context, actx *AgentContext, args map[string]any) (any, error) { return nil, nil },
	}
}

func TestToolsetOrchestratorAllInOneStrategy(t *testing.T) {
	source := stubToolSource{
		tools:    []Tool{noopTool("a"), noopTool("b")},
		apiTitle: "Widgets API",
	}
	orch := NewToolsetOrchestrator(map[string]func(opts map[string]any) (ToolSource, error){
		"stub": func(opts map[string]any) (ToolSource, error) { return source, nil },
	}, nil)

	sets, warnings, err := orch.Build(context.Background(), []ProviderSourceConfig{
		{ID: "widgets", Type: "stub"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if len(sets) != 1 {
		t.Fatalf("len(sets) = %d, want 1", len(sets))
	}
	if len(sets[0].Tools) != 2 {
		t.Errorf("len(sets[0].Tools) = %d, want 2", len(sets[0].Tools))
	}
	if sets[0].Metadata.APITitle != "Widgets API" {
		t.Errorf("APITitle = %q, want Widgets API", sets[0].Metadata.APITitle)
	}
}

func TestToolsetOrchestratorByTagStrategy(t *testing.T) {
	source := stubToolSource{
		tools: []Tool{noopTool("a"), noopTool("b"), noopTool("c")},
		tags: map[string][]string{
			"a": {"reads"},
			"b": {"reads"},
			"c": {"writes"},
		},
		apiTitle: "Widgets API",
	}
	orch := NewToolsetOrchestrator(map[string]func(opts map[string]any) (ToolSource, error){
		"stub": func(opts map[string]any) (ToolSource, error) { return source, nil },
	}, nil)

	sets, _, err := orch.Build(context.Background(), []ProviderSourceConfig{
		{ID: "widgets", Type: "stub", CreationStrategy: StrategyByTag},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("len(sets) = %d, want 2 (reads, writes)", len(sets))
	}

	byTag := make(map[string]int)
	for _, ts := range sets {
		byTag[ts.Metadata.OriginalTag] = len(ts.Tools)
	}
	if byTag["reads"] != 2 || byTag["writes"] != 1 {
		t.Errorf("tag groupings = %+v, want reads:2 writes:1", byTag)
	}
}

func TestToolsetOrchestratorUnknownProviderType(t *testing.T) {
	orch := NewToolsetOrchestrator(map[string]func(opts map[string]any) (ToolSource, error){}, nil)
	_, _, err := orch.Build(context.Background(), []ProviderSourceConfig{{ID: "x", Type: "missing"}})
	if err == nil {
		t.Fatal("expected an error for an unregistered provider type")
	}
}

func TestToolsetOrchestratorSplitsOversizedWithoutLLM(t *testing.T) {
	tools := []Tool{noopTool("a"), noopTool("b"), noopTool("c")}
	source := stubToolSource{tools: tools, apiTitle: "Widgets API"}
	orch := NewToolsetOrchestrator(map[string]func(opts map[string]any) (ToolSource, error){
		"stub": func(opts map[string]any) (ToolSource, error) { return source, nil },
	}, nil) // no LLM client: split falls back to a single unsplit toolset

	sets, _, err := orch.Build(context.Background(), []ProviderSourceConfig{
		{ID: "widgets", Type: "stub", MaxToolsPerLogicalGroup: 1},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("len(sets) = %d, want 1 unsplit fallback toolset", len(sets))
	}
	if sets[0].Metadata.SplitFallback != ReasonNoLLMClient {
		t.Errorf("SplitFallback = %q, want %q", sets[0].Metadata.SplitFallback, ReasonNoLLMClient)
	}
}

func TestLoadProviderConfigsReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	doc := `
- id: widgets
  type: openapi
  provider_options:
    base_url: https://example.test
  creation_strategy: all_in_one
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	configs, err := LoadProviderConfigs(path)
	if err != nil {
		t.Fatalf("LoadProviderConfigs: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("len(configs) = %d, want 1", len(configs))
	}
	if configs[0].ID != "widgets" || configs[0].Type != "openapi" {
		t.Errorf("configs[0] = %+v", configs[0])
	}
}

func TestSanitizeToolNameEnforcesGrammar(t *testing.T) {
	cases := map[string]string{
		"":                "unnamed_id",
		"get pets/{id}!":  "get_pets__id__",
		"already_valid-1": "already_valid-1",
	}
	for in, want := range cases {
		if got := SanitizeToolName(in); got != want {
			t.Errorf("SanitizeToolName(%q) = %q, want %q", in, got, want)
		}
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	if got := SanitizeToolName(long); len(got) != 64 {
		t.Errorf("len(SanitizeToolName(long)) = %d, want 64", len(got))
	}
}
