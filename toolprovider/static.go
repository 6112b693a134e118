// ABOUTME: In-process ToolProvider backed by a fixed, caller-supplied tool list.
// ABOUTME: Also provides AggregatedToolProvider, which merges several providers with first-source-wins collisions.
package toolprovider

import (
	"context"
	"sync"

	"github.com/2389-research/agentkit/agent"
)

// StaticProvider exposes a fixed set of in-process tools, e.g. ones
// implemented directly in Go rather than projected from an external API.
type StaticProvider struct {
	mu    sync.RWMutex
	tools map[string]agent.Tool
	order []string
}

// NewStaticProvider builds a StaticProvider from tools, keyed by their
// definition name. Later entries with a duplicate name win.
func NewStaticProvider(tools ...agent.Tool) *StaticProvider {
	p := &StaticProvider{tools: make(map[string]agent.Tool, len(tools))}
	for _, t := range tools {
		p.add(t)
	}
	return p
}

func (p *StaticProvider) add(t agent.Tool) {
	name := t.Definition().Name
	if _, exists := p.tools[name]; !exists {
		p.order = append(p.order, name)
	}
	p.tools[name] = t
}

// Register adds or replaces a tool after construction.
func (p *StaticProvider) Register(t agent.Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.add(t)
}

func (p *StaticProvider) EnsureInitialized(ctx context.Context) error { return nil }

func (p *StaticProvider) GetTools(ctx context.Context) ([]agent.Tool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]agent.Tool, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name])
	}
	return out, nil
}

func (p *StaticProvider) GetTool(ctx context.Context, name string) (agent.Tool, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tools[name]
	return t, ok, nil
}

var _ agent.ToolProvider = (*StaticProvider)(nil)

// AggregatedToolProvider merges several ToolProviders behind one interface.
// get_tools() returns each tool name at most once; collisions are resolved
// deterministically by source order (spec §8 testable property).
type AggregatedToolProvider struct {
	sources []agent.ToolProvider
}

// NewAggregatedToolProvider merges sources in priority order: a tool name
// seen from an earlier source shadows the same name from a later one.
func NewAggregatedToolProvider(sources ...agent.ToolProvider) *AggregatedToolProvider {
	return &AggregatedToolProvider{sources: sources}
}

func (a *AggregatedToolProvider) EnsureInitialized(ctx context.Context) error {
	for _, s := range a.sources {
		if err := s.EnsureInitialized(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *AggregatedToolProvider) GetTools(ctx context.Context) ([]agent.Tool, error) {
	seen := make(map[string]bool)
	var out []agent.Tool
	for _, s := range a.sources {
		tools, err := s.GetTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			name := t.Definition().Name
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *AggregatedToolProvider) GetTool(ctx context.Context, name string) (agent.Tool, bool, error) {
	for _, s := range a.sources {
		t, ok, err := s.GetTool(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return t, true, nil
		}
	}
	return nil, false, nil
}

var _ agent.ToolProvider = (*AggregatedToolProvider)(nil)
