package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/2389-research/agentkit/llm"
)

// memStore is a minimal, mutex-guarded MessageStore/ThreadStore/RunStore for
// agent-package tests, grounded on store.MemoryStore's shape but kept local
// to avoid a storage-layer import cycle from this package's own tests.
type memStore struct {
	mu       sync.Mutex
	threads  map[string]Thread
	messages map[string][]Message
	runs     map[string]Run
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
		runs:     make(map[string]Run),
	}
}

func (s *memStore) genID(prefix string) string {
	s.nextID++
	return prefix + "-" + time.Now().Format("150405.000000") + "-" + string(rune('a'+s.nextID%26))
}

func (s *memStore) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.genID("thread")
	}
	s.threads[t.ID] = t
	return t, nil
}

func (s *memStore) GetThread(ctx context.Context, id string) (Thread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok, nil
}

func (s *memStore) AddMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = s.genID("msg")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	return nil
}

func (s *memStore) GetMessages(ctx context.Context, threadID string, limit int, descending bool) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[threadID]
	out := make([]Message, len(all))
	copy(out, all)
	if descending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if limit > 0 && len(out) > limit {
		if descending {
			out = out[:limit]
		} else {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}

func (s *memStore) CreateRun(ctx context.Context, r Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = s.genID("run")
	}
	s.runs[r.ID] = r
	return r, nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok, nil
}

func (s *memStore) UpdateRun(ctx context.Context, id string, patch func(*Run)) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, &CoreError{Kind: ErrStorage, Message: "run not found: " + id}
	}
	patch(&r)
	s.runs[id] = r
	return r, nil
}

var (
	_ ThreadStore  = (*memStore)(nil)
	_ MessageStore = (*memStore)(nil)
	_ RunStore     = (*memStore)(nil)
)

// streamScript is one canned Stream() response: a fixed sequence of
// llm.StreamEvent delivered over a buffered channel.
type streamScript []llm.StreamEvent

// scriptedLLMClient is an agent.LLMClient test double whose Stream/Complete/
// CountTokens responses are supplied up front, letting a test drive the run
// loop through a specific sequence of turns without a real provider.
type scriptedLLMClient struct {
	mu sync.Mutex

	streams   []streamScript
	streamIdx int

	tokenCounts []int
	tokenIdx    int

	completeText string
	completeErr  error
}

func (c *scriptedLLMClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamIdx >= len(c.streams) {
		return nil, errors.New("scriptedLLMClient: ran out of scripted stream responses")
	}
	script := c.streams[c.streamIdx]
	c.streamIdx++

	ch := make(chan llm.StreamEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *scriptedLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.completeErr != nil {
		return nil, c.completeErr
	}
	return &llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentPart{llm.TextPart(c.completeText)}},
	}, nil
}

func (c *scriptedLLMClient) FormatTools(defs []ToolDefinition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{Name: d.Name, Description: d.Description})
	}
	return out
}

func (c *scriptedLLMClient) CountTokens(ctx context.Context, messages []llm.Message, model string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tokenCounts) == 0 {
		return len(messages), nil
	}
	idx := c.tokenIdx
	if idx >= len(c.tokenCounts) {
		idx = len(c.tokenCounts) - 1
	} else {
		c.tokenIdx++
	}
	return c.tokenCounts[idx], nil
}

var _ LLMClient = (*scriptedLLMClient)(nil)

// textStream builds a streamScript for a plain text-only turn.
func textStream(text string) streamScript {
	reason := llm.FinishReason{Reason: llm.FinishStop}
	return streamScript{
		{Type: llm.StreamTextDelta, Delta: text},
		{Type: llm.StreamFinish, FinishReason: &reason},
	}
}

// toolCallStream builds a streamScript that requests a single tool call.
func toolCallStream(callID, toolName, argsJSON string) streamScript {
	reason := llm.FinishReason{Reason: llm.FinishToolCalls}
	return streamScript{
		{Type: llm.StreamToolStart, ToolCall: &llm.ToolCall{ID: callID, Name: toolName}},
		{Type: llm.StreamToolDelta, Delta: argsJSON},
		{Type: llm.StreamToolEnd},
		{Type: llm.StreamFinish, FinishReason: &reason},
	}
}

// fnTool is a Tool whose Execute is a plain closure, for exercising the
// executor and run loop without a full provider implementation.
type fnTool struct {
	def ToolDefinition
	fn  func(ctx context.Context, actx *AgentContext, args map[string]any) (any, error)
}

func (t fnTool) Definition() ToolDefinition { return t.def }

func (t fnTool) Execute(ctx context.Context, actx *AgentContext, args map[string]any) (any, error) {
	return t.fn(ctx, actx, args)
}

// fixedToolProvider exposes a fixed tool list, for tests that don't need the
// full toolprovider package.
type fixedToolProvider struct {
	tools []Tool
}

func (p fixedToolProvider) EnsureInitialized(ctx context.Context) error { return nil }

func (p fixedToolProvider) GetTools(ctx context.Context) ([]Tool, error) { return p.tools, nil }

func (p fixedToolProvider) GetTool(ctx context.Context, name string) (Tool, bool, error) {
	for _, t := range p.tools {
		if t.Definition().Name == name {
			return t, true, nil
		}
	}
	return nil, false, nil
}

var _ ToolProvider = fixedToolProvider{}

// baseRunConfig returns a valid RunConfig a test can tweak further.
func baseRunConfig(model string) RunConfig {
	return RunConfig{
		Model:                    model,
		ToolChoice:               ToolChoice{Mode: ToolChoiceAuto},
		MaxToolCallContinuations: 3,
		ContextManagerConfig: ContextManagerConfig{
			TokenThreshold:      8000,
			SummaryTargetTokens: 500,
			ReservedTokens:      1000,
		},
	}
}
