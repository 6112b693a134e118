// ABOUTME: In-memory reference implementation of the agent package's storage capabilities.
// ABOUTME: Provides MemoryStore, a mutex-guarded MessageStore/ThreadStore/RunStore suitable for tests and single-process demos.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389-research/agentkit/agent"
	"github.com/google/uuid"
)

// MemoryStore is a single mutex-guarded implementation of MessageStore,
// ThreadStore, and RunStore, safe for concurrent use by many runs (spec §5:
// "implementations must be safe for concurrent use").
type MemoryStore struct {
	mu       sync.Mutex
	threads  map[string]agent.Thread
	messages map[string][]agent.Message // keyed by thread id, append-only in insertion order
	runs     map[string]agent.Run
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]agent.Thread),
		messages: make(map[string][]agent.Message),
		runs:     make(map[string]agent.Run),
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, t agent.Thread) (agent.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.threads[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, id string) (agent.Thread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, msg agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	return nil
}

// GetMessages returns up to limit messages for threadID (0 means
// unbounded), ordered descending or ascending by creation order per the
// descending flag.
func (s *MemoryStore) GetMessages(ctx context.Context, threadID string, limit int, descending bool) ([]agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[threadID]
	out := make([]agent.Message, len(all))
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

func (s *MemoryStore) CreateRun(ctx context.Context, r agent.Run) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.runs[r.ID] = r
	return r, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (agent.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id string, patch func(*agent.Run)) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "run not found: " + id}
	}
	patch(&r)
	s.runs[id] = r
	return r, nil
}

var (
	_ agent.ThreadStore  = (*MemoryStore)(nil)
	_ agent.MessageStore = (*MemoryStore)(nil)
	_ agent.RunStore     = (*MemoryStore)(nil)
)
