package agent

// AgentContext is the passive record of capabilities and request-scoped state
// handed to a Tool at execution time (spec §9). It carries no behavior of its
// own: tools read it to reach the LLM client, the active toolset, storage,
// and the run's configuration, but AgentContext never drives anything itself.
type AgentContext struct {
	RunID    string
	ThreadID string
	AgentType string

	LLMClient    LLMClient
	ToolProvider ToolProvider

	MessageStore MessageStore
	ThreadStore  ThreadStore
	RunStore     RunStore

	Config RunConfig

	// Emitter lets a tool (e.g. the delegate tool) surface sub_agent.* events
	// on the same event stream as the run that invoked it.
	Emitter *EventEmitter

	// Depth counts levels of delegation above this context: 0 for a
	// directly-invoked planner/base agent, incremented by one per
	// delegateToSpecialistAgent hop (spec §4.7 depth limit).
	Depth int
}

// WithToolProvider returns a shallow copy of actx scoped to a different
// ToolProvider, used when a delegate tool hands a specialist its own toolset
// without mutating the caller's context.
func (actx *AgentContext) WithToolProvider(tp ToolProvider) *AgentContext {
	next := *actx
	next.ToolProvider = tp
	return &next
}
