package agent

import "context"

// plannerSystemPrompt instructs the Planner Agent to select a specialist and
// a sub-task, then assemble a final answer from specialist results
// (spec §4.6).
const plannerSystemPrompt = `You are a planning agent. You do not have direct tools to answer a user's
request yourself; your only capability is delegating work to a specialist
agent via the delegateToSpecialistAgent tool.

For each user request:
1. Decide which specialist is best suited and what sub-task to hand it.
2. Call delegateToSpecialistAgent with a clear sub_task_description.
3. Once the specialist responds, assemble a final answer for the user from
   its result. Do not call the tool again unless the result was insufficient.
`

// plannerToolProvider exposes exactly one tool: the delegation tool
// (spec §4.6 — "Its ToolProvider exposes one tool only").
type plannerToolProvider struct {
	delegate *DelegateTool
}

// NewPlannerToolProvider wraps a DelegateTool as the sole member of a
// Planner Agent's ToolProvider.
func NewPlannerToolProvider(delegate *DelegateTool) ToolProvider {
	return &plannerToolProvider{delegate: delegate}
}

func (p *plannerToolProvider) EnsureInitialized(ctx context.Context) error { return nil }

func (p *plannerToolProvider) GetTools(ctx context.Context) ([]Tool, error) {
	return []Tool{p.delegate}, nil
}

func (p *plannerToolProvider) GetTool(ctx context.Context, name string) (Tool, bool, error) {
	if name == DelegateToolName {
		return p.delegate, true, nil
	}
	return nil, false, nil
}

var _ ToolProvider = (*plannerToolProvider)(nil)

// NewPlannerRunConfig returns a RunConfig for a Planner Agent: the planning
// system prompt, with each delegation bounded to at most one planner
// continuation (spec §4.6 — "each delegation consumes at most one planner
// continuation").
func NewPlannerRunConfig(model string, cmConfig ContextManagerConfig) RunConfig {
	return RunConfig{
		Model:                    model,
		SystemPrompt:             plannerSystemPrompt,
		ToolChoice:               ToolChoice{Mode: ToolChoiceAuto},
		MaxToolCallContinuations: 1,
		ContextManagerConfig:     cmConfig,
	}
}
