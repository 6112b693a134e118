package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DelegateToolName is the reserved name the planner's delegation tool is
// exposed under (spec §6).
const DelegateToolName = "delegateToSpecialistAgent"

// maxDelegationDepth bounds how many nested delegateToSpecialistAgent hops a
// single top-level run may accumulate, mirroring the teacher's subagent
// depth guard.
const maxDelegationDepth = 1

// SpecialistResolver looks up a named specialist toolset, the capability the
// Toolset Orchestrator (spec §4.8) provides to the Delegate Tool.
type SpecialistResolver interface {
	Resolve(ctx context.Context, specialistID string) (ToolSet, bool, error)
}

// DelegateTool is the tool a Planner Agent invokes to hand a sub-task to a
// specialist worker run (spec §4.7).
type DelegateTool struct {
	Resolver SpecialistResolver
	Loop     *Loop
}

// NewDelegateTool constructs the delegation tool over the given specialist
// resolver and the Run Loop used to drive worker runs.
func NewDelegateTool(resolver SpecialistResolver, loop *Loop) *DelegateTool {
	return &DelegateTool{Resolver: resolver, Loop: loop}
}

func (t *DelegateTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        DelegateToolName,
		Description: "Delegate a sub-task to a specialist agent and return its final answer.",
		Parameters: []ToolParameter{
			{Name: "specialist_id", Type: "string", Description: "id of the specialist toolset to delegate to", Required: true},
			{Name: "sub_task_description", Type: "string", Description: "natural-language description of the sub-task", Required: true},
			{Name: "required_output_format", Type: "string", Description: "optional hint for how the specialist should format its answer"},
		},
	}
}

// Execute resolves the specialist, starts a worker sub-run over its toolset,
// and returns the sub-run's final text (or a failed ToolResult payload — a
// delegation failure is never propagated as a Go error).
func (t *DelegateTool) Execute(ctx context.Context, actx *AgentContext, args map[string]any) (any, error) {
	specialistID, _ := args["specialist_id"].(string)
	subTask, _ := args["sub_task_description"].(string)
	outputFormat, _ := args["required_output_format"].(string)

	if actx.Depth >= maxDelegationDepth {
		return delegateFailure(specialistID, subTask, "delegation depth limit exceeded"), nil
	}

	toolset, found, err := t.Resolver.Resolve(ctx, specialistID)
	if err != nil {
		return delegateFailure(specialistID, subTask, fmt.Sprintf("resolving specialist: %v", err)), nil
	}
	if !found {
		return delegateFailure(specialistID, subTask, "unknown specialist"), nil
	}

	systemPrompt := buildSpecialistSystemPrompt(toolset, subTask, outputFormat)

	workerConfig := actx.Config
	workerConfig.SystemPrompt = systemPrompt

	subRunID := uuid.New().String()
	threadID := actx.ThreadID

	workerCtx := &AgentContext{
		RunID:        subRunID,
		ThreadID:     threadID,
		AgentType:    "specialist:" + toolset.ID,
		LLMClient:    actx.LLMClient,
		ToolProvider: &staticToolProvider{tools: toolset.Tools},
		MessageStore: actx.MessageStore,
		ThreadStore:  actx.ThreadStore,
		RunStore:     actx.RunStore,
		Config:       workerConfig,
		Emitter:      actx.Emitter,
		Depth:        actx.Depth + 1,
	}

	subRun := Run{
		ID:        subRunID,
		ThreadID:  threadID,
		AgentType: workerCtx.AgentType,
		Status:    RunStatusQueued,
		Config:    workerConfig,
	}

	result, err := t.Loop.Run(ctx, workerCtx, subRun, []Message{
		{ThreadID: threadID, Role: RoleUser, Content: subTask},
	})
	if err != nil || result.Status == RunStatusFailed {
		msg := "sub-run failed"
		if result.LastError != nil {
			msg = result.LastError.Message
		}
		return delegateFailure(specialistID, subTask, msg), nil
	}

	finalText := lastAssistantText(ctx, actx, threadID, subRunID)

	return map[string]any{
		"success": true,
		"data":    finalText,
		"metadata": map[string]any{
			"sub_agent_run_id":      subRunID,
			"specialist_id":         specialistID,
			"sub_task_description":  subTask,
		},
	}, nil
}

func delegateFailure(specialistID, subTask, reason string) any {
	return map[string]any{
		"success": false,
		"error":   reason,
		"metadata": map[string]any{
			"specialist_id":        specialistID,
			"sub_task_description": subTask,
		},
	}
}

// lastAssistantText walks a thread's persisted history backwards to find the
// most recent assistant message produced by the given sub-run.
func lastAssistantText(ctx context.Context, actx *AgentContext, threadID, subRunID string) string {
	history, err := actx.MessageStore.GetMessages(ctx, threadID, 0, true)
	if err != nil {
		return ""
	}
	for _, m := range history {
		if m.Role == RoleAssistant && m.Metadata.RunID == subRunID {
			return m.Content
		}
	}
	return ""
}

// buildSpecialistSystemPrompt synthesizes a system prompt for a specialist
// worker from the toolset's metadata and tool descriptions.
func buildSpecialistSystemPrompt(ts ToolSet, subTask, outputFormat string) string {
	prompt := fmt.Sprintf("You are the %q specialist. %s\n\nYour task: %s\n\nAvailable tools:\n", ts.Name, ts.Description, subTask)
	for _, tool := range ts.Tools {
		def := tool.Definition()
		prompt += fmt.Sprintf("- %s: %s\n", def.Name, def.Description)
	}
	if outputFormat != "" {
		prompt += fmt.Sprintf("\nFormat your final answer as: %s\n", outputFormat)
	}
	return prompt
}

// staticToolProvider exposes a fixed, pre-resolved slice of tools — the
// shape a specialist worker's ToolProvider takes once the orchestrator has
// already partitioned tools into the toolset.
type staticToolProvider struct {
	tools []Tool
}

func (p *staticToolProvider) EnsureInitialized(ctx context.Context) error { return nil }

func (p *staticToolProvider) GetTools(ctx context.Context) ([]Tool, error) {
	return p.tools, nil
}

func (p *staticToolProvider) GetTool(ctx context.Context, name string) (Tool, bool, error) {
	for _, t := range p.tools {
		if t.Definition().Name == name {
			return t, true, nil
		}
	}
	return nil, false, nil
}

var _ ToolProvider = (*staticToolProvider)(nil)
