package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ToolExecutor executes a batch of tool calls against an AgentContext's
// ToolProvider, always producing one result per call and never letting a
// tool's panic or error cross the boundary unconverted (spec §4.3).
type ToolExecutor struct {
	Config ToolExecutorConfig
}

// NewToolExecutor creates a ToolExecutor with the given config.
func NewToolExecutor(cfg ToolExecutorConfig) *ToolExecutor {
	return &ToolExecutor{Config: cfg}
}

// Execute runs tool_calls against actx.ToolProvider using the configured
// strategy. Ordering of returned results always matches input order, under
// both the sequential and parallel strategies.
func (e *ToolExecutor) Execute(ctx context.Context, actx *AgentContext, calls []ToolCallRecord) []ToolResult {
	if e.Config.Parallel && len(calls) > 1 {
		results := make([]ToolResult, len(calls))
		var wg sync.WaitGroup
		wg.Add(len(calls))
		for i, call := range calls {
			go func(idx int, tc ToolCallRecord) {
				defer wg.Done()
				results[idx] = e.executeOne(ctx, actx, tc)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		// Sequential: call n+1 begins only after call n settles; a failure
		// does not halt the batch.
		results = append(results, e.executeOne(ctx, actx, call))
	}
	return results
}

// executeOne looks up, parses arguments for, and invokes a single tool call.
// It never panics or returns an error to its caller: every failure mode
// becomes a ToolResult{Success: false}.
func (e *ToolExecutor) executeOne(ctx context.Context, actx *AgentContext, tc ToolCallRecord) (result ToolResult) {
	result.ToolCallID = tc.ID
	result.ToolName = tc.Name

	defer func() {
		if r := recover(); r != nil {
			result = ToolResult{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Success:    false,
				Error:      fmt.Sprintf("tool panicked: %v", r),
				Metadata:   map[string]any{"error_name": "panic"},
			}
		}
	}()

	tool, found, err := actx.ToolProvider.GetTool(ctx, tc.Name)
	if err != nil {
		return ToolResult{
			ToolCallID: tc.ID, ToolName: tc.Name, Success: false,
			Error:    fmt.Sprintf("looking up tool %q: %v", tc.Name, err),
			Metadata: map[string]any{"error_name": string(ErrToolNotFound)},
		}
	}
	if !found {
		return ToolResult{
			ToolCallID: tc.ID, ToolName: tc.Name, Success: false,
			Error:    fmt.Sprintf("unknown tool: %s", tc.Name),
			Metadata: map[string]any{"error_name": string(ErrToolNotFound)},
		}
	}

	var args map[string]any
	if len(tc.Arguments) > 0 {
		if jerr := json.Unmarshal(tc.Arguments, &args); jerr != nil {
			return ToolResult{
				ToolCallID: tc.ID, ToolName: tc.Name, Success: false,
				Error:    fmt.Sprintf("parsing arguments for %s: %v", tc.Name, jerr),
				Metadata: map[string]any{"error_name": string(ErrValidation)},
			}
		}
	} else {
		args = map[string]any{}
	}

	data, err := tool.Execute(ctx, actx, args)
	if err != nil {
		return ToolResult{
			ToolCallID: tc.ID, ToolName: tc.Name, Success: false,
			Error:    err.Error(),
			Metadata: map[string]any{"error_name": "execution_error"},
		}
	}

	var meta map[string]any
	if env, ok := data.(map[string]any); ok && tc.Name == DelegateToolName {
		if succeeded, isBool := env["success"].(bool); isBool {
			meta, _ = env["metadata"].(map[string]any)
			if !succeeded {
				msg, _ := env["error"].(string)
				return ToolResult{ToolCallID: tc.ID, ToolName: tc.Name, Success: false, Error: msg, Metadata: meta}
			}
			data = env["data"]
		}
	}

	if s, ok := data.(string); ok {
		data = TruncateToolOutput(s, tc.Name, e.Config.OutputCharLimits)
	}

	return ToolResult{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Success:    true,
		Data:       data,
		Metadata:   meta,
	}
}

// ToolResultToMessage converts a ToolResult into the tool-role message the
// run loop persists and feeds back to the LLM (spec §4.5 step 10).
func ToolResultToMessage(threadID string, r ToolResult) Message {
	var content string
	if r.Success {
		content = renderToolData(r.Data)
	} else {
		content = "Error: " + r.Error
	}
	return Message{
		ThreadID: threadID,
		Role:     RoleTool,
		Content:  content,
		Metadata: MessageMetadata{
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		},
	}
}
