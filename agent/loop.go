// ABOUTME: Core agentic loop that orchestrates LLM calls, tool execution, and run state transitions.
// ABOUTME: Provides Loop.Run (the per-run state machine) and Loop.SubmitToolOutputs (requires_action resumption).

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389-research/agentkit/llm"
	"github.com/google/uuid"
)

// safetyBuffer is added to MaxToolCallContinuations before the iteration
// guard trips, so a misconfigured continuation bound fails loudly instead of
// spinning forever.
const safetyBuffer = 5

// loopDetectionWindow is how many recent tool-call signatures the run loop's
// repetition guard inspects after each tool-execution cycle.
const loopDetectionWindow = 6

// Loop is a cooperative per-run state machine (spec §4.5). One Loop may
// drive many runs concurrently; cancellation is tracked per run id.
type Loop struct {
	Emitter *EventEmitter

	mu          sync.Mutex
	cancelFlags map[string]*atomic.Bool
}

// NewLoop creates a Loop that emits onto the given emitter.
func NewLoop(emitter *EventEmitter) *Loop {
	return &Loop{
		Emitter:     emitter,
		cancelFlags: make(map[string]*atomic.Bool),
	}
}

// Cancel requests cooperative cancellation of a run. It takes effect at the
// next checkpoint: loop top, between parser events, or between tool-execution
// batches.
func (l *Loop) Cancel(runID string) {
	l.flagFor(runID).Store(true)
}

func (l *Loop) flagFor(runID string) *atomic.Bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.cancelFlags[runID]
	if !ok {
		f = &atomic.Bool{}
		l.cancelFlags[runID] = f
	}
	return f
}

func (l *Loop) clear(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cancelFlags, runID)
}

func (l *Loop) emit(runID, threadID string, typ EventType, data any) {
	if l.Emitter == nil {
		return
	}
	l.Emitter.Emit(Event{Type: typ, Timestamp: time.Now(), RunID: runID, ThreadID: threadID, Data: data})
}

// Run drives run to a terminal status or to a requires_action pause,
// starting from currentCycle as the first iteration's new input messages
// (spec §4.5). It returns the run in its resulting status.
func (l *Loop) Run(ctx context.Context, actx *AgentContext, run Run, currentCycle []Message) (Run, error) {
	cancelFlag := l.flagFor(run.ID)
	defer func() {
		if run.Status == RunStatusCompleted || run.Status == RunStatusFailed || run.Status == RunStatusCancelled {
			l.clear(run.ID)
		}
	}()

	turnHistory := make([]Message, 0, 16)
	iterations := 0

	if run.Status == RunStatusQueued {
		l.emit(run.ID, run.ThreadID, EventRunCreated, currentCycle)
		run.Status = RunStatusInProgress
	}

	for {
		// 1. Cancellation check.
		if cancelFlag.Load() || ctx.Err() != nil {
			l.emit(run.ID, run.ThreadID, EventRunStatusChanged, RunStatusChangedData{CurrentStatus: RunStatusCancelled, Details: "cancellation requested"})
			run.Status = RunStatusCancelled
			l.persistRunStatus(ctx, actx, &run)
			return run, nil
		}

		// 2. Iteration guard.
		iterations++
		if iterations > run.Config.MaxToolCallContinuations+safetyBuffer {
			return l.fail(ctx, actx, run, ErrIterationLimit, "iteration limit exceeded", nil)
		}

		// 3. Fetch prior history, then persist current-cycle inputs. The
		// fetch happens first so priorHistory never includes the messages
		// currentCycle is about to add: Prepare keeps that split so the
		// current cycle can never land in the summarizable prefix or the
		// verbatim-tail shrink loop.
		priorHistory, err := actx.MessageStore.GetMessages(ctx, run.ThreadID, 0, false)
		if err != nil {
			return l.fail(ctx, actx, run, ErrStorage, "fetching thread history", err)
		}

		for _, msg := range currentCycle {
			msg.ThreadID = run.ThreadID
			msg.Metadata.RunID = run.ID
			if err := actx.MessageStore.AddMessage(ctx, msg); err != nil {
				return l.fail(ctx, actx, run, ErrStorage, "persisting current-cycle message", err)
			}
			l.emit(run.ID, run.ThreadID, EventMessageCreated, msg)
			turnHistory = append(turnHistory, msg)
		}

		stepID := uuid.New().String()
		l.emit(run.ID, run.ThreadID, EventRunStepCreated, RunStepCreatedData{StepID: stepID})

		// 4. Prepare prompt.
		cm, err := NewContextManager(run.Config.ContextManagerConfig, actx.LLMClient)
		if err != nil {
			return l.fail(ctx, actx, run, ErrConfiguration, "constructing context manager", err)
		}
		messages, summary, err := cm.Prepare(ctx, run.Config.SystemPrompt, priorHistory, currentCycle, run.Config.Model)
		if err != nil {
			return l.fail(ctx, actx, run, ErrLLM, "preparing prompt", err)
		}
		if summary != nil {
			summary.ThreadID = run.ThreadID
			summary.Metadata.RunID = run.ID
			if err := actx.MessageStore.AddMessage(ctx, *summary); err != nil {
				return l.fail(ctx, actx, run, ErrStorage, "persisting context summary", err)
			}
			l.emit(run.ID, run.ThreadID, EventMessageCreated, *summary)
		}

		// 5. Format tools.
		tools, err := actx.ToolProvider.GetTools(ctx)
		if err != nil {
			return l.fail(ctx, actx, run, ErrToolNotFound, "listing available tools", err)
		}
		defs := make([]ToolDefinition, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, t.Definition())
		}
		formatted := actx.LLMClient.FormatTools(defs)

		toolChoice := llmToolChoice(run.Config.ToolChoice)
		if len(formatted) == 0 {
			toolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceNone}
		}

		req := llm.Request{
			Model:       run.Config.Model,
			Messages:    messages,
			Tools:       formatted,
			ToolChoice:  toolChoice,
			Temperature: run.Config.Temperature,
			MaxTokens:   run.Config.MaxTokens,
		}

		// 6. Call LLM.
		chunks, err := actx.LLMClient.Stream(ctx, req)
		if err != nil {
			return l.fail(ctx, actx, run, ErrLLM, "llm stream call failed", err)
		}

		// 7. Emit assistant shell.
		messageID := uuid.New().String()
		l.emit(run.ID, run.ThreadID, EventMessageCreated, Message{
			ID:       messageID,
			ThreadID: run.ThreadID,
			Role:     RoleAssistant,
			Metadata: MessageMetadata{RunID: run.ID, StepID: stepID, InProgress: true},
		})

		// 8. Drive parser.
		var contentBuf string
		var toolCalls []ToolCallRecord
		finishReason := ""
		cancelledMidStream := false

		events := ParseStream(ctx, chunks)
	parseLoop:
		for {
			if cancelFlag.Load() || ctx.Err() != nil {
				cancelledMidStream = true
				break parseLoop
			}
			select {
			case ev, ok := <-events:
				if !ok {
					break parseLoop
				}
				switch ev.Kind {
				case ParserTextChunk:
					contentBuf += ev.Text
					l.emit(run.ID, run.ThreadID, EventMessageDelta, MessageDelta{MessageID: messageID, ContentChunk: ev.Text})
				case ParserToolCallDetected:
					toolCalls = append(toolCalls, *ev.ToolCall)
					l.emit(run.ID, run.ThreadID, EventToolCallCreated, ev.ToolCall)
					l.emit(run.ID, run.ThreadID, EventToolCallCompletedByLLM, ev.ToolCall)
					l.emit(run.ID, run.ThreadID, EventMessageDelta, MessageDelta{MessageID: messageID, ToolCallsChunk: []ToolCallRecord{*ev.ToolCall}})
				case ParserStreamEnd:
					finishReason = ev.FinishReason
				case ParserError:
					return l.fail(ctx, actx, run, ErrLLM, "response parser error", ev.Cause)
				}
			case <-ctx.Done():
				cancelledMidStream = true
				break parseLoop
			}
		}

		if cancelledMidStream {
			l.emit(run.ID, run.ThreadID, EventRunStatusChanged, RunStatusChangedData{CurrentStatus: RunStatusCancelled, Details: "cancelled mid-stream"})
			run.Status = RunStatusCancelled
			l.persistRunStatus(ctx, actx, &run)
			return run, nil
		}

		// 9. Persist assistant message.
		assistantMsg := Message{
			ID:        messageID,
			ThreadID:  run.ThreadID,
			Role:      RoleAssistant,
			Content:   contentBuf,
			CreatedAt: time.Now(),
			Metadata:  MessageMetadata{ToolCalls: toolCalls, RunID: run.ID, StepID: stepID},
		}
		if err := actx.MessageStore.AddMessage(ctx, assistantMsg); err != nil {
			return l.fail(ctx, actx, run, ErrStorage, "persisting assistant message", err)
		}
		l.emit(run.ID, run.ThreadID, EventMessageCompleted, assistantMsg)
		turnHistory = append(turnHistory, assistantMsg)

		// 10. Branch on finish reason.
		switch {
		case finishReason == llm.FinishToolCalls && len(toolCalls) > 0:
			if iterations > run.Config.MaxToolCallContinuations {
				action := RequiredAction{Type: "submit_tool_outputs", ToolCalls: toolCalls}
				l.emit(run.ID, run.ThreadID, EventRunRequiresAction, RequiresActionData{RequiredAction: action})
				run.Status = RunStatusRequiresAction
				run.RequiredAction = &action
				l.persistRunStatus(ctx, actx, &run)
				return run, nil
			}

			l.emit(run.ID, run.ThreadID, EventRunRequiresAction, RequiresActionData{RequiredAction: RequiredAction{Type: "submit_tool_outputs", ToolCalls: toolCalls}})

			executor := NewToolExecutor(run.Config.ToolExecutorConfig)
			for _, tc := range toolCalls {
				var input map[string]any
				_ = json.Unmarshal(tc.Arguments, &input)
				l.emit(run.ID, run.ThreadID, EventToolExecutionStarted, ToolExecutionData{StepID: stepID, ToolCallID: tc.ID, ToolName: tc.Name, Input: input})
			}
			results := executor.Execute(ctx, actx, toolCalls)

			toolMessages := make([]Message, 0, len(results))
			for _, r := range results {
				l.emit(run.ID, run.ThreadID, EventToolExecutionCompleted, ToolExecutionData{StepID: stepID, ToolCallID: r.ToolCallID, ToolName: r.ToolName, Result: &r})
				if subID, ok := r.Metadata["sub_agent_run_id"]; ok {
					l.emit(run.ID, run.ThreadID, EventSubAgentInvocationDone, SubAgentInvocationData{
						PlannerStepID: stepID,
						ToolCallID:    r.ToolCallID,
						SpecialistID:  fmt.Sprintf("%v", r.Metadata["specialist_id"]),
						SubAgentRunID: fmt.Sprintf("%v", subID),
						Result:        r,
					})
				}
				toolMessages = append(toolMessages, ToolResultToMessage(run.ThreadID, r))
			}

			if len(toolMessages) == 0 {
				return l.fail(ctx, actx, run, ErrAllToolsFailed, "every tool call failed with no usable result", nil)
			}

			for _, tm := range toolMessages {
				turnHistory = append(turnHistory, tm)
			}
			if DetectLoop(turnHistory, loopDetectionWindow) {
				return l.fail(ctx, actx, run, ErrIterationLimit, "repeating tool call pattern detected", nil)
			}

			currentCycle = toolMessages
			continue

		case finishReason == llm.FinishStop || finishReason == "":
			l.emit(run.ID, run.ThreadID, EventRunCompleted, RunCompletedData{FinalMessages: []Message{assistantMsg}})
			run.Status = RunStatusCompleted
			l.persistRunStatus(ctx, actx, &run)
			return run, nil

		default:
			return l.fail(ctx, actx, run, ErrLLMFinishReasonIssue, fmt.Sprintf("unhandled finish reason: %s", finishReason), nil)
		}
	}
}

// SubmitToolOutputs resumes a run paused at requires_action, re-entering the
// loop with the given outputs as the next iteration's current-cycle
// messages (spec §4.5 "Resumption").
func (l *Loop) SubmitToolOutputs(ctx context.Context, actx *AgentContext, run Run, outputs []ToolResult) (Run, error) {
	run.Status = RunStatusInProgress
	run.RequiredAction = nil
	msgs := make([]Message, 0, len(outputs))
	for _, o := range outputs {
		msgs = append(msgs, ToolResultToMessage(run.ThreadID, o))
	}
	return l.Run(ctx, actx, run, msgs)
}

func (l *Loop) persistRunStatus(ctx context.Context, actx *AgentContext, run *Run) {
	if actx.RunStore == nil {
		return
	}
	now := time.Now()
	terminal := run.Status == RunStatusCompleted || run.Status == RunStatusFailed || run.Status == RunStatusCancelled
	_, _ = actx.RunStore.UpdateRun(ctx, run.ID, func(r *Run) {
		r.Status = run.Status
		r.LastError = run.LastError
		r.RequiredAction = run.RequiredAction
		if terminal {
			r.CompletedAt = &now
		}
	})
}

// fail emits run.failed, updates run state, and returns the run alongside a
// Go error describing the same failure for callers that want to log it.
func (l *Loop) fail(ctx context.Context, actx *AgentContext, run Run, kind ErrorKind, message string, cause error) (Run, error) {
	coreErr := &CoreError{Kind: kind, Message: message, Cause: cause}
	runErr := RunErrorFromCore(coreErr)
	l.emit(run.ID, run.ThreadID, EventRunFailed, RunFailedData{Error: runErr})
	run.Status = RunStatusFailed
	run.LastError = &runErr
	l.persistRunStatus(ctx, actx, &run)
	return run, coreErr
}

func llmToolChoice(tc ToolChoice) *llm.ToolChoice {
	switch tc.Mode {
	case ToolChoiceNone:
		return &llm.ToolChoice{Mode: llm.ToolChoiceNone}
	case ToolChoiceRequired:
		return &llm.ToolChoice{Mode: llm.ToolChoiceRequired}
	case ToolChoiceForce:
		return &llm.ToolChoice{Mode: llm.ToolChoiceNamed, ToolName: tc.Force}
	default:
		return &llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}
}
