// Package agent implements the agent orchestration core: the per-run state
// machine that drives an LLM conversation, parses its output incrementally,
// executes tools, manages context-window budgets, and supports hierarchical
// delegation from a planner to specialist workers.
package agent

import (
	"context"
	"encoding/json"
	"time"
)

// Role mirrors llm.Role for persisted messages.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// RunStatus is the status of a Run. Transitions are monotonic per the state
// machine driven by Loop.Run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
)

// ToolCallRecord is a stable-within-a-turn record of a tool call requested by
// the LLM. Arguments are kept as raw JSON text to preserve byte-identity with
// what the LLM emitted; parsing is the Tool Executor's responsibility.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call. Tools must never
// propagate a panic or error across this boundary; failures are represented
// as Success=false.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MessageMetadata carries the back-references and tool bookkeeping a
// persisted Message needs beyond role/content.
type MessageMetadata struct {
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	StepID     string           `json:"step_id,omitempty"`
	// InProgress marks an assistant message shell emitted before
	// message.completed for the same message id.
	InProgress bool `json:"in_progress,omitempty"`
	// Summary marks this message as the reserved-tag summary message
	// produced by the Context Manager (spec §4.4 step 6).
	Summary bool `json:"summary,omitempty"`
}

// Message is a persisted turn record.
type Message struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  MessageMetadata `json:"metadata"`
}

// Thread owns a sequence of messages.
type Thread struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RequiredAction is the payload of a run paused at requires_action.
type RequiredAction struct {
	Type      string           `json:"type"` // "submit_tool_outputs"
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

// RunError describes a terminal run.failed event's payload.
type RunError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Run is one execution of an agent over a thread.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AgentType      string          `json:"agent_type"`
	Status         RunStatus       `json:"status"`
	Config         RunConfig       `json:"config"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
}

// ToolChoiceMode mirrors the spec's tool_choice variants.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceForce    ToolChoiceMode = "force"
)

// ToolChoice selects whether and how the model must use tools.
type ToolChoice struct {
	Mode  ToolChoiceMode `json:"mode"`
	Force string         `json:"force,omitempty"` // tool name, when Mode==ToolChoiceForce
}

// ContextManagerConfig configures the Context Manager's token budget (spec §4.4).
type ContextManagerConfig struct {
	TokenThreshold      int `json:"token_threshold"`
	SummaryTargetTokens int `json:"summary_target_tokens"`
	ReservedTokens      int `json:"reserved_tokens"`
	// HistoryWindow bounds how much persisted history is fetched before
	// summarization/truncation is considered. Zero means a built-in default.
	HistoryWindow int `json:"history_window,omitempty"`
	// VerbatimTailTurns is how many of the most recent turns are always kept
	// out of the summarizable prefix (spec §4.4 step 6).
	VerbatimTailTurns int `json:"verbatim_tail_turns,omitempty"`
}

// Validate enforces the construction-time precondition from spec §4.4:
// token_threshold > summary_target_tokens + reserved_tokens.
func (c ContextManagerConfig) Validate() error {
	if c.TokenThreshold <= c.SummaryTargetTokens+c.ReservedTokens {
		return &CoreError{
			Kind:    ErrConfiguration,
			Message: "token_threshold must exceed summary_target_tokens + reserved_tokens",
		}
	}
	return nil
}

// ToolExecutorConfig configures the Tool Executor (spec §4.3).
type ToolExecutorConfig struct {
	Parallel bool `json:"parallel"`
	// OutputCharLimits overrides TruncateToolOutput's per-tool defaults.
	OutputCharLimits map[string]int `json:"output_char_limits,omitempty"`
}

// ResponseProcessorConfig configures the Response Parser (spec §4.2).
type ResponseProcessorConfig struct {
	// NativeToolCalling selects structured tool-call chunks over the
	// reserved XML-convention fallback (spec §4.2, §9 open question).
	NativeToolCalling bool `json:"native_tool_calling"`
}

// AuthOverrideKind discriminates a per-provider auth override (spec §4.9).
type AuthOverrideKind string

const (
	AuthNone   AuthOverrideKind = "none"
	AuthBearer AuthOverrideKind = "bearer"
	AuthAPIKey AuthOverrideKind = "api_key"
)

// AuthLocation is where an api_key override is applied.
type AuthLocation string

const (
	AuthLocationHeader AuthLocation = "header"
	AuthLocationQuery  AuthLocation = "query"
)

// BearerTokenProducer defers resolving a bearer token until the tool call
// actually executes, optionally reading request-scoped claims from ctx.
type BearerTokenProducer func(ctx context.Context) (string, error)

// AuthOverride is a tagged variant: exactly one of the kind-specific fields
// is meaningful, selected by Kind.
type AuthOverride struct {
	Kind AuthOverrideKind

	// AuthBearer
	BearerToken    string
	BearerProducer BearerTokenProducer

	// AuthAPIKey
	APIKeyName     string
	APIKeyLocation AuthLocation
	APIKeyValue    string
}

// RunConfig is immutable for the duration of a run once accepted.
type RunConfig struct {
	Model                    string                  `json:"model"`
	SystemPrompt             string                  `json:"system_prompt,omitempty"`
	Temperature              *float64                `json:"temperature,omitempty"`
	MaxTokens                *int                    `json:"max_tokens,omitempty"`
	ToolChoice               ToolChoice              `json:"tool_choice"`
	MaxToolCallContinuations int                     `json:"max_tool_call_continuations"`
	ResponseProcessorConfig  ResponseProcessorConfig `json:"response_processor_config"`
	ToolExecutorConfig       ToolExecutorConfig      `json:"tool_executor_config"`
	ContextManagerConfig     ContextManagerConfig    `json:"context_manager_config"`
	// RequestAuthOverrides is keyed by provider id (spec §4.9).
	RequestAuthOverrides map[string]AuthOverride `json:"-"`
	RequestContext       map[string]any          `json:"request_context,omitempty"`
}

// Validate checks construction-time preconditions of the config.
func (c RunConfig) Validate() error {
	if c.Model == "" {
		return &CoreError{Kind: ErrConfiguration, Message: "model is required"}
	}
	if err := c.ContextManagerConfig.Validate(); err != nil {
		return err
	}
	return nil
}

// ToolParameter is one named parameter accepted by a tool.
type ToolParameter struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolDefinition describes a tool's name, shape, and documentation, as seen
// by the LLM. Names must match the tool-name grammar (spec §6).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// Tool is an invocable capability backing a ToolDefinition.
type Tool interface {
	Definition() ToolDefinition
	// Execute runs the tool. It must not panic; any failure should be
	// returned as an error, which the Tool Executor converts to a failed
	// ToolResult rather than propagating.
	Execute(ctx context.Context, actx *AgentContext, args map[string]any) (any, error)
}

// ToolSetMetadata carries provenance for a ToolSet (spec §3).
type ToolSetMetadata struct {
	SourceID      string `json:"source_id,omitempty"`
	ProviderType  string `json:"provider_type,omitempty"`
	APITitle      string `json:"api_title,omitempty"`
	OriginalTag   string `json:"original_tag,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	LogicalGroup  string `json:"logical_group,omitempty"`
	LLMGroupName  string `json:"llm_group_name,omitempty"`
	LLMModelUsed  string `json:"llm_model_used,omitempty"`
	SplitFallback string `json:"split_fallback_reason,omitempty"`
}

// ToolSet is a named, bounded collection of tools offered to one agent.
type ToolSet struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tools       []Tool          `json:"-"`
	Metadata    ToolSetMetadata `json:"metadata"`
}

// ToolProvider exposes a bounded collection of tools (spec §6, external
// capability; only the minimal surface needed by the core is declared here).
type ToolProvider interface {
	EnsureInitialized(ctx context.Context) error
	GetTools(ctx context.Context) ([]Tool, error)
	GetTool(ctx context.Context, name string) (Tool, bool, error)
}

// MessageStore persists messages for a thread (external capability).
type MessageStore interface {
	AddMessage(ctx context.Context, msg Message) error
	GetMessages(ctx context.Context, threadID string, limit int, descending bool) ([]Message, error)
}

// ThreadStore persists threads (external capability).
type ThreadStore interface {
	CreateThread(ctx context.Context, t Thread) (Thread, error)
	GetThread(ctx context.Context, id string) (Thread, bool, error)
}

// RunStore persists runs (external capability).
type RunStore interface {
	CreateRun(ctx context.Context, r Run) (Run, error)
	GetRun(ctx context.Context, id string) (Run, bool, error)
	UpdateRun(ctx context.Context, id string, patch func(*Run)) (Run, error)
}
