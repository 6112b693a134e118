package agent

import (
	"context"

	"github.com/2389-research/agentkit/llm"
)

// LLMClient is the external capability the core calls to talk to a language
// model. It is deliberately narrow: the wire protocol behind it (HTTP,
// provider SDKs, retries) is out of scope for the core (spec §1) and lives in
// the llm package's Client/ProviderAdapter.
type LLMClient interface {
	// Stream requests a streaming response; the returned channel is a lazy,
	// finite, non-restartable sequence of chunks (spec §4.2, §9).
	Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error)
	// Complete requests a non-streaming response.
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	// FormatTools projects core tool definitions into the provider-specific
	// tool shape understood by Stream/Complete.
	FormatTools(defs []ToolDefinition) []llm.ToolDefinition
	// CountTokens is a rough, tolerant estimate (spec §9 open question: the
	// context manager must be tolerant to overcounting).
	CountTokens(ctx context.Context, messages []llm.Message, model string) (int, error)
}
