// ABOUTME: Shared application state for the HTTP facade: stores, loop, and tool provider wiring.
package server

import (
	"github.com/2389-research/agentkit/agent"
)

// AppState bundles the collaborators every handler needs, grounded on the
// teacher's web.Server/server.AppState convention of a single struct
// threaded into every handler factory.
type AppState struct {
	Loop         *agent.Loop
	LLMClient    agent.LLMClient
	ToolProvider agent.ToolProvider

	Threads  agent.ThreadStore
	Messages agent.MessageStore
	Runs     agent.RunStore

	// DefaultRunConfig seeds new runs; per-request overrides (model,
	// auth) layer on top of it.
	DefaultRunConfig agent.RunConfig
}
