package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389-research/agentkit/llm"
)

// defaultHistoryWindow bounds how many persisted messages the Context
// Manager considers before applying its budget, when
// ContextManagerConfig.HistoryWindow is unset.
const defaultHistoryWindow = 500

// defaultVerbatimTailTurns is how many of the most recent messages are always
// kept out of the summarizable prefix when unset.
const defaultVerbatimTailTurns = 6

// ContextManager enforces a run's token budget by condensing older history
// into an LLM-generated summary once the conversation crosses
// TokenThreshold, always preserving the system prompt and the current
// cycle's tail verbatim (spec §4.4).
type ContextManager struct {
	Config ContextManagerConfig
	Client LLMClient
}

// NewContextManager validates cfg and returns a ContextManager, or an error
// if the construction-time invariant is violated.
func NewContextManager(cfg ContextManagerConfig, client LLMClient) (*ContextManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ContextManager{Config: cfg, Client: client}, nil
}

// Prepare turns a thread's prior persisted messages, plus this iteration's
// current-cycle messages and a system prompt, into the llm.Message slice a
// run should actually send, applying summarization when the estimated token
// count exceeds the configured threshold. currentCycle is always appended
// verbatim after the (possibly summarized) prior history: it is never part
// of priorHistory's summarizable prefix or subject to the verbatim-tail
// shrink loop below, so the current cycle can never be dropped or condensed
// regardless of how VerbatimTailTurns is configured (spec §4.4). Prepare
// returns the messages to send and, when summarization ran, the new summary
// Message the caller should persist in place of the messages it replaces.
func (cm *ContextManager) Prepare(ctx context.Context, systemPrompt string, priorHistory []Message, currentCycle []Message, model string) ([]llm.Message, *Message, error) {
	window := cm.Config.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	if len(priorHistory) > window {
		priorHistory = priorHistory[len(priorHistory)-window:]
	}

	// A prior turn may have already left a summary message somewhere in
	// priorHistory (Metadata.Summary, persisted wherever in the thread it
	// was created). The summary stands in for every raw message before it,
	// so those raw messages are never resent once a summary exists for
	// them; only the most recent summary and whatever has been appended
	// since are live context (spec §4.4 step 2 — reuse/extend, not re-derive).
	var existingSummary *Message
	effective := priorHistory
	if idx := lastSummaryIndex(priorHistory); idx >= 0 {
		seed := priorHistory[idx]
		existingSummary = &seed
		effective = priorHistory[idx+1:]
	}

	full := make([]Message, 0, 1+len(effective)+len(currentCycle))
	if existingSummary != nil {
		full = append(full, *existingSummary)
	}
	full = append(full, effective...)
	full = append(full, currentCycle...)

	msgs := toLLMMessages(systemPrompt, full)

	count, err := cm.Client.CountTokens(ctx, msgs, model)
	if err != nil {
		return nil, nil, &CoreError{Kind: ErrLLM, Message: "counting tokens for context budget", Cause: err}
	}
	if count <= cm.Config.TokenThreshold {
		return msgs, nil, nil
	}

	tail := cm.Config.VerbatimTailTurns
	if tail <= 0 {
		tail = defaultVerbatimTailTurns
	}
	if tail > len(effective) {
		tail = len(effective)
	}
	prefix := effective[:len(effective)-tail]
	verbatimTail := effective[len(effective)-tail:]

	if len(prefix) == 0 && existingSummary == nil {
		// Nothing to condense without dropping the current cycle, which the
		// spec forbids. Send as-is.
		return msgs, nil, nil
	}

	// summaryMsg is what gets sent this turn; newSummary is what the caller
	// should persist. When there is nothing new to fold into an existing
	// summary, reuse it unchanged and skip both the LLM call and the
	// persist (avoids re-writing an identical summary message every turn).
	var summaryMsg Message
	var newSummary *Message
	if len(prefix) > 0 {
		summaryText, err := cm.summarize(ctx, existingSummary, prefix, model)
		if err != nil {
			return nil, nil, err
		}
		summaryMsg = Message{
			ThreadID: firstThreadID(full),
			Role:     RoleSystem,
			Content:  summaryText,
			Metadata: MessageMetadata{Summary: true},
		}
		newSummary = &summaryMsg
	} else {
		summaryMsg = *existingSummary
	}

	buildReduced := func() []Message {
		reduced := make([]Message, 0, 1+len(verbatimTail)+len(currentCycle))
		reduced = append(reduced, summaryMsg)
		reduced = append(reduced, verbatimTail...)
		reduced = append(reduced, currentCycle...)
		return reduced
	}

	out := toLLMMessages(systemPrompt, buildReduced())

	// Fallback: if summarization didn't bring us under budget (reserved
	// tokens included), keep trimming the oldest of the verbatim tail until
	// it does, or until the tail is empty. currentCycle is rebuilt into
	// every candidate but is never itself trimmed.
	for {
		recount, cerr := cm.Client.CountTokens(ctx, out, model)
		if cerr != nil {
			return nil, nil, &CoreError{Kind: ErrLLM, Message: "counting tokens after summarization", Cause: cerr}
		}
		if recount+cm.Config.ReservedTokens <= cm.Config.TokenThreshold || len(verbatimTail) == 0 {
			break
		}
		verbatimTail = verbatimTail[1:]
		out = toLLMMessages(systemPrompt, buildReduced())
	}

	return out, newSummary, nil
}

// lastSummaryIndex returns the index of the most recent Metadata.Summary
// message in history, or -1 if none is present.
func lastSummaryIndex(history []Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Metadata.Summary {
			return i
		}
	}
	return -1
}

// summarize asks the LLM client to condense turns into a prose summary
// targeting SummaryTargetTokens. When existingSummary is non-nil its text is
// folded in as already-condensed prior context, so the model extends it
// rather than re-summarizing from the raw transcript each time. Failures are
// wrapped as ErrLLM.
func (cm *ContextManager) summarize(ctx context.Context, existingSummary *Message, turns []Message, model string) (string, error) {
	if len(turns) == 0 {
		if existingSummary != nil {
			return existingSummary.Content, nil
		}
		return "[Context Summary]\n(no earlier turns)", nil
	}

	var transcript strings.Builder
	if existingSummary != nil {
		transcript.WriteString(existingSummary.Content)
		transcript.WriteString("\n")
	}
	for _, m := range turns {
		transcript.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}

	verb := "Summarize"
	if existingSummary != nil {
		verb = "Extend the existing summary below with"
	}
	prompt := fmt.Sprintf(
		"%s the following conversation history in approximately %d tokens. "+
			"Preserve facts, decisions, open questions, and outstanding tool results a continuation would need. "+
			"Do not invent content that is not present below.\n\n%s",
		verb, cm.Config.SummaryTargetTokens, transcript.String(),
	)

	req := llm.Request{
		Model: model,
		Messages: []llm.Message{
			llm.UserMessage(prompt),
		},
	}

	resp, err := cm.Client.Complete(ctx, req)
	if err != nil {
		return "", &CoreError{Kind: ErrLLM, Message: "summarization call failed", Cause: err}
	}

	text := resp.TextContent()
	if text == "" {
		return "[Context Summary]\n(summarization returned no content)", nil
	}
	return "[Context Summary]\n" + text, nil
}

// toLLMMessages projects persisted Messages (plus a synthesized system
// message, if non-empty) into llm.Message, in chronological order.
func toLLMMessages(systemPrompt string, history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, llm.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			out = append(out, llm.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, llm.UserMessage(m.Content))
		case RoleTool:
			out = append(out, llm.ToolResultMessage(m.Metadata.ToolCallID, m.Content, false))
		case RoleAssistant:
			parts := make([]llm.ContentPart, 0, 1+len(m.Metadata.ToolCalls))
			if m.Content != "" {
				parts = append(parts, llm.TextPart(m.Content))
			}
			for _, tc := range m.Metadata.ToolCalls {
				parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: parts})
		}
	}
	return out
}

func firstThreadID(history []Message) string {
	if len(history) == 0 {
		return ""
	}
	return history[0].ThreadID
}

// DetectLoop reports whether the most recent windowSize tool calls in history
// form a repeating cycle of length 1, 2, or 3 — a supplementary guard against
// an agent oscillating between the same tool calls without making progress.
func DetectLoop(history []Message, windowSize int) bool {
	sigs := toolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func toolCallSignatures(history []Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		m := history[i]
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.Metadata.ToolCalls {
			sigs = append(sigs, tc.Name+":"+string(tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	if len(sigs) > count {
		sigs = sigs[len(sigs)-count:]
	}
	return sigs
}
