package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389-research/agentkit/llm"
)

// ParserEventKind discriminates a ParserEvent's payload (spec §4.2).
type ParserEventKind string

const (
	ParserTextChunk        ParserEventKind = "text_chunk"
	ParserToolCallDetected ParserEventKind = "tool_call_detected"
	ParserStreamEnd        ParserEventKind = "stream_end"
	ParserError            ParserEventKind = "error"
)

// ParserEvent is one event lazily produced by the Response Parser as it
// consumes an LLM chunk stream.
type ParserEvent struct {
	Kind         ParserEventKind
	Text         string
	ToolCall     *ToolCallRecord
	FinishReason string
	Usage        *llm.Usage
	Cause        error
}

// toolAccumulator gathers deltas for one in-flight tool call until it is
// finalized by a subsequent index change, a finish event, or end-of-stream.
type toolAccumulator struct {
	id   string
	name string
	args string
}

// ParseStream is a stream transducer from a lazy, finite, non-restartable
// LLM chunk sequence to the agent event sequence the run loop drives
// (spec §4.2, §9). The returned channel is closed after the last event.
func ParseStream(ctx context.Context, chunks <-chan llm.StreamEvent) <-chan ParserEvent {
	out := make(chan ParserEvent)

	go func() {
		defer close(out)

		var acc *toolAccumulator
		emit := func(e ParserEvent) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finalizeTool := func() bool {
			if acc == nil {
				return true
			}
			if acc.name == "" {
				return emit(ParserEvent{
					Kind:  ParserError,
					Cause: &CoreError{Kind: ErrValidation, Message: "stream ended with an unnamed tool call"},
				})
			}
			var parsed map[string]any
			if acc.args != "" {
				if err := json.Unmarshal([]byte(acc.args), &parsed); err != nil {
					ok := emit(ParserEvent{
						Kind:  ParserError,
						Cause: &CoreError{Kind: ErrValidation, Message: "malformed tool call arguments JSON", Cause: err},
					})
					acc = nil
					return ok
				}
			}
			rec := &ToolCallRecord{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(argsOrEmptyObject(acc.args))}
			acc = nil
			return emit(ParserEvent{Kind: ParserToolCallDetected, ToolCall: rec})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-chunks:
				if !ok {
					if !finalizeTool() {
						return
					}
					emit(ParserEvent{Kind: ParserStreamEnd})
					return
				}

				switch ev.Type {
				case llm.StreamTextDelta:
					if ev.Delta != "" {
						if !emit(ParserEvent{Kind: ParserTextChunk, Text: ev.Delta}) {
							return
						}
					}

				case llm.StreamToolStart:
					if !finalizeTool() {
						return
					}
					if ev.ToolCall != nil {
						acc = &toolAccumulator{id: ev.ToolCall.ID, name: ev.ToolCall.Name}
					} else {
						acc = &toolAccumulator{}
					}

				case llm.StreamToolDelta:
					if acc == nil {
						acc = &toolAccumulator{}
					}
					if ev.ToolCall != nil {
						if ev.ToolCall.ID != "" {
							acc.id = ev.ToolCall.ID
						}
						if ev.ToolCall.Name != "" {
							acc.name = ev.ToolCall.Name
						}
					}
					acc.args += ev.Delta

				case llm.StreamToolEnd:
					if !finalizeTool() {
						return
					}

				case llm.StreamFinish:
					if !finalizeTool() {
						return
					}
					reason := ""
					var usage *llm.Usage
					if ev.FinishReason != nil {
						reason = ev.FinishReason.Reason
					}
					if ev.Usage != nil {
						usage = ev.Usage
					}
					if !emit(ParserEvent{Kind: ParserStreamEnd, FinishReason: reason, Usage: usage}) {
						return
					}
					return

				case llm.StreamErrorEvt:
					cause := ev.Error
					if cause == nil {
						cause = fmt.Errorf("unknown stream error")
					}
					emit(ParserEvent{Kind: ParserError, Cause: &CoreError{Kind: ErrLLM, Message: "llm stream error", Cause: cause}})
					return

				default:
					// StreamStart, text/reasoning start-end, provider events:
					// nothing to accumulate at the agent boundary.
				}
			}
		}
	}()

	return out
}

func argsOrEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// ParseResponse decomposes a non-streaming LLM response into the same event
// sequence a streamed one would produce (text, then tool_call_detected(s),
// then stream_end), so downstream consumers need only one code path
// (spec §4.2).
func ParseResponse(resp *llm.Response) []ParserEvent {
	var events []ParserEvent

	if text := resp.TextContent(); text != "" {
		events = append(events, ParserEvent{Kind: ParserTextChunk, Text: text})
	}
	for _, tc := range resp.ToolCalls() {
		events = append(events, ParserEvent{
			Kind: ParserToolCallDetected,
			ToolCall: &ToolCallRecord{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: json.RawMessage(argsOrEmptyObject(string(tc.Arguments))),
			},
		})
	}
	events = append(events, ParserEvent{
		Kind:         ParserStreamEnd,
		FinishReason: resp.FinishReason.Reason,
		Usage:        &resp.Usage,
	})
	return events
}
