package agent

import (
	"context"
	"strings"
	"testing"
	"time"
)

func historyOf(threadID string, n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Message{
			ThreadID:  threadID,
			Role:      RoleUser,
			Content:   "turn",
			CreatedAt: time.Now(),
		})
	}
	return out
}

func TestContextManagerPrepareUnderThreshold(t *testing.T) {
	cfg := ContextManagerConfig{TokenThreshold: 8000, SummaryTargetTokens: 500, ReservedTokens: 1000}
	client := &scriptedLLMClient{} // CountTokens default: len(messages), well under 8000
	cm, err := NewContextManager(cfg, client)
	if err != nil {
		t.Fatalf("NewContextManager: %v", err)
	}

	history := historyOf("t1", 4)
	msgs, summary, err := cm.Prepare(context.Background(), "be helpful", history, nil, "test-model")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if summary != nil {
		t.Fatalf("expected no summarization below threshold, got %+v", summary)
	}
	if len(msgs) != 1+len(history) { // system prompt + history
		t.Errorf("len(msgs) = %d, want %d", len(msgs), 1+len(history))
	}
}

func TestContextManagerPrepareSummarizesOnOverflow(t *testing.T) {
	cfg := ContextManagerConfig{TokenThreshold: 100, SummaryTargetTokens: 10, ReservedTokens: 5}
	client := &scriptedLLMClient{
		tokenCounts:  []int{150, 50},
		completeText: "condensed history",
	}
	cm, err := NewContextManager(cfg, client)
	if err != nil {
		t.Fatalf("NewContextManager: %v", err)
	}

	history := historyOf("t1", 10)
	msgs, summary, err := cm.Prepare(context.Background(), "be helpful", history, nil, "test-model")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summarization to run once the token threshold is exceeded")
	}
	if !strings.Contains(summary.Content, "condensed history") {
		t.Errorf("summary content = %q, want it to contain the LLM's condensed text", summary.Content)
	}
	if summary.Role != RoleSystem || !summary.Metadata.Summary {
		t.Errorf("summary message not tagged as a system summary: %+v", summary)
	}

	// The verbatim tail plus the summary message plus the system prompt
	// should be far fewer messages than the full untouched history.
	if len(msgs) >= 1+len(history) {
		t.Errorf("expected a reduced message count after summarization, got %d", len(msgs))
	}
}

func TestContextManagerPrepareNeverDropsCurrentCycle(t *testing.T) {
	cfg := ContextManagerConfig{TokenThreshold: 100, SummaryTargetTokens: 10, ReservedTokens: 5, VerbatimTailTurns: 1}
	// CountTokens never reports under budget, forcing the shrink loop to run
	// until the verbatim tail from priorHistory is fully consumed.
	client := &scriptedLLMClient{tokenCounts: []int{500, 400, 300, 200}, completeText: "condensed"}
	cm, err := NewContextManager(cfg, client)
	if err != nil {
		t.Fatalf("NewContextManager: %v", err)
	}

	history := historyOf("t1", 10)
	currentCycle := []Message{{ThreadID: "t1", Role: RoleUser, Content: "what about now"}}

	msgs, summary, err := cm.Prepare(context.Background(), "be helpful", history, currentCycle, "test-model")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summarization to run once the token threshold is exceeded")
	}

	found := false
	for _, m := range msgs {
		for _, part := range m.Content {
			if part.Text == "what about now" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected the current cycle's message to survive even after the verbatim tail was exhausted")
	}
}

func TestContextManagerPrepareReusesExistingSummary(t *testing.T) {
	cfg := ContextManagerConfig{TokenThreshold: 100, SummaryTargetTokens: 10, ReservedTokens: 5, VerbatimTailTurns: 2}
	client := &scriptedLLMClient{tokenCounts: []int{150, 50}, completeText: "extended summary"}
	cm, err := NewContextManager(cfg, client)
	if err != nil {
		t.Fatalf("NewContextManager: %v", err)
	}

	history := append([]Message{
		{ThreadID: "t1", Role: RoleSystem, Content: "[Context Summary]\nearlier turns condensed", Metadata: MessageMetadata{Summary: true}},
	}, historyOf("t1", 5)...)

	_, summary, err := cm.Prepare(context.Background(), "be helpful", history, nil, "test-model")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if summary == nil {
		t.Fatal("expected a refreshed summary once the token threshold is exceeded again")
	}
	if !strings.Contains(summary.Content, "extended summary") {
		t.Errorf("summary content = %q, want it to contain the LLM's extended text", summary.Content)
	}
}

func TestContextManagerPrepareKeepsVerbatimTailWhenHistoryTooShortToSummarize(t *testing.T) {
	cfg := ContextManagerConfig{TokenThreshold: 100, SummaryTargetTokens: 10, ReservedTokens: 5, VerbatimTailTurns: 10}
	client := &scriptedLLMClient{tokenCounts: []int{150}}
	cm, err := NewContextManager(cfg, client)
	if err != nil {
		t.Fatalf("NewContextManager: %v", err)
	}

	history := historyOf("t1", 3) // shorter than VerbatimTailTurns
	msgs, summary, err := cm.Prepare(context.Background(), "", history, nil, "test-model")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if summary != nil {
		t.Error("expected no summarization when the tail would consume the whole history")
	}
	if len(msgs) != len(history) {
		t.Errorf("len(msgs) = %d, want %d (history sent as-is)", len(msgs), len(history))
	}
}

func TestDetectLoopFindsRepeatingSingleToolCall(t *testing.T) {
	threadID := "t1"
	var history []Message
	for i := 0; i < loopDetectionWindow; i++ {
		history = append(history, Message{
			ThreadID: threadID,
			Role:     RoleAssistant,
			Metadata: MessageMetadata{ToolCalls: []ToolCallRecord{{Name: "same", Arguments: []byte(`{}`)}}},
		})
	}
	if !DetectLoop(history, loopDetectionWindow) {
		t.Error("expected DetectLoop to report a repeating pattern")
	}
}

func TestDetectLoopNoRepetitionWhenArgumentsVary(t *testing.T) {
	threadID := "t1"
	var history []Message
	for i := 0; i < loopDetectionWindow; i++ {
		history = append(history, Message{
			ThreadID: threadID,
			Role:     RoleAssistant,
			Metadata: MessageMetadata{ToolCalls: []ToolCallRecord{{Name: "same", Arguments: []byte(`{"i":` + string(rune('0'+i)) + `}`)}}},
		})
	}
	if DetectLoop(history, loopDetectionWindow) {
		t.Error("expected DetectLoop to report no pattern when call arguments differ")
	}
}
