package translator

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kiroproxy/kiroproxy/internal/anthropic"
	"github.com/kiroproxy/kiroproxy/internal/eventstream"
	"github.com/kiroproxy/kiroproxy/internal/sse"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// ResponseTranslator is the stateful transducer described in spec.md §4.E:
// it consumes the event-stream codec's typed events and drives an
// sse.Writer through the matching SSE event sequence.
type ResponseTranslator struct {
	w *sse.Writer

	started      bool
	state        blockKind
	idx          int
	activeToolID string

	lastClosed   blockKind
	maxTokens    bool
	inputTokens  int
	outputTokens int
}

// NewResponseTranslator builds a translator writing to w. The model passed
// to Start is echoed into message_start.
func NewResponseTranslator(w *sse.Writer) *ResponseTranslator {
	return &ResponseTranslator{w: w}
}

// Start emits message_start. Per spec.md §9 Open Question (a), a fresh
// Anthropic message id is always generated rather than echoing Kiro's
// messageId, since the teacher's source captures but never propagates it.
func (t *ResponseTranslator) Start(model string) error {
	t.started = true
	return t.w.MessageStart(anthropic.MessageStart{
		ID:      "msg_" + uuid.NewString(),
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: []any{},
		Usage:   anthropic.Usage{},
	})
}

// Feed advances the state machine by one codec event.
func (t *ResponseTranslator) Feed(ev eventstream.Event) error {
	if !t.started {
		return fmt.Errorf("translator: Start must be called before Feed")
	}

	switch ev.Type {
	case "assistantResponseEvent":
		return t.feedText(ev.AssistantText)

	case "toolUseEvent":
		return t.feedToolUse(ev.ToolUse)

	case "contextUsageEvent":
		t.inputTokens += ev.Usage.InputTokens
		t.outputTokens += ev.Usage.OutputTokens
		return nil

	default:
		if ev.Exception.Code != "" || ev.Exception.Message != "" {
			if ev.Exception.IsMaxTokens() {
				t.maxTokens = true
			}
		}
		return nil
	}
}

func (t *ResponseTranslator) feedText(text string) error {
	if text == "" {
		return nil
	}
	if t.state != blockText {
		if err := t.closeActive(); err != nil {
			return err
		}
		t.idx = t.w.NextIndex()
		t.state = blockText
		if err := t.w.ContentBlockStart(t.idx, map[string]any{"type": "text", "text": ""}); err != nil {
			return err
		}
	}
	return t.w.ContentBlockDelta(t.idx, sse.NewTextDelta(text))
}

func (t *ResponseTranslator) feedToolUse(tu eventstream.ToolUseEvent) error {
	if t.state != blockTool || t.activeToolID != tu.ToolUseID {
		if err := t.closeActive(); err != nil {
			return err
		}
		t.idx = t.w.NextIndex()
		t.state = blockTool
		t.activeToolID = tu.ToolUseID
		if err := t.w.ContentBlockStart(t.idx, map[string]any{
			"type":  "tool_use",
			"id":    tu.ToolUseID,
			"name":  tu.Name,
			"input": map[string]any{},
		}); err != nil {
			return err
		}
	}
	if tu.Input != "" {
		if err := t.w.ContentBlockDelta(t.idx, sse.NewInputJSONDelta(tu.Input)); err != nil {
			return err
		}
	}
	if tu.Stop {
		return t.closeActive()
	}
	return nil
}

func (t *ResponseTranslator) closeActive() error {
	if t.state == blockNone {
		return nil
	}
	err := t.w.ContentBlockStop(t.idx)
	t.lastClosed = t.state
	t.state = blockNone
	t.activeToolID = ""
	return err
}

// Finish closes any open block and emits message_delta/message_stop,
// computing stop_reason per spec.md §4.E: tool_use only when the final
// block was a tool, not merely whenever a tool block appeared anywhere in
// the turn.
func (t *ResponseTranslator) Finish() error {
	if err := t.closeActive(); err != nil {
		return err
	}
	stopReason := "end_turn"
	switch {
	case t.maxTokens:
		stopReason = "max_tokens"
	case t.lastClosed == blockTool:
		stopReason = "tool_use"
	}
	if err := t.w.MessageDelta(stopReason, anthropic.Usage{InputTokens: t.inputTokens, OutputTokens: t.outputTokens}); err != nil {
		return err
	}
	return t.w.MessageStop()
}

// FinishError closes any open block and emits a synthetic message_delta
// with stop_reason "error" followed by message_stop, used when the
// upstream event stream fails mid-response after message_start has
// already been sent to the client (spec.md §7).
func (t *ResponseTranslator) FinishError() error {
	_ = t.closeActive()
	if err := t.w.MessageDelta("error", anthropic.Usage{InputTokens: t.inputTokens, OutputTokens: t.outputTokens}); err != nil {
		return err
	}
	return t.w.MessageStop()
}
