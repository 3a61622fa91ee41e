// Package sse renders the Anthropic Messages streaming event sequence as
// text/event-stream frames (spec.md §4.A "SSE encoder"), grounded on the
// chunk-writing shape of kiro_executor.go's stream loop but generalized
// into a standalone, stateful encoder.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// ErrNoStart is returned when a delta or stop is requested for a block
// index whose start was never emitted (spec.md §4.A: "refuses to emit a
// delta or stop for an index whose start was not emitted").
var ErrNoStart = fmt.Errorf("sse: content_block_start not yet emitted for this index")

// Writer renders named SSE events to an underlying buffered writer and
// tracks per-index block lifecycle.
type Writer struct {
	w       *bufio.Writer
	started map[int]bool
	nextIdx int
}

// NewWriter wraps w. Callers are responsible for flushing the HTTP
// ResponseWriter after each Writer method that must reach the client
// immediately (the front handler does this per spec.md §4.G).
func NewWriter(w *bufio.Writer) *Writer {
	return &Writer{w: w, started: make(map[int]bool)}
}

// NextIndex allocates the next monotonically increasing content-block
// index (spec.md §4.A: "monotonically increasing block index").
func (s *Writer) NextIndex() int {
	idx := s.nextIdx
	s.nextIdx++
	return idx
}

// Event writes one named SSE frame with a single-line JSON payload.
func (s *Writer) Event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: ", name); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := s.w.WriteString("\n\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// MessageStart emits "message_start".
func (s *Writer) MessageStart(message any) error {
	return s.Event("message_start", map[string]any{"type": "message_start", "message": message})
}

// ContentBlockStart emits "content_block_start" for idx and marks it
// started, unblocking subsequent deltas/stop.
func (s *Writer) ContentBlockStart(idx int, block any) error {
	s.started[idx] = true
	return s.Event("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         idx,
		"content_block": block,
	})
}

// ContentBlockDelta emits "content_block_delta" for idx.
func (s *Writer) ContentBlockDelta(idx int, delta any) error {
	if !s.started[idx] {
		return fmt.Errorf("%w: index %d", ErrNoStart, idx)
	}
	return s.Event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": idx,
		"delta": delta,
	})
}

// ContentBlockStop emits "content_block_stop" for idx.
func (s *Writer) ContentBlockStop(idx int) error {
	if !s.started[idx] {
		return fmt.Errorf("%w: index %d", ErrNoStart, idx)
	}
	return s.Event("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

// MessageDelta emits "message_delta" carrying the final stop reason and
// accumulated usage.
func (s *Writer) MessageDelta(stopReason string, usage any) error {
	return s.Event("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": usage,
	})
}

// MessageStop emits "message_stop".
func (s *Writer) MessageStop() error {
	return s.Event("message_stop", map[string]any{"type": "message_stop"})
}

// TextDelta is the {type:"text_delta", text} shape for ContentBlockDelta.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextDelta builds a text_delta payload.
func NewTextDelta(text string) TextDelta {
	return TextDelta{Type: "text_delta", Text: text}
}

// InputJSONDelta is the {type:"input_json_delta", partial_json} shape for
// tool-use input streaming (spec.md §4.E).
type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

// NewInputJSONDelta builds an input_json_delta payload.
func NewInputJSONDelta(partial string) InputJSONDelta {
	return InputJSONDelta{Type: "input_json_delta", PartialJSON: partial}
}
