package translator

import (
	"github.com/google/uuid"
	"github.com/kiroproxy/kiroproxy/internal/anthropic"
	"github.com/kiroproxy/kiroproxy/internal/eventstream"
)

// NonStreamCollector accumulates the same codec events ResponseTranslator
// streams, but buffers them into a single Anthropic Messages result
// instead of emitting SSE, for the `stream: false` branch of the front
// handler (spec.md §4.G: "buffering the full translated event sequence and
// emitting a single JSON response shaped like Anthropic's non-stream
// Messages result").
type NonStreamCollector struct {
	id    string
	model string

	blocks       []anthropic.ContentBlock
	state        blockKind
	activeToolID string
	toolInput    string

	lastClosed   blockKind
	maxTokens    bool
	inputTokens  int
	outputTokens int
}

// NewNonStreamCollector builds a collector that will report model in the
// final result.
func NewNonStreamCollector(model string) *NonStreamCollector {
	return &NonStreamCollector{id: "msg_" + uuid.NewString(), model: model}
}

// Feed advances the collector by one codec event.
func (c *NonStreamCollector) Feed(ev eventstream.Event) {
	switch ev.Type {
	case "assistantResponseEvent":
		c.feedText(ev.AssistantText)
	case "toolUseEvent":
		c.feedToolUse(ev.ToolUse)
	case "contextUsageEvent":
		c.inputTokens += ev.Usage.InputTokens
		c.outputTokens += ev.Usage.OutputTokens
	default:
		if ev.Exception.IsMaxTokens() {
			c.maxTokens = true
		}
	}
}

func (c *NonStreamCollector) feedText(text string) {
	if text == "" {
		return
	}
	if c.state != blockText {
		c.closeActive()
		c.blocks = append(c.blocks, anthropic.ContentBlock{Type: "text"})
		c.state = blockText
	}
	last := &c.blocks[len(c.blocks)-1]
	last.Text += text
}

func (c *NonStreamCollector) feedToolUse(tu eventstream.ToolUseEvent) {
	if c.state != blockTool || c.activeToolID != tu.ToolUseID {
		c.closeActive()
		c.blocks = append(c.blocks, anthropic.ContentBlock{Type: "tool_use", ID: tu.ToolUseID, Name: tu.Name})
		c.state = blockTool
		c.activeToolID = tu.ToolUseID
		c.toolInput = ""
	}
	c.toolInput += tu.Input
	if tu.Stop {
		c.closeActive()
	}
}

func (c *NonStreamCollector) closeActive() {
	if c.state == blockNone {
		return
	}
	if c.state == blockTool {
		last := &c.blocks[len(c.blocks)-1]
		input := c.toolInput
		if input == "" {
			input = "{}"
		}
		last.Input = []byte(input)
		c.toolInput = ""
	}
	c.lastClosed = c.state
	c.state = blockNone
	c.activeToolID = ""
}

// Finish closes any open block and returns the final Anthropic message.
// stop_reason is tool_use only when the final block was a tool (spec.md
// §4.E), not merely whenever a tool block appeared anywhere in the turn.
func (c *NonStreamCollector) Finish() *anthropic.FinalMessage {
	c.closeActive()
	stopReason := "end_turn"
	switch {
	case c.maxTokens:
		stopReason = "max_tokens"
	case c.lastClosed == blockTool:
		stopReason = "tool_use"
	}
	content := c.blocks
	if content == nil {
		content = []anthropic.ContentBlock{}
	}
	return &anthropic.FinalMessage{
		ID:         c.id,
		Type:       "message",
		Role:       "assistant",
		Model:      c.model,
		Content:    content,
		StopReason: stopReason,
		Usage:      anthropic.Usage{InputTokens: c.inputTokens, OutputTokens: c.outputTokens},
	}
}
