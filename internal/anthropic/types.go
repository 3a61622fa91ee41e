// Package anthropic defines the subset of the Messages API request and
// response shapes this proxy translates, grounded on the JSON field names
// the teacher's internal/translator/kiro/claude package treats as
// pass-through Claude format.
package anthropic

import "encoding/json"

// Request is an incoming POST /v1/messages body.
type Request struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// Metadata carries the optional client-supplied session identifier used to
// derive a stable Kiro conversationId (spec.md §4.D).
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Thinking toggles extended thinking mode and its token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool is an Anthropic tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is the tagged union of Anthropic content block types. Only
// the fields relevant to a given Type are populated after unmarshaling.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image (pass-through only, not forwarded to Kiro)
	Source json.RawMessage `json:"source,omitempty"`
}

// ParseContentBlocks decodes a message's Content field, which may be a bare
// string (shorthand for a single text block) or an array of blocks.
func ParseContentBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := firstNonSpace(raw)
	if trimmed == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []ContentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func firstNonSpace(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// Usage reports input/output token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FinalMessage is the full Messages API result returned for a
// `stream: false` request (spec.md §4.G).
type FinalMessage struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// MessageStart is the "message" object nested in a message_start SSE event.
type MessageStart struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []any          `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// StringContent renders a content block array as a single string by joining
// its text blocks in document order; blocks of any other type (thinking,
// tool_use, image, ...) are skipped. Used for the system prompt and for
// tool_result content.
func StringContent(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out += b.Text
		}
	}
	return out
}
