package eventstream

import (
	"encoding/json"
	"strings"
)

// Event is the typed, decoded form of a Frame's JSON payload, tagged by the
// ":event-type" header (spec.md §3 "Event Stream Event").
type Event struct {
	Type string

	// AssistantText is populated for "assistantResponseEvent".
	AssistantText string

	// ToolUse is populated for "toolUseEvent".
	ToolUse ToolUseEvent

	// Usage is populated for "contextUsageEvent".
	Usage UsageEvent

	// Metering is populated for "meteringEvent".
	Metering json.RawMessage

	// Exception is populated for message-type "exception" or an
	// "*Exception"/"error" event type.
	Exception ExceptionEvent

	// Ignored is true for an event type not recognized above. Such an event
	// is returned to the caller rather than dropped or reported as an
	// error; this package keeps no count of ignored events.
	Ignored bool
}

// ToolUseEvent mirrors Kiro's toolUseEvent payload. One tool call may span
// several events sharing ToolUseID; Stop marks the final fragment
// (spec.md §3).
type ToolUseEvent struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     string `json:"input"`
	Stop      bool   `json:"stop"`
}

// UsageEvent mirrors Kiro's contextUsageEvent payload.
type UsageEvent struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// ExceptionEvent mirrors Kiro's exception/error payload shape.
type ExceptionEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// assistantResponseEventPayload is the outer shape Kiro wraps an assistant
// text chunk in: {"content": "..."}, occasionally with a stop reason.
type assistantResponseEventPayload struct {
	Content    string `json:"content"`
	StopReason string `json:"stopReason"`
	MessageID  string `json:"messageId"`
}

// maxTokensMarkers are the stop-reason / exception-message substrings that
// indicate the upstream truncated generation at the token budget
// (spec.md §4.E: "exception(maxTokens) -> END").
var maxTokensMarkers = []string{"MAX_TOKENS", "max_tokens", "maxTokens"}

// ParseEvent interprets a Frame's payload according to its EventType. A
// JSON-decode failure on a recognized type is reported as an error rather
// than silently treated as "ignored", since it indicates protocol drift we
// want surfaced.
func ParseEvent(f Frame) (Event, error) {
	if f.MessageType == "exception" {
		var exc ExceptionEvent
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &exc); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.EventType, Exception: exc}, nil
	}

	switch f.EventType {
	case "assistantResponseEvent":
		var p assistantResponseEventPayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.EventType, AssistantText: p.Content}, nil

	case "toolUseEvent":
		var tu ToolUseEvent
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &tu); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.EventType, ToolUse: tu}, nil

	case "contextUsageEvent":
		var u UsageEvent
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &u); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.EventType, Usage: u}, nil

	case "meteringEvent":
		return Event{Type: f.EventType, Metering: append(json.RawMessage(nil), f.Payload...)}, nil

	case "error", "exception", "internalServerException", "invalidStateEvent":
		var exc ExceptionEvent
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &exc); err != nil {
				return Event{}, err
			}
		}
		return Event{Type: f.EventType, Exception: exc}, nil

	default:
		return Event{Type: f.EventType, Ignored: true}, nil
	}
}

// IsMaxTokens reports whether an exception event represents an upstream
// max-tokens truncation, matching on the conservative marker set carried
// from spec.md §9 Open Question (b): expand only on observed evidence, never
// guess.
func (e ExceptionEvent) IsMaxTokens() bool {
	for _, marker := range maxTokensMarkers {
		if strings.Contains(e.Reason, marker) || strings.Contains(e.Message, marker) || strings.Contains(e.Code, marker) {
			return true
		}
	}
	return false
}
