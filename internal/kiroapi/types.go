// Package kiroapi defines the Kiro generateAssistantResponse request shape
// (spec.md §3 "Kiro ConversationState"), grounded on the payload wrapping
// in the teacher's internal/runtime/executor/kiro_executor.go
// buildKiroPayload, generalized from a pass-through wrapper into the full
// typed ConversationState this proxy constructs from an Anthropic request.
package kiroapi

import "encoding/json"

// AgentTaskType and ChatTriggerType are fixed per spec.md §3.
const (
	AgentTaskTypeVibe       = "vibe"
	ChatTriggerTypeManual   = "MANUAL"
	OriginAIEditor          = "AI_EDITOR"
	SourceFeatureDev        = "FeatureDev"
	DefaultProfileArnSource = ""
)

// GenerateAssistantResponseRequest is the full request body POSTed to
// Kiro's generateAssistantResponse API.
type GenerateAssistantResponseRequest struct {
	ConversationState   ConversationState `json:"conversationState"`
	ProfileArn          string            `json:"profileArn,omitempty"`
	Source              string            `json:"source,omitempty"`
	Origin              string            `json:"origin,omitempty"`
	AgentContinuationID string            `json:"agentContinuationId,omitempty"`
}

// ConversationState mirrors spec.md §3's ConversationState.
type ConversationState struct {
	ConversationID  string    `json:"conversationId"`
	AgentTaskType   string    `json:"agentTaskType"`
	ChatTriggerType string    `json:"chatTriggerType"`
	CurrentMessage  Message   `json:"currentMessage"`
	History         []Message `json:"history,omitempty"`
}

// Message is a tagged union: exactly one of UserInputMessage or
// AssistantResponseMessage is set, matching how the wire format alternates
// the two shapes rather than using a discriminant field.
type Message struct {
	UserInputMessage        *UserInputMessage        `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserInputMessage carries a user turn, optionally with tool specs, tool
// results, and the conversation's active model id.
type UserInputMessage struct {
	Content                string                  `json:"content"`
	ModelID                string                  `json:"modelId,omitempty"`
	Origin                 string                  `json:"origin,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// UserInputMessageContext carries tool specifications (offered to the
// model) and tool results (answers to the model's prior tool_use calls).
type UserInputMessageContext struct {
	Tools       []ToolSpec   `json:"tools,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	ToolChoice  *ToolChoice  `json:"toolChoice,omitempty"`
}

// ToolChoice is the best-effort mapping of Anthropic's tool_choice field
// (spec.md §4.D): {auto: {}, specificToolId: name} when a specific tool is
// forced.
type ToolChoice struct {
	Auto           *struct{} `json:"auto,omitempty"`
	SpecificToolID string    `json:"specificToolId,omitempty"`
}

// ToolSpec wraps one Anthropic tool definition for Kiro.
type ToolSpec struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification is the inner tool shape Kiro expects.
type ToolSpecification struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema wraps a JSON schema under a "json" key, per spec.md §4.D.
type ToolInputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// ToolResult answers a prior tool_use call.
type ToolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Status    string           `json:"status"`
	Content   []ToolResultText `json:"content,omitempty"`
}

// ToolResultText is Kiro's nested text-content shape for a tool result.
type ToolResultText struct {
	Text string `json:"text,omitempty"`
}

// AssistantResponseMessage carries a prior assistant turn, including any
// tool calls it made.
type AssistantResponseMessage struct {
	Content   string     `json:"content"`
	ToolUses  []ToolUse  `json:"toolUses,omitempty"`
}

// ToolUse is one tool invocation made by a prior assistant turn.
type ToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}
