// Package translator converts between the Anthropic Messages API shapes
// (internal/anthropic) and Kiro's generateAssistantResponse shapes
// (internal/kiroapi), grounded on spec.md §4.D/§4.E and the teacher's
// internal/translator/kiro/claude package naming, generalized from a
// pass-through into the full bidirectional mapping this proxy performs.
package translator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kiroproxy/kiroproxy/internal/anthropic"
	"github.com/kiroproxy/kiroproxy/internal/apperr"
	"github.com/kiroproxy/kiroproxy/internal/kiroapi"
)

var sessionUUIDPattern = regexp.MustCompile(`session_([0-9a-fA-F-]{36})`)

// MapModel applies spec.md §4.D's case-insensitive substring mapping.
func MapModel(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "haiku"):
		return "claude-haiku-4.5"
	case strings.Contains(lower, "opus"):
		return "claude-opus-4.5"
	default:
		return "claude-sonnet-4.5"
	}
}

// ConversationID extracts a stable id from metadata.user_id
// ("…session_<UUID>") or generates a fresh one (spec.md §4.D).
func ConversationID(req *anthropic.Request) string {
	if req.Metadata != nil {
		if m := sessionUUIDPattern.FindStringSubmatch(req.Metadata.UserID); len(m) == 2 {
			return m[1]
		}
	}
	return uuid.NewString()
}

// ToKiroRequest builds the full Kiro ConversationState from an Anthropic
// request (spec.md §4.D).
func ToKiroRequest(req *anthropic.Request, profileArn string) (*kiroapi.GenerateAssistantResponseRequest, error) {
	if len(req.Messages) == 0 {
		return nil, apperr.InvalidRequest("messages must not be empty", nil)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return nil, apperr.InvalidRequest("the last message must have role=user", nil)
	}

	history, err := buildHistory(req)
	if err != nil {
		return nil, err
	}

	current, err := buildCurrentMessage(req, last)
	if err != nil {
		return nil, err
	}

	out := &kiroapi.GenerateAssistantResponseRequest{
		ConversationState: kiroapi.ConversationState{
			ConversationID:  ConversationID(req),
			AgentTaskType:   kiroapi.AgentTaskTypeVibe,
			ChatTriggerType: kiroapi.ChatTriggerTypeManual,
			CurrentMessage:  current,
			History:         history,
		},
		ProfileArn: profileArn,
		Source:     kiroapi.SourceFeatureDev,
		Origin:     kiroapi.OriginAIEditor,
	}
	return out, nil
}

// systemText joins an Anthropic "system" field's text parts, which may be a
// bare string or an array of text blocks.
func systemText(req *anthropic.Request) (string, error) {
	if len(req.System) == 0 {
		return "", nil
	}
	blocks, err := anthropic.ParseContentBlocks(req.System)
	if err != nil {
		return "", err
	}
	return anthropic.StringContent(blocks), nil
}

// buildHistory implements spec.md §4.D's normalization pipeline: merge
// consecutive same-role turns, enforce strict user/assistant alternation,
// space-fill tool-only assistant turns, and prepend the system-prompt pair.
func buildHistory(req *anthropic.Request) ([]kiroapi.Message, error) {
	var history []kiroapi.Message

	sysText, err := systemText(req)
	if err != nil {
		return nil, err
	}
	if sysText != "" {
		if req.Thinking != nil && req.Thinking.Type == "enabled" {
			sysText = fmt.Sprintf("<thinking_mode>extended</thinking_mode>\n<thinking_budget>%d</thinking_budget>\n%s", req.Thinking.BudgetTokens, sysText)
		}
		history = append(history,
			kiroapi.Message{UserInputMessage: &kiroapi.UserInputMessage{Content: sysText}},
			kiroapi.Message{AssistantResponseMessage: &kiroapi.AssistantResponseMessage{Content: "I will follow these instructions."}},
		)
	}

	turns := req.Messages[:len(req.Messages)-1]

	type mergedTurn struct {
		role     string
		text     string
		thinking string
		toolUses []kiroapi.ToolUse
	}
	var merged []mergedTurn
	for _, m := range turns {
		blocks, err := anthropic.ParseContentBlocks(m.Content)
		if err != nil {
			return nil, apperr.InvalidRequest("malformed message content", err)
		}
		var text, thinking string
		var toolUses []kiroapi.ToolUse
		for _, b := range blocks {
			switch b.Type {
			case "text":
				text += b.Text
			case "thinking":
				thinking += b.Thinking
			case "tool_use":
				toolUses = append(toolUses, kiroapi.ToolUse{ToolUseID: b.ID, Name: b.Name, Input: b.Input})
			}
		}

		if len(merged) > 0 && merged[len(merged)-1].role == m.Role {
			prev := &merged[len(merged)-1]
			prev.text += text
			prev.thinking += thinking
			prev.toolUses = append(prev.toolUses, toolUses...)
			continue
		}
		merged = append(merged, mergedTurn{role: m.Role, text: text, thinking: thinking, toolUses: toolUses})
	}

	if len(merged) > 0 && merged[len(merged)-1].role == "user" {
		merged = append(merged, mergedTurn{role: "assistant", text: "OK"})
	}

	for _, t := range merged {
		if t.role == "user" {
			history = append(history, kiroapi.Message{UserInputMessage: &kiroapi.UserInputMessage{Content: t.text}})
			continue
		}
		content := t.text
		if t.thinking != "" {
			content = fmt.Sprintf("<thinking>%s</thinking>\n\n%s", t.thinking, content)
		}
		if content == "" && len(t.toolUses) > 0 {
			content = " "
		}
		history = append(history, kiroapi.Message{AssistantResponseMessage: &kiroapi.AssistantResponseMessage{Content: content, ToolUses: t.toolUses}})
	}

	return history, nil
}

// buildCurrentMessage translates the final (must-be-user) message, including
// its tools, tool_choice, and any tool_result blocks (spec.md §4.D).
func buildCurrentMessage(req *anthropic.Request, last anthropic.Message) (kiroapi.Message, error) {
	blocks, err := anthropic.ParseContentBlocks(last.Content)
	if err != nil {
		return kiroapi.Message{}, apperr.InvalidRequest("malformed message content", err)
	}

	var text string
	var toolResults []kiroapi.ToolResult
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_result":
			status := "success"
			if b.IsError {
				status = "error"
			}
			resultBlocks, err := anthropic.ParseContentBlocks(b.Content)
			output := string(b.Content)
			if err == nil {
				output = anthropic.StringContent(resultBlocks)
			}
			toolResults = append(toolResults, kiroapi.ToolResult{
				ToolUseID: b.ToolUseID,
				Status:    status,
				Content:   []kiroapi.ToolResultText{{Text: output}},
			})
		}
	}

	ctx := buildContext(req, toolResults)
	if ctx != nil {
		ctx.ToolChoice = toolChoice(req.ToolChoice)
	}

	return kiroapi.Message{
		UserInputMessage: &kiroapi.UserInputMessage{
			Content:                 text,
			ModelID:                 MapModel(req.Model),
			Origin:                  kiroapi.OriginAIEditor,
			UserInputMessageContext: ctx,
		},
	}, nil
}

func buildContext(req *anthropic.Request, toolResults []kiroapi.ToolResult) *kiroapi.UserInputMessageContext {
	if len(req.Tools) == 0 && len(toolResults) == 0 {
		return nil
	}
	ctx := &kiroapi.UserInputMessageContext{ToolResults: toolResults}
	for _, t := range req.Tools {
		ctx.Tools = append(ctx.Tools, kiroapi.ToolSpec{
			ToolSpecification: kiroapi.ToolSpecification{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: kiroapi.ToolInputSchema{JSON: t.InputSchema},
			},
		})
	}
	return ctx
}

// toolChoice maps Anthropic's tool_choice field to Kiro's best-effort
// shape. Only the "tool" (force a specific tool) form is structurally
// expressible; anything else (auto, any, none) is dropped rather than
// guessed at (spec.md §4.D: "forwarded when structurally expressible").
func toolChoice(raw []byte) *kiroapi.ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil || tc.Type != "tool" || tc.Name == "" {
		return nil
	}
	return &kiroapi.ToolChoice{Auto: &struct{}{}, SpecificToolID: tc.Name}
}
