package translator_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kiroproxy/kiroproxy/internal/anthropic"
	"github.com/kiroproxy/kiroproxy/internal/eventstream"
	"github.com/kiroproxy/kiroproxy/internal/sse"
	"github.com/kiroproxy/kiroproxy/internal/translator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapModel(t *testing.T) {
	cases := map[string]string{
		"claude-3-haiku-20240307":   "claude-haiku-4.5",
		"claude-3-opus-20240229":    "claude-opus-4.5",
		"claude-sonnet-4-20250514":  "claude-sonnet-4.5",
		"something-else-entirely":   "claude-sonnet-4.5",
		"CLAUDE-HAIKU-UPPERCASE":    "claude-haiku-4.5",
	}
	for in, want := range cases {
		assert.Equal(t, want, translator.MapModel(in))
	}
}

func TestConversationID_ExtractsFromMetadata(t *testing.T) {
	req := &anthropic.Request{Metadata: &anthropic.Metadata{UserID: "user_abc-session_11111111-1111-1111-1111-111111111111"}}
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", translator.ConversationID(req))
}

func TestConversationID_GeneratesFreshWhenAbsent(t *testing.T) {
	req := &anthropic.Request{}
	id := translator.ConversationID(req)
	assert.NotEmpty(t, id)
}

func TestToKiroRequest_RejectsEmptyMessages(t *testing.T) {
	_, err := translator.ToKiroRequest(&anthropic.Request{Model: "claude-sonnet-4-20250514"}, "")
	require.Error(t, err)
}

func TestToKiroRequest_RejectsNonUserLastMessage(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: json.RawMessage(`"hi"`)},
		},
	}
	_, err := translator.ToKiroRequest(req, "")
	require.Error(t, err)
}

func TestToKiroRequest_CurrentMessageIsLastUserMessage(t *testing.T) {
	req := &anthropic.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	out, err := translator.ToKiroRequest(req, "")
	require.NoError(t, err)
	require.NotNil(t, out.ConversationState.CurrentMessage.UserInputMessage)
	assert.Equal(t, "hi", out.ConversationState.CurrentMessage.UserInputMessage.Content)
	assert.Empty(t, out.ConversationState.History)
}

func TestToKiroRequest_PrependsSystemPromptPair(t *testing.T) {
	req := &anthropic.Request{
		Model:    "claude-sonnet-4-20250514",
		System:   json.RawMessage(`"be terse"`),
		Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	out, err := translator.ToKiroRequest(req, "")
	require.NoError(t, err)
	require.Len(t, out.ConversationState.History, 2)
	assert.Equal(t, "be terse", out.ConversationState.History[0].UserInputMessage.Content)
	assert.Equal(t, "I will follow these instructions.", out.ConversationState.History[1].AssistantResponseMessage.Content)
}

func TestToKiroRequest_MergesConsecutiveSameRoleMessages(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"one "`)},
			{Role: "user", Content: json.RawMessage(`"two"`)},
			{Role: "user", Content: json.RawMessage(`"final"`)},
		},
	}
	out, err := translator.ToKiroRequest(req, "")
	require.NoError(t, err)
	require.Len(t, out.ConversationState.History, 2)
	assert.Equal(t, "one two", out.ConversationState.History[0].UserInputMessage.Content)
}

func TestToKiroRequest_ToolSpecMapping(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-sonnet-4-20250514",
		Tools: []anthropic.Tool{{Name: "get_weather", Description: "gets weather", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	out, err := translator.ToKiroRequest(req, "")
	require.NoError(t, err)
	ctx := out.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext
	require.NotNil(t, ctx)
	require.Len(t, ctx.Tools, 1)
	assert.Equal(t, "get_weather", ctx.Tools[0].ToolSpecification.Name)
	assert.JSONEq(t, `{"type":"object"}`, string(ctx.Tools[0].ToolSpecification.InputSchema.JSON))
}

func TestToKiroRequest_ExtractsToolResultsFromCurrentMessage(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`[{"type":"tool_result","tool_use_id":"t1","content":"72F"}]`)},
		},
	}
	out, err := translator.ToKiroRequest(req, "")
	require.NoError(t, err)
	ctx := out.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext
	require.NotNil(t, ctx)
	require.Len(t, ctx.ToolResults, 1)
	assert.Equal(t, "t1", ctx.ToolResults[0].ToolUseID)
	assert.Equal(t, "success", ctx.ToolResults[0].Status)
}

func TestResponseTranslator_SimpleText(t *testing.T) {
	var buf bytes.Buffer
	w := sse.NewWriter(bufio.NewWriter(&buf))
	tr := translator.NewResponseTranslator(w)
	require.NoError(t, tr.Start("claude-sonnet-4.5"))

	require.NoError(t, tr.Feed(mustEvent(t, "assistantResponseEvent", `{"content":"He"}`)))
	require.NoError(t, tr.Feed(mustEvent(t, "assistantResponseEvent", `{"content":"llo"}`)))
	require.NoError(t, tr.Finish())

	out := buf.String()
	names := eventNamesInOrder(out)
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta",
		"content_block_delta", "content_block_stop", "message_delta", "message_stop",
	}, names)
	assert.Contains(t, out, `"stop_reason":"end_turn"`)
}

func TestResponseTranslator_ToolCall(t *testing.T) {
	var buf bytes.Buffer
	w := sse.NewWriter(bufio.NewWriter(&buf))
	tr := translator.NewResponseTranslator(w)
	require.NoError(t, tr.Start("claude-sonnet-4.5"))

	require.NoError(t, tr.Feed(mustEvent(t, "toolUseEvent", `{"toolUseId":"t1","name":"get_weather","input":"{\"ci"}`)))
	require.NoError(t, tr.Feed(mustEvent(t, "toolUseEvent", `{"toolUseId":"t1","input":"ty\":\"Paris\"}"}`)))
	require.NoError(t, tr.Feed(mustEvent(t, "toolUseEvent", `{"toolUseId":"t1","stop":true}`)))
	require.NoError(t, tr.Finish())

	out := buf.String()
	assert.Contains(t, out, `"stop_reason":"tool_use"`)
	assert.Contains(t, out, `"type":"tool_use"`)
	assert.Equal(t, 2, strings.Count(out, "input_json_delta"))
}

func mustEvent(t *testing.T, eventType, payload string) eventstream.Event {
	t.Helper()
	ev, err := eventstream.ParseEvent(eventstream.Frame{EventType: eventType, MessageType: "event", Payload: []byte(payload)})
	require.NoError(t, err)
	return ev
}

func eventNamesInOrder(sseOutput string) []string {
	var names []string
	for _, line := range strings.Split(sseOutput, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}
