package eventstream_test

import (
	"encoding/json"
	"testing"

	"github.com/kiroproxy/kiroproxy/internal/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedAssistantFrame(t *testing.T, content string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"content": content})
	require.NoError(t, err)
	return eventstream.Encode(eventstream.Frame{
		EventType:   "assistantResponseEvent",
		MessageType: "event",
		ContentType: "application/json",
		Payload:     payload,
	})
}

func TestDecode_RoundTripsSingleFrame(t *testing.T) {
	raw := encodedAssistantFrame(t, "hello")

	frames, err := eventstream.Decode(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "assistantResponseEvent", frames[0].EventType)
	assert.Equal(t, "event", frames[0].MessageType)

	ev, err := eventstream.ParseEvent(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.AssistantText)
}

func TestDecoder_Feed_YieldsFramesAcrossChunkBoundaries(t *testing.T) {
	raw := append(encodedAssistantFrame(t, "He"), encodedAssistantFrame(t, "llo")...)

	var d eventstream.Decoder
	var got []eventstream.Frame
	for i := 0; i < len(raw); i++ {
		frames, err := d.Feed(raw[i : i+1])
		require.NoError(t, err)
		got = append(got, frames...)
	}

	require.Len(t, got, 2)
	assert.Equal(t, 0, d.Pending())

	ev0, err := eventstream.ParseEvent(got[0])
	require.NoError(t, err)
	ev1, err := eventstream.ParseEvent(got[1])
	require.NoError(t, err)
	assert.Equal(t, "He", ev0.AssistantText)
	assert.Equal(t, "llo", ev1.AssistantText)
}

func TestDecoder_Feed_RetainsTrailingPartialFrame(t *testing.T) {
	raw := encodedAssistantFrame(t, "partial")

	var d eventstream.Decoder
	frames, err := d.Feed(raw[:len(raw)-3])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Positive(t, d.Pending())

	frames, err = d.Feed(raw[len(raw)-3:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Zero(t, d.Pending())
}

func TestDecode_CorruptFrame_OnMessageCRCMismatch(t *testing.T) {
	raw := encodedAssistantFrame(t, "tampered")
	raw[len(raw)-1] ^= 0xFF // flip a bit in the trailing msg_crc

	_, err := eventstream.Decode(raw)
	assert.ErrorIs(t, err, eventstream.ErrCorruptFrame)
}

func TestDecode_CorruptFrame_OnImpossibleTotalLen(t *testing.T) {
	raw := encodedAssistantFrame(t, "x")
	raw[3] = 0x01 // corrupt total_len's low byte to something impossibly small

	_, err := eventstream.Decode(raw)
	assert.ErrorIs(t, err, eventstream.ErrCorruptFrame)
}

func TestParseEvent_ToolUseFragmentsReassembleToValidJSON(t *testing.T) {
	fragments := []eventstream.ToolUseEvent{
		{ToolUseID: "t1", Name: "get_weather", Input: `{"ci`},
		{ToolUseID: "t1", Input: `ty":"Paris"}`},
		{ToolUseID: "t1", Stop: true},
	}

	var raw []byte
	for _, tu := range fragments {
		payload, err := json.Marshal(tu)
		require.NoError(t, err)
		raw = append(raw, eventstream.Encode(eventstream.Frame{
			EventType:   "toolUseEvent",
			MessageType: "event",
			ContentType: "application/json",
			Payload:     payload,
		})...)
	}

	frames, err := eventstream.Decode(raw)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	var concatenated string
	var sawStop bool
	for _, f := range frames {
		ev, err := eventstream.ParseEvent(f)
		require.NoError(t, err)
		concatenated += ev.ToolUse.Input
		if ev.ToolUse.Stop {
			sawStop = true
		}
	}
	require.True(t, sawStop)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(concatenated), &parsed))
	assert.Equal(t, "Paris", parsed["city"])
}

func TestParseEvent_ExceptionMessageType(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"code": "ValidationException", "message": "MONTHLY_REQUEST_COUNT exceeded"})
	require.NoError(t, err)
	raw := eventstream.Encode(eventstream.Frame{
		EventType:   "someException",
		MessageType: "exception",
		ContentType: "application/json",
		Payload:     payload,
	})

	frames, err := eventstream.Decode(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	ev, err := eventstream.ParseEvent(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "ValidationException", ev.Exception.Code)
	assert.Contains(t, ev.Exception.Message, "MONTHLY_REQUEST_COUNT")
}

func TestParseEvent_UnknownEventTypeIsIgnoredNotError(t *testing.T) {
	raw := eventstream.Encode(eventstream.Frame{
		EventType:   "somethingFromTheFuture",
		MessageType: "event",
		ContentType: "application/json",
		Payload:     []byte(`{}`),
	})

	frames, err := eventstream.Decode(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	ev, err := eventstream.ParseEvent(frames[0])
	require.NoError(t, err)
	assert.True(t, ev.Ignored)
}
