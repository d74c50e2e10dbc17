package streaming

import (
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec, "0f8e2c41-aaaa-bbbb-cccc-000000000000", "llama-3-70")
	require.NoError(t, err)
	w.Close()

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, 200, rec.Code)
}

func TestSSEWriter_StreamSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec, "0f8e2c41-aaaa-bbbb-cccc-000000000000", "llama-3-70")
	require.NoError(t, err)

	require.NoError(t, w.WriteRouting(map[string]string{"profile": "balanced"}))
	require.NoError(t, w.WriteRole())
	require.NoError(t, w.WriteContent("Hello"))
	require.NoError(t, w.WriteContent(", world"))
	require.NoError(t, w.WriteFinish("stop"))
	require.NoError(t, w.WriteUsage(12, 4))
	w.Close()

	body := rec.Body.String()
	events := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, events, 7)

	assert.True(t, strings.HasPrefix(events[0], "event: routing\n"))
	assert.Contains(t, events[0], `"profile":"balanced"`)

	var first sseChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[1], "data: ")), &first))
	assert.Equal(t, "chatcmpl-0f8e2c41", first.ID)
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "llama-3-70", first.Model)
	require.Len(t, first.Choices, 1)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Nil(t, first.Choices[0].FinishReason)

	var second sseChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[2], "data: ")), &second))
	assert.Equal(t, "Hello", second.Choices[0].Delta.Content)

	var finish sseChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[4], "data: ")), &finish))
	require.NotNil(t, finish.Choices[0].FinishReason)
	assert.Equal(t, "stop", *finish.Choices[0].FinishReason)

	assert.True(t, strings.HasPrefix(events[5], "event: usage\n"))
	var usage Usage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(
		strings.TrimPrefix(events[5], "event: usage\n"), "data: ")), &usage))
	assert.Equal(t, int64(12), usage.PromptTokens)
	assert.Equal(t, int64(4), usage.CompletionTokens)
	assert.Equal(t, int64(16), usage.TotalTokens)

	assert.Equal(t, "data: [DONE]", events[6])
}

func TestSSEWriter_ShortRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec, "abc", "m")
	require.NoError(t, err)
	require.NoError(t, w.WriteRole())
	w.Close()

	assert.Contains(t, rec.Body.String(), `"id":"chatcmpl-abc"`)
}

func TestSSEWriter_ClosedRejectsWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec, "req", "m")
	require.NoError(t, err)

	w.Close()
	w.Close() // idempotent

	assert.ErrorIs(t, w.WriteContent("late"), ErrCancelled)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
}
