package streaming

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// sseHeartbeatInterval keeps proxies from idling out a quiet stream.
const sseHeartbeatInterval = 15 * time.Second

// SSEWriter emits an OpenAI-style chat completion stream over server-sent
// events. Writes are serialized so the heartbeat goroutine cannot interleave
// with chunk writes.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	chatID  string
	model   string
	created int64
	closed  bool
	stop    chan struct{}
}

// NewSSEWriter prepares the response for streaming. The chat id embeds the
// first eight characters of the request id so logs correlate.
func NewSSEWriter(w http.ResponseWriter, requestID, model string) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	short := requestID
	if len(short) > 8 {
		short = short[:8]
	}
	return &SSEWriter{
		w:       w,
		flusher: flusher,
		chatID:  "chatcmpl-" + short,
		model:   model,
		created: time.Now().Unix(),
		stop:    make(chan struct{}),
	}, nil
}

// StartHeartbeat emits SSE comments until Close. Run in its own goroutine.
func (s *SSEWriter) StartHeartbeat() {
	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				_, _ = fmt.Fprint(s.w, ": heartbeat\n\n")
				s.flusher.Flush()
			}
			s.mu.Unlock()
		}
	}
}

func (s *SSEWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrCancelled
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type sseDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type sseChoice struct {
	Index        int      `json:"index"`
	Delta        sseDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	Model   string      `json:"model"`
	Choices []sseChoice `json:"choices"`
}

func (s *SSEWriter) chunk(delta sseDelta, finish *string) sseChunk {
	return sseChunk{
		ID:      s.chatID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []sseChoice{{Delta: delta, FinishReason: finish}},
	}
}

// WriteRouting emits the routing preamble event carrying the decision that
// produced this stream.
func (s *SSEWriter) WriteRouting(decision any) error {
	return s.writeEvent("routing", decision)
}

// WriteRole emits the opening chunk that names the assistant role.
func (s *SSEWriter) WriteRole() error {
	return s.writeEvent("", s.chunk(sseDelta{Role: "assistant"}, nil))
}

// WriteContent emits one content delta.
func (s *SSEWriter) WriteContent(text string) error {
	return s.writeEvent("", s.chunk(sseDelta{Content: text}, nil))
}

// WriteFinish emits the closing chunk with its finish reason.
func (s *SSEWriter) WriteFinish(reason string) error {
	return s.writeEvent("", s.chunk(sseDelta{}, &reason))
}

// Usage totals reported at the end of a stream.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// WriteUsage emits the usage event.
func (s *SSEWriter) WriteUsage(prompt, completion int64) error {
	return s.writeEvent("usage", Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	})
}

// WriteError emits a terminal error event. The connection stays open so the
// client still receives the [DONE] sentinel from Close.
func (s *SSEWriter) WriteError(msg string) error {
	return s.writeEvent("error", map[string]string{"error": msg})
}

// Close terminates the stream with the [DONE] sentinel and stops the
// heartbeat. Safe to call once.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	if !s.closed {
		_, _ = fmt.Fprint(s.w, "data: [DONE]\n\n")
		s.flusher.Flush()
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()
}
