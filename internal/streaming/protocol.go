package streaming

import "errors"

// Control message types exchanged with WebSocket clients.
const (
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeChat      = "chat"
	MessageTypeCancel    = "cancel"
	MessageTypeCancelAck = "cancel_acknowledged"
	MessageTypeChunk     = "chunk"
	MessageTypeError     = "error"
)

// Chunk events within one request stream. Exactly one terminal event ends a
// stream: done, error, or cancelled.
const (
	EventStart     = "start"
	EventDelta     = "delta"
	EventDone      = "done"
	EventError     = "error"
	EventCancelled = "cancelled"
)

// Message is the control envelope for WebSocket traffic.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Profile   string `json:"profile,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Chunk is one streamed piece of a routed response.
type Chunk struct {
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	Index        int    `json:"index"`
	Event        string `json:"event"`
	Model        string `json:"model,omitempty"`
	Delta        string `json:"delta,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ErrCancelled is returned by stream writes after the request was cancelled.
var ErrCancelled = errors.New("streaming: request cancelled")

// RequestStream emits the chunk sequence for one request to one client.
// Indexes increase strictly from zero and the terminal chunk is always last;
// cancellation is checked before every send.
type RequestStream struct {
	m         *Manager
	requestID string
	index     int
	finished  bool
}

// NewRequestStream subscribes the issuing client to the request and returns
// its stream. Chunks reach every subscriber, including clients that attach
// later via Subscribe.
func (m *Manager) NewRequestStream(requestID, clientID string) *RequestStream {
	m.Subscribe(requestID, clientID)
	return &RequestStream{m: m, requestID: requestID}
}

func (s *RequestStream) emit(event string, mutate func(*Chunk)) error {
	if s.finished {
		return ErrCancelled
	}
	c := Chunk{
		Type:      MessageTypeChunk,
		RequestID: s.requestID,
		Index:     s.index,
		Event:     event,
	}
	if mutate != nil {
		mutate(&c)
	}
	if err := s.m.SendToRequest(s.requestID, c); err != nil {
		s.finished = true
		s.m.ReleaseRequest(s.requestID)
		return err
	}
	s.index++
	return nil
}

// checkCancelled emits the terminal cancelled chunk when the request was
// cancelled out of band.
func (s *RequestStream) checkCancelled() error {
	if !s.m.IsCancelled(s.requestID) {
		return nil
	}
	_ = s.emit(EventCancelled, nil)
	s.finish()
	return ErrCancelled
}

func (s *RequestStream) finish() {
	s.finished = true
	s.m.ReleaseRequest(s.requestID)
}

// Start announces the selected model. Must be the first write.
func (s *RequestStream) Start(model string) error {
	if err := s.checkCancelled(); err != nil {
		return err
	}
	return s.emit(EventStart, func(c *Chunk) { c.Model = model })
}

// Delta streams one piece of generated content.
func (s *RequestStream) Delta(text string) error {
	if err := s.checkCancelled(); err != nil {
		return err
	}
	return s.emit(EventDelta, func(c *Chunk) { c.Delta = text })
}

// Done terminates the stream successfully.
func (s *RequestStream) Done(finishReason string) error {
	if err := s.checkCancelled(); err != nil {
		return err
	}
	err := s.emit(EventDone, func(c *Chunk) { c.FinishReason = finishReason })
	s.finish()
	return err
}

// Fail terminates the stream with an error event.
func (s *RequestStream) Fail(cause error) error {
	if err := s.checkCancelled(); err != nil {
		return err
	}
	err := s.emit(EventError, func(c *Chunk) { c.Error = cause.Error() })
	s.finish()
	return err
}
