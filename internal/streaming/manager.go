// Package streaming fans routed responses out to interactive clients over
// WebSocket and SSE. A Manager tracks connected clients, binds in-flight
// requests to them, and propagates cancellation to whatever is producing
// chunks for a request.
package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// ErrAtCapacity is returned when the connection limit is reached.
var ErrAtCapacity = errors.New("streaming: server at capacity")

// ErrUnknownClient is returned when a send targets a client that is gone.
var ErrUnknownClient = errors.New("streaming: unknown client")

const (
	defaultMaxClients = 100
	defaultHeartbeat  = 30 * time.Second
	sendBuffer        = 32
)

// Client is one connected streaming consumer. The transport layer drains
// Send and closes the connection when it is closed.
type Client struct {
	ID          string
	Send        chan []byte
	ConnectedAt time.Time

	lastSeen time.Time
	once     sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.Send) })
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Clients        int `json:"clients"`
	MaxClients     int `json:"max_clients"`
	ActiveRequests int `json:"active_requests"`
}

// Manager owns the client set and the request subscriptions. A request can
// have any number of subscribed clients; every chunk fans out to all of
// them. One mutex guards both maps so a disconnect atomically drops the
// client and its subscriptions.
type Manager struct {
	mu        sync.Mutex
	clients   map[string]*Client
	byRequest map[string]map[string]bool
	cancelled map[string]bool

	maxClients   int
	heartbeat    time.Duration
	onDisconnect func(clientID string)
	logger       *slog.Logger

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxClients bounds concurrent connections.
func WithMaxClients(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxClients = n
		}
	}
}

// WithHeartbeatInterval sets the ping cadence; clients silent for two
// intervals are harvested.
func WithHeartbeatInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// WithOnDisconnect registers a callback fired (outside the lock) whenever a
// client is removed.
func WithOnDisconnect(fn func(clientID string)) ManagerOption {
	return func(m *Manager) { m.onDisconnect = fn }
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		clients:    make(map[string]*Client),
		byRequest:  make(map[string]map[string]bool),
		cancelled:  make(map[string]bool),
		maxClients: defaultMaxClients,
		heartbeat:  defaultHeartbeat,
		logger:     logger,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register admits a new client, or fails with ErrAtCapacity.
func (m *Manager) Register(id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) >= m.maxClients {
		return nil, ErrAtCapacity
	}
	now := m.nowFunc()
	c := &Client{ID: id, Send: make(chan []byte, sendBuffer), ConnectedAt: now, lastSeen: now}
	m.clients[id] = c
	m.logger.Debug("client connected", "client_id", id, "clients", len(m.clients))
	return c, nil
}

// Unregister removes a client and drops its request subscriptions. A request
// whose last subscriber leaves is released entirely.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
		for req, subs := range m.byRequest {
			if subs[id] {
				delete(subs, id)
				if len(subs) == 0 {
					delete(m.byRequest, req)
					delete(m.cancelled, req)
				}
			}
		}
	}
	remaining := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	m.logger.Debug("client disconnected", "client_id", id, "clients", remaining)
	if m.onDisconnect != nil {
		m.onDisconnect(id)
	}
}

// Touch records liveness for a client (a pong or any inbound frame).
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	if c, ok := m.clients[id]; ok {
		c.lastSeen = m.nowFunc()
	}
	m.mu.Unlock()
}

// Send marshals msg and queues it for the client. A full queue means the
// consumer stopped reading, so the client is dropped; the first failure
// disconnects, later sends report ErrUnknownClient.
func (m *Manager) Send(clientID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.sendRaw(clientID, data)
}

func (m *Manager) sendRaw(clientID string, data []byte) error {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}

	select {
	case c.Send <- data:
		return nil
	default:
		m.logger.Warn("client send queue full, disconnecting", "client_id", clientID)
		m.Unregister(clientID)
		return ErrUnknownClient
	}
}

// Subscribe attaches a client to an in-flight request. The issuing client is
// subscribed when its stream is created; further clients may attach to watch
// the same request.
func (m *Manager) Subscribe(requestID, clientID string) {
	m.mu.Lock()
	subs, ok := m.byRequest[requestID]
	if !ok {
		subs = make(map[string]bool)
		m.byRequest[requestID] = subs
	}
	subs[clientID] = true
	m.mu.Unlock()
}

// Unsubscribe detaches one client from a request. The request is released
// entirely when its last subscriber leaves.
func (m *Manager) Unsubscribe(requestID, clientID string) {
	m.mu.Lock()
	if subs, ok := m.byRequest[requestID]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(m.byRequest, requestID)
			delete(m.cancelled, requestID)
		}
	}
	m.mu.Unlock()
}

// SendToRequest fans msg out to every subscriber of a request. It succeeds
// when at least one subscriber takes the message; with none left it reports
// ErrUnknownClient so producers stop streaming.
func (m *Manager) SendToRequest(requestID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.byRequest[requestID]))
	for id := range m.byRequest[requestID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		if m.sendRaw(id, data) == nil {
			delivered++
		}
	}
	if delivered == 0 {
		return ErrUnknownClient
	}
	return nil
}

// Broadcast sends msg to every connected client except those excluded.
// Returns the number of clients reached.
func (m *Manager) Broadcast(msg any, exclude ...string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		if !skip[id] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		if m.sendRaw(id, data) == nil {
			delivered++
		}
	}
	return delivered
}

// ReleaseRequest drops every subscription and any cancellation mark once a
// request finishes.
func (m *Manager) ReleaseRequest(requestID string) {
	m.mu.Lock()
	delete(m.byRequest, requestID)
	delete(m.cancelled, requestID)
	m.mu.Unlock()
}

// Cancel marks a bound request as cancelled. Returns false for unknown
// requests.
func (m *Manager) Cancel(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRequest[requestID]; !ok {
		return false
	}
	m.cancelled[requestID] = true
	return true
}

// IsCancelled reports whether a request has been cancelled. Producers check
// this before every chunk.
func (m *Manager) IsCancelled(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[requestID]
}

// Stats returns a snapshot of connection state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Clients:        len(m.clients),
		MaxClients:     m.maxClients,
		ActiveRequests: len(m.byRequest),
	}
}

// Run sends heartbeat pings and harvests silent clients until the context
// ends. Intended to run in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	deadline := m.nowFunc().Add(-2 * m.heartbeat)

	m.mu.Lock()
	var stale []string
	ids := make([]string, 0, len(m.clients))
	for id, c := range m.clients {
		if c.lastSeen.Before(deadline) {
			stale = append(stale, id)
		} else {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Info("harvesting silent client", "client_id", id)
		m.Unregister(id)
	}
	ping := Message{Type: MessageTypePing, Timestamp: m.nowFunc().UnixMilli()}
	for _, id := range ids {
		_ = m.Send(id, ping)
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Unregister(id)
	}
}
