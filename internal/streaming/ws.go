package streaming

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ChatFunc handles one chat request from a WebSocket client. It runs in its
// own goroutine and streams the response through a RequestStream.
type ChatFunc func(ctx context.Context, clientID string, msg Message)

// WSHandler upgrades connections and speaks the control protocol.
type WSHandler struct {
	manager  *Manager
	onChat   ChatFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket endpoint handler. Origin checks are
// left to the auth middleware in front of it.
func NewWSHandler(m *Manager, onChat ChatFunc, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		manager: m,
		onChat:  onChat,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	client, err := h.manager.Register(clientID)
	if err != nil {
		// Capacity refusal uses 1013 (try again later).
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	_ = h.manager.Send(clientID, Message{
		Type:      MessageTypeConnected,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
	})

	go h.writePump(conn, client)
	h.readPump(r.Context(), conn, clientID)
}

// writePump drains the client queue onto the socket. When the queue closes
// (unregister) it sends a close frame and drops the connection.
func (h *WSHandler) writePump(conn *websocket.Conn, client *Client) {
	defer func() { _ = conn.Close() }()

	for data := range client.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.manager.Unregister(client.ID)
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, clientID string) {
	defer h.manager.Unregister(clientID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = h.manager.Send(clientID, Message{Type: MessageTypeError, Error: "malformed message"})
			continue
		}
		h.manager.Touch(clientID)

		switch msg.Type {
		case MessageTypePong:
			// Touch above is all a pong needs.
		case MessageTypePing:
			_ = h.manager.Send(clientID, Message{Type: MessageTypePong, Timestamp: time.Now().UnixMilli()})
		case MessageTypeCancel:
			h.handleCancel(clientID, msg)
		case MessageTypeChat:
			h.handleChat(ctx, clientID, msg)
		default:
			_ = h.manager.Send(clientID, Message{Type: MessageTypeError, RequestID: msg.RequestID,
				Error: "unknown message type: " + msg.Type})
		}
	}
}

func (h *WSHandler) handleCancel(clientID string, msg Message) {
	if msg.RequestID == "" || !h.manager.Cancel(msg.RequestID) {
		_ = h.manager.Send(clientID, Message{Type: MessageTypeError, RequestID: msg.RequestID,
			Error: "unknown request"})
		return
	}
	_ = h.manager.Send(clientID, Message{Type: MessageTypeCancelAck, RequestID: msg.RequestID,
		Timestamp: time.Now().UnixMilli()})
}

func (h *WSHandler) handleChat(ctx context.Context, clientID string, msg Message) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if h.onChat == nil {
		_ = h.manager.Send(clientID, Message{Type: MessageTypeError, RequestID: msg.RequestID,
			Error: "chat is not enabled"})
		return
	}
	go h.onChat(ctx, clientID, msg)
}
