package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// CORS policy is enforced by corsOrigin for plain requests; the
		// snapshot stream is read-only.
		return true
	},
}

// WebSocketMessage is a message sent to or received from a client.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Message types.
const (
	msgSnapshot       = "snapshot"
	msgError          = "error"
	msgClearHistory   = "clear_history"
	msgHistoryCleared = "history_cleared"
	msgPing           = "ping"
	msgPong           = "pong"
)

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// snapshotWebSocketHandler streams controller snapshots. The latest snapshot
// is sent first so a new client can render immediately.
func (s *Server) snapshotWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	// Replies produced by the reader are funneled through the writer loop
	// so only one goroutine writes to conn.
	replies := make(chan WebSocketMessage, 4)
	done := make(chan struct{})
	go s.readWebSocket(conn, replies, done)

	if !s.sendWebSocketMessage(conn, WebSocketMessage{Type: msgSnapshot, Payload: s.ctrl.Latest()}) {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !s.sendWebSocketMessage(conn, WebSocketMessage{Type: msgSnapshot, Payload: snap}) {
				return
			}
		case msg := <-replies:
			if !s.sendWebSocketMessage(conn, msg) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readWebSocket handles client messages until the connection closes.
func (s *Server) readWebSocket(conn *websocket.Conn, replies chan<- WebSocketMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if messageType != websocket.TextMessage {
			continue
		}
		reply := s.handleWebSocketMessage(data)
		select {
		case replies <- reply:
		default:
			s.logger.Warn("WebSocket reply dropped", "type", reply.Type)
		}
	}
}

// handleWebSocketMessage interprets one client message. Snapshot changes
// caused by the message arrive through the subscription.
func (s *Server) handleWebSocketMessage(data []byte) WebSocketMessage {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WebSocketMessage{Type: msgError, Payload: "invalid message: " + err.Error()}
	}

	switch msg.Type {
	case msgPing:
		return WebSocketMessage{Type: msgPong}
	case msgClearHistory:
		n := s.ctrl.ClearHistory()
		return WebSocketMessage{Type: msgHistoryCleared, Payload: map[string]int{"removed": n}}
	case msgSnapshot:
		return WebSocketMessage{Type: msgSnapshot, Payload: s.ctrl.Latest()}
	default:
		return WebSocketMessage{Type: msgError, Payload: "unsupported message type: " + msg.Type}
	}
}

// sendWebSocketMessage writes msg and reports whether the connection is
// still usable.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", "error", err)
		return true
	}
	if c, ok := conn.(*websocket.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}
