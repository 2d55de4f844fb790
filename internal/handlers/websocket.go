package handlers

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"time"

	"remindai/internal/models"
	"remindai/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	readTimeout  = 360 * time.Second
	pingInterval = 30 * time.Second
	writeBuffer  = 100
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SessionIDFromQuery returns the client-chosen session id from the ?session= query
// parameter, or "" when it is missing or malformed. A client that reconnects with the
// same id receives reminders it created on earlier connections.
func SessionIDFromQuery(raw string) string {
	raw = strings.TrimSpace(raw)
	if !sessionIDPattern.MatchString(raw) {
		return ""
	}
	return raw
}

// MessageHandler processes one inbound chat message for a session.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session services.Session, text string)
}

// SessionListener is told when a session has a live connection again.
type SessionListener interface {
	SessionConnected(ctx context.Context, sessionID string)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	connManager  *services.ConnectionManager
	orchestrator MessageHandler
	sessions     SessionListener
}

// NewWebSocketHandler creates a new WebSocket handler. sessions may be nil.
func NewWebSocketHandler(connManager *services.ConnectionManager, orchestrator MessageHandler, sessions SessionListener) *WebSocketHandler {
	return &WebSocketHandler{
		connManager:  connManager,
		orchestrator: orchestrator,
		sessions:     sessions,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)
	sessionID, _ := c.Locals("session_id").(string)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	conn := models.NewClientConnection(connID, c, writeBuffer)
	conn.ClientIP = clientIP
	conn.SessionID = sessionID

	h.connManager.Add(conn)
	services.GetMetrics().RecordWebSocketConnect()
	defer func() {
		close(done)
		cancel()
		h.connManager.Remove(connID)
		services.GetMetrics().RecordWebSocketDisconnect()
	}()

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	conn.SafeSend(models.ServerMessage{
		Type:      models.MessageTypeConnected,
		Message:   "WebSocket connected. Tell me what to remind you about.",
		SessionID: conn.ID(),
	})

	if h.sessions != nil {
		h.sessions.SessionConnected(ctx, conn.ID())
	}

	h.readLoop(ctx, conn)
}

// pingLoop sends periodic control pings so idle sessions survive proxies
func (h *WebSocketHandler) pingLoop(conn *models.ClientConnection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			if err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", conn.ConnID, err)
				conn.Mutex.Unlock()
				return
			}
			conn.Mutex.Unlock()
		}
	}
}

// readLoop handles incoming frames. Messages are processed in order; the next frame is
// not read until the previous message's replies are queued.
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *models.ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, frame, err := conn.Conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("❌ WebSocket read error for %s: %v", conn.ConnID, err)
			}
			break
		}

		conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))

		msgType, text := parseClientFrame(frame)
		services.GetMetrics().RecordWebSocketMessage(msgType, "inbound")

		switch msgType {
		case "ping":
			conn.SafeSend(models.ServerMessage{Type: models.MessageTypePong})
		case models.MessageTypeMessage:
			h.orchestrator.HandleMessage(ctx, conn, text)
		default:
			log.Printf("⚠️  Unknown message type from %s: %s", conn.ConnID, msgType)
		}
	}
}

// writeLoop serializes all writes for a connection
func (h *WebSocketHandler) writeLoop(conn *models.ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", conn.ConnID, err)
			conn.MarkClosed()
			return
		}
	}
}

// parseClientFrame accepts a JSON envelope {"type", "text"|"content"} or a raw text frame.
// Anything that is not a JSON object is treated as chat text.
func parseClientFrame(frame []byte) (msgType, text string) {
	trimmed := strings.TrimSpace(string(frame))
	if strings.HasPrefix(trimmed, "{") {
		var msg models.ClientMessage
		if err := json.Unmarshal([]byte(trimmed), &msg); err == nil {
			msgType = strings.ToLower(strings.TrimSpace(msg.Type))
			if msgType == "" {
				msgType = models.MessageTypeMessage
			}
			text = msg.Text
			if text == "" {
				text = msg.Content
			}
			return msgType, text
		}
	}
	return models.MessageTypeMessage, string(frame)
}
