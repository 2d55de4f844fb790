package models

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Outbound message types
const (
	MessageTypeMessage      = "message"
	MessageTypeConfirmation = "confirmation"
	MessageTypeError        = "error"
	MessageTypeNotification = "notification"
	MessageTypeConnected    = "connected"
	MessageTypePong         = "pong"
)

// ErrConnectionClosed is returned when sending on a connection that has gone away.
var ErrConnectionClosed = errors.New("connection closed")

// ClientMessage is an optional JSON envelope for inbound frames. Plain text frames are
// treated as {"type": "message", "text": <frame>}.
type ClientMessage struct {
	Type    string `json:"type,omitempty"` // "message" or "ping"
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// ServerMessage is a message sent to the client
type ServerMessage struct {
	Type         string     `json:"type"` // "message", "confirmation", "error", "notification", "connected", "pong"
	Message      string     `json:"message,omitempty"`
	Text         string     `json:"text,omitempty"`
	Task         string     `json:"task,omitempty"`
	IsBot        *bool      `json:"isBot,omitempty"`
	ReminderID   string     `json:"reminder_id,omitempty"`
	ReminderTime *time.Time `json:"reminder_time,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
}

// Transport is the send side of a client connection.
type Transport interface {
	Send(msg ServerMessage) error
	IsConnected() bool
}

// ClientConnection represents a single WebSocket connection
type ClientConnection struct {
	ConnID    string
	SessionID string // stable across reconnects; empty means the connection is its own session
	ClientIP  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage
	Mutex     sync.Mutex
	closed    bool
}

// NewClientConnection creates a connection with a buffered write channel.
func NewClientConnection(connID string, conn *websocket.Conn, buffer int) *ClientConnection {
	if buffer <= 0 {
		buffer = 100
	}
	return &ClientConnection{
		ConnID:    connID,
		Conn:      conn,
		CreatedAt: time.Now(),
		WriteChan: make(chan ServerMessage, buffer),
	}
}

// ID returns the session the connection belongs to.
func (uc *ClientConnection) ID() string {
	if uc.SessionID != "" {
		return uc.SessionID
	}
	return uc.ConnID
}

// SafeSend sends a message to WriteChan safely, returning false if the channel is closed
func (uc *ClientConnection) SafeSend(msg ServerMessage) bool {
	uc.Mutex.Lock()
	if uc.closed {
		uc.Mutex.Unlock()
		return false
	}
	uc.Mutex.Unlock()

	sent := true
	func() {
		// Send on a channel closed by Remove panics; treat it as a disconnect.
		defer func() {
			if r := recover(); r != nil {
				uc.MarkClosed()
				sent = false
			}
		}()
		uc.WriteChan <- msg
	}()
	return sent
}

// Send implements Transport.
func (uc *ClientConnection) Send(msg ServerMessage) error {
	if !uc.SafeSend(msg) {
		return ErrConnectionClosed
	}
	return nil
}

// IsConnected implements Transport.
func (uc *ClientConnection) IsConnected() bool {
	return !uc.IsClosed()
}

// MarkClosed marks the connection as closed
func (uc *ClientConnection) MarkClosed() {
	uc.Mutex.Lock()
	uc.closed = true
	uc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed
func (uc *ClientConnection) IsClosed() bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	return uc.closed
}

// Bool returns a pointer to b, for optional JSON fields.
func Bool(b bool) *bool {
	return &b
}
