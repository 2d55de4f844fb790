package services

import (
	"log"
	"sync"

	"remindai/internal/models"
)

// ConnectionManager manages all active WebSocket connections
type ConnectionManager struct {
	connections map[string]*models.ClientConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.ClientConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.ClientConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s, session %s (Total: %d)", conn.ConnID, conn.ID(), len(cm.connections))
}

// Remove removes a connection and closes its write channel
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		conn.MarkClosed()
		close(conn.WriteChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.ClientConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// GetAll returns all active connections
func (cm *ConnectionManager) GetAll() []*models.ClientConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conns := make([]*models.ClientConnection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

// TransportFor returns the live transport for connID, if any.
func (cm *ConnectionManager) TransportFor(connID string) (models.Transport, bool) {
	conn, ok := cm.Get(connID)
	if !ok || conn.IsClosed() {
		return nil, false
	}
	return conn, true
}

// SessionTransport returns a transport bound to sessionID rather than to one connection.
// It reaches whichever connections of that session are live when a message is sent, and
// reports disconnected while the session has none.
func (cm *ConnectionManager) SessionTransport(sessionID string) models.Transport {
	return &sessionTransport{cm: cm, sessionID: sessionID}
}

// SessionConnections returns the live connections belonging to sessionID.
func (cm *ConnectionManager) SessionConnections(sessionID string) []*models.ClientConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var conns []*models.ClientConnection
	for _, conn := range cm.connections {
		if conn.ID() == sessionID && !conn.IsClosed() {
			conns = append(conns, conn)
		}
	}
	return conns
}

type sessionTransport struct {
	cm        *ConnectionManager
	sessionID string
}

func (t *sessionTransport) IsConnected() bool {
	return len(t.cm.SessionConnections(t.sessionID)) > 0
}

func (t *sessionTransport) Send(msg models.ServerMessage) error {
	sent := 0
	for _, conn := range t.cm.SessionConnections(t.sessionID) {
		if conn.SafeSend(msg) {
			sent++
		}
	}
	if sent == 0 {
		return models.ErrConnectionClosed
	}
	return nil
}
