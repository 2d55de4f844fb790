package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindai/internal/models"
)

func TestConnectionManager_AddRemove(t *testing.T) {
	cm := NewConnectionManager()
	conn := models.NewClientConnection("conn-a", nil, 4)
	cm.Add(conn)

	require.Equal(t, 1, cm.Count())
	transport, ok := cm.TransportFor("conn-a")
	require.True(t, ok)
	assert.True(t, transport.IsConnected())

	cm.Remove("conn-a")
	assert.Equal(t, 0, cm.Count())
	assert.True(t, conn.IsClosed())
	_, ok = cm.TransportFor("conn-a")
	assert.False(t, ok)

	err := conn.Send(models.ServerMessage{Type: models.MessageTypeNotification})
	assert.True(t, errors.Is(err, models.ErrConnectionClosed))

	// Removing twice is a no-op.
	cm.Remove("conn-a")
}

func TestConnectionManager_SessionTransport(t *testing.T) {
	cm := NewConnectionManager()
	owner := cm.SessionTransport("ward-7")

	assert.False(t, owner.IsConnected())
	assert.ErrorIs(t, owner.Send(models.ServerMessage{Type: models.MessageTypeNotification}), models.ErrConnectionClosed)

	other := models.NewClientConnection("conn-b", nil, 4)
	other.SessionID = "ward-9"
	cm.Add(other)

	// Another session being online does not make this one reachable.
	assert.False(t, owner.IsConnected())
	assert.ErrorIs(t, owner.Send(models.ServerMessage{Type: models.MessageTypeNotification}), models.ErrConnectionClosed)

	reconnected := models.NewClientConnection("conn-a2", nil, 4)
	reconnected.SessionID = "ward-7"
	cm.Add(reconnected)

	require.True(t, owner.IsConnected())
	require.NoError(t, owner.Send(models.ServerMessage{Type: models.MessageTypeNotification, Task: "collect Hb"}))

	select {
	case msg := <-reconnected.WriteChan:
		assert.Equal(t, "collect Hb", msg.Task)
	default:
		t.Fatal("expected a queued message for the owning session")
	}
	assert.Empty(t, other.WriteChan)

	cm.Remove("conn-a2")
	assert.False(t, owner.IsConnected())
	assert.Len(t, cm.SessionConnections("ward-9"), 1)
}

func TestClientConnection_IDFallsBackToConnID(t *testing.T) {
	conn := models.NewClientConnection("conn-a", nil, 1)
	assert.Equal(t, "conn-a", conn.ID())

	conn.SessionID = "ward-7"
	assert.Equal(t, "ward-7", conn.ID())
}
