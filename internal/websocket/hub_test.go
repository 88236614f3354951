package websocket

import (
	"encoding/json"
	"testing"

	"shuttle-tracker/internal/models"

	"github.com/stretchr/testify/assert"
)

func addClient(h *Hub, userID, role string) *Client {
	c := NewClient(userID, role, nil, h)
	h.mu.Lock()
	h.clients[userID] = c
	h.mu.Unlock()
	return c
}

func TestBroadcastToRole_OnlyMatchingRole(t *testing.T) {
	h := NewHub(nil)
	rider := addClient(h, "r1", models.RoleRider)
	driver := addClient(h, "d1", models.RoleDriver)

	h.BroadcastToRole(models.RoleRider, map[string]string{"type": "fleet_update"})

	select {
	case data := <-rider.send:
		var msg map[string]string
		assert.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "fleet_update", msg["type"])
	default:
		t.Fatal("rider received nothing")
	}

	select {
	case <-driver.send:
		t.Fatal("driver should not receive rider broadcasts")
	default:
	}
}

func TestBroadcastToRole_SkipsFullBuffers(t *testing.T) {
	h := NewHub(nil)
	rider := addClient(h, "r1", models.RoleRider)

	for i := 0; i < cap(rider.send); i++ {
		rider.send <- []byte("x")
	}

	// Must not block.
	h.BroadcastToRole(models.RoleRider, map[string]string{"type": "fleet_update"})
	assert.Equal(t, cap(rider.send), len(rider.send))
}

func TestClientCountAndConnected(t *testing.T) {
	h := NewHub(nil)
	assert.Equal(t, 0, h.GetClientCount())
	assert.False(t, h.IsUserConnected("r1"))

	addClient(h, "r1", models.RoleRider)
	assert.Equal(t, 1, h.GetClientCount())
	assert.True(t, h.IsUserConnected("r1"))
}
