package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/session"
)

func dialHub(t *testing.T, hub *EventHub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestEventHub_BroadcastsTransitions(t *testing.T) {
	hub := NewEventHub(testLogger())

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	// Registration races the dial; wait for the hub to see the client
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.Broadcast(session.Transition{
		From:  session.StatusActive,
		To:    session.StatusRevoked,
		Cause: "revocation:logged_in_elsewhere",
		At:    time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "session_transition", msg["type"])
	assert.Equal(t, "active", msg["from"])
	assert.Equal(t, "revoked", msg["to"])
	assert.Equal(t, "revocation:logged_in_elsewhere", msg["cause"])
}

func TestEventHub_RunConsumesEvents(t *testing.T) {
	hub := NewEventHub(testLogger())

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	events := make(chan session.Transition, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, events)

	events <- session.Transition{
		From: session.StatusAuthenticating,
		To:   session.StatusActive,
		At:   time.Now(),
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"to":"active"`)
}

func TestEventHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewEventHub(testLogger())

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Broadcasting with no clients must not panic
	hub.Broadcast(session.Transition{From: session.StatusActive, To: session.StatusExpired, At: time.Now()})
}
