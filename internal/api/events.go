package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"keygate/internal/session"
)

const (
	// Time allowed to write a message to a UI client
	clientWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from a UI client
	clientPongWait = 60 * time.Second

	// Send pings with this period; must be less than clientPongWait
	clientPingPeriod = (clientPongWait * 9) / 10
)

// EventHub fans session state transitions out to connected UI clients over
// websockets. Clients that fall behind are dropped rather than blocking
// the broadcast.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]chan []byte
}

// NewEventHub creates the transition broadcast hub
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Control API binds to loopback only
				return true
			},
		},
		logger:  logger.With(slog.String("component", "event_hub")),
		clients: make(map[string]chan []byte),
	}
}

// Run consumes transitions until the channel closes or ctx is canceled
func (h *EventHub) Run(ctx context.Context, events <-chan session.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(tr)
		}
	}
}

// Broadcast sends a transition to every connected client
func (h *EventHub) Broadcast(tr session.Transition) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":  "session_transition",
		"from":  tr.From,
		"to":    tr.To,
		"cause": tr.Cause,
		"at":    tr.At,
	})
	if err != nil {
		h.logger.Error("Failed to marshal transition event",
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, send := range h.clients {
		select {
		case send <- payload:
		default:
			h.logger.Warn("Dropping slow event client",
				slog.String("client_id", id),
			)
			close(send)
			delete(h.clients, id)
		}
	}
}

// ServeWS upgrades the request and registers the connection with the hub
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	id := uuid.New().String()
	send := make(chan []byte, 32)

	h.mu.Lock()
	h.clients[id] = send
	h.mu.Unlock()

	go h.writePump(id, conn, send)
	go h.readPump(id, conn)
}

func (h *EventHub) writePump(id string, conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(clientPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; the feed is server-push only
func (h *EventHub) readPump(id string, conn *websocket.Conn) {
	defer func() {
		h.unregister(id)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(clientPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[id]; ok {
		close(send)
		delete(h.clients, id)
	}
}
