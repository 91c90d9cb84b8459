package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"keygate/pkg/contracts/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from the peer
	maxMessageSize = 4096
)

// subscribeFrame is the only client-to-server message on the push channel
type subscribeFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// pushFrame is a tagged server-initiated message
type pushFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cause     string `json:"cause"`
}

// Subscribe opens the push channel and delivers server-initiated revocation
// events for the given session until the connection drops or ctx is
// canceled. The returned channel is closed on either; reconnecting is the
// caller's concern.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (<-chan domain.RevocationEvent, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.PushURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	// Initial subscribe handshake; after this the client never sends
	// application messages over the channel.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeFrame{Type: "subscribe", SessionID: sessionID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe handshake failed: %v", ErrNetworkUnavailable, err)
	}

	events := make(chan domain.RevocationEvent)
	go c.readPump(ctx, conn, events)

	return events, nil
}

// readPump reads push frames until error or cancellation. Teardown is
// cooperative and bounded: cancellation forces the blocked read to fail via
// a close deadline rather than hanging on socket state.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, events chan<- domain.RevocationEvent) {
	defer close(events)
	defer conn.Close()

	pongWait := c.cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsubscribe"))
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Push channel closed unexpectedly",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame pushFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("Dropping undecodable push frame",
				slog.String("error", err.Error()),
			)
			continue
		}
		if frame.Type != "revocation" {
			continue
		}

		ev := domain.RevocationEvent{
			SessionID: frame.SessionID,
			Cause:     domain.RevocationCause(frame.Cause),
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
