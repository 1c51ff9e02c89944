// Package ws serves the live incident feed over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/incident-map-service/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var (
	greeting     = []byte(`{"type":"connected"}`)
	keepaliveAck = []byte(`{"type":"ping","status":"connected"}`)
)

// Registry is the subset of *hub.Hub a transport needs.
type Registry interface {
	Subscribe(s hub.Subscriber) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// Handler upgrades requests to WebSocket connections and registers each one
// with the hub until the client goes away.
type Handler struct {
	registry Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. allowedOrigins may contain "*" to accept any
// origin; requests without an Origin header are always accepted.
func NewHandler(registry Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || slices.Contains(allowedOrigins, "*") {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	conn := newConn(c)
	defer conn.Close()

	if err := conn.write(websocket.TextMessage, greeting, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("websocket greeting failed", "error", err)
		return
	}

	sub := h.registry.Subscribe(conn)
	defer h.registry.Unsubscribe(sub)
	h.logger.Debug("websocket client connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	defer close(done)
	go conn.pingLoop(done)

	conn.readLoop(h.logger)
}

// conn adapts a WebSocket connection to hub.Subscriber. gorilla allows one
// concurrent writer, so every write goes through mu.
type conn struct {
	ws        *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(c *websocket.Conn) *conn {
	return &conn{ws: c}
}

// Send writes the envelope as one text frame, giving up at the earlier of
// ctx's deadline and the transport write timeout.
func (c *conn) Send(ctx context.Context, msg hub.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.write(websocket.TextMessage, msg.Data, deadline)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *conn) write(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop answers client text messages with a keepalive ack and returns
// when the connection fails or the peer closes it.
func (c *conn) readLoop(logger *slog.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, _, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if messageType == websocket.TextMessage {
			if err := c.write(websocket.TextMessage, keepaliveAck, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
