// Package sse serves the live incident feed as a Server-Sent Events stream.
package sse

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/launchdarkly/eventsource"

	"github.com/couchcryptid/incident-map-service/internal/hub"
)

const writeWait = 10 * time.Second

// Registry is the subset of *hub.Hub a transport needs.
type Registry interface {
	Subscribe(s hub.Subscriber) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// event adapts a hub.Message to eventsource.Event.
type event struct {
	id, name, data string
}

func (e event) Id() string    { return e.id }
func (e event) Event() string { return e.name }
func (e event) Data() string  { return e.data }

// Handler streams envelopes to one client per request.
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &stream{
		enc:    eventsource.NewEncoder(w, false),
		rc:     rc,
		closed: make(chan struct{}),
	}
	if err := s.send(event{name: "connected", data: `{"type":"connected"}`}, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("sse greeting failed", "error", err)
		return
	}

	sub := h.registry.Subscribe(s)
	defer h.registry.Unsubscribe(sub)
	h.logger.Debug("sse client connected", "remote_addr", r.RemoteAddr)

	select {
	case <-r.Context().Done():
	case <-s.closed:
	}
	s.shutdown()
}

// stream is one open SSE response. Writes after the handler returns are
// rejected since the ResponseWriter is no longer valid.
type stream struct {
	mu     sync.Mutex
	enc    *eventsource.Encoder
	rc     *http.ResponseController
	done   bool
	closed chan struct{}
	once   sync.Once
}

var errStreamClosed = errors.New("sse stream closed")

// Send writes msg as a named event with the incident id.
func (s *stream) Send(ctx context.Context, msg hub.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return s.send(event{id: msg.ID, name: msg.Event, data: string(msg.Data)}, deadline)
}

// Close ends the stream; the handler returns and the response is finished.
func (s *stream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *stream) send(ev event, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errStreamClosed
	}
	if err := s.rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *stream) shutdown() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}
