// Package hub fans finalized incidents out to live subscribers.
//
// The hub owns its subscriber registry; transports (WebSocket, SSE) register
// a Subscriber per connection and unsubscribe when the connection ends. A
// subscriber whose send fails is pruned and closed during the publish that
// observed the failure.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

// Message is one envelope ready for delivery. Data is the JSON-encoded
// domain.Envelope; Event and ID are exposed for transports that frame
// messages themselves.
type Message struct {
	Event string
	ID    string
	Data  []byte
}

// Subscriber is one live connection.
type Subscriber interface {
	// Send delivers msg, returning an error if the connection is unusable.
	// Implementations must respect ctx's deadline.
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	sub Subscriber
}

// Hub is a registry of subscribers. The zero value is not usable; call New.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates a Hub. Each delivery is bounded by sendTimeout.
func New(sendTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:        make(map[*Subscription]struct{}),
		sendTimeout: sendTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscribe registers s. It receives every publish that starts after this
// call returns.
func (h *Hub) Subscribe(s Subscriber) *Subscription {
	sub := &Subscription{sub: s}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.Subscribers.Set(float64(n))
	h.logger.Debug("subscriber added", "subscribers", n)
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once and does not
// close the subscriber.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if h.remove(sub) {
		h.logger.Debug("subscriber removed", "subscribers", h.Len())
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends inc to every current subscriber concurrently and returns
// how many received it. Subscribers whose send failed are pruned. Each send
// is bounded by the hub's send timeout only; cancelling ctx does not abort
// deliveries, so a departing publisher never disconnects viewers.
func (h *Hub) Publish(ctx context.Context, inc domain.Incident) int {
	msg, err := encode(inc)
	if err != nil {
		h.logger.Error("encode envelope failed", "incident_id", inc.ID, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	failed := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(base, h.sendTimeout)
			defer cancel()
			if err := sub.sub.Send(sendCtx, msg); err != nil {
				h.logger.Debug("delivery failed, pruning subscriber", "incident_id", inc.ID, "error", err)
				failed[i] = true
			}
		}()
	}
	wg.Wait()

	delivered := 0
	for i, sub := range targets {
		if !failed[i] {
			delivered++
			continue
		}
		if h.remove(sub) {
			h.metrics.BroadcastPruned.Inc()
			_ = sub.sub.Close()
		}
	}
	h.metrics.BroadcastDeliveries.Add(float64(delivered))
	return delivered
}

// Close closes and removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		_ = sub.sub.Close()
	}
	h.metrics.Subscribers.Set(0)
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.metrics.Subscribers.Set(float64(n))
	}
	return ok
}

func encode(inc domain.Incident) (Message, error) {
	data, err := json.Marshal(domain.Envelope{Type: domain.EnvelopeNewIncident, Data: &inc})
	if err != nil {
		return Message{}, err
	}
	return Message{Event: domain.EnvelopeNewIncident, ID: inc.ID, Data: data}, nil
}
