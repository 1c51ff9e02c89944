package feed

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// Derived is everything a viewer renders, computed from one snapshot of the
// collection and cursor.
type Derived struct {
	Visible []domain.Incident
	Markers []domain.Incident
	Counts  map[domain.EventType]int
	Focus   *Focus
	Cursor  int
	Total   int
}

// Session is one viewer's local state. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	incidents []domain.Incident
	cursor    int
	focus     *Focus
}

// NewSession returns an empty session with the cursor at the newest end.
func NewSession() *Session {
	return &Session{cursor: CursorMax}
}

// Apply decodes a live-channel envelope and merges its incident. It reports
// whether the collection changed; unknown envelope types are ignored.
func (s *Session) Apply(envelope []byte) (bool, error) {
	var env struct {
		Type string           `json:"type"`
		Data *domain.Incident `json:"data"`
	}
	if err := json.Unmarshal(envelope, &env); err != nil {
		return false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != domain.EnvelopeNewIncident || env.Data == nil {
		return false, nil
	}
	return s.Add(*env.Data), nil
}

// Add merges an incident received outside the live channel, such as the
// response to a manual submission.
func (s *Session) Add(inc domain.Incident) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, focus := Reconcile(s.incidents, inc)
	if len(merged) == len(s.incidents) {
		return false
	}
	s.incidents = merged
	if focus != nil {
		s.focus = focus
	}
	return true
}

// SetCursor moves the time cursor, clamped to 0–100.
func (s *Session) SetCursor(cursor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = min(max(cursor, CursorMin), CursorMax)
}

// Snapshot derives the current view.
func (s *Session) Snapshot() Derived {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := View(s.incidents, s.cursor)
	return Derived{
		Visible: visible,
		Markers: Markers(visible),
		Counts:  Counts(visible),
		Focus:   s.focus,
		Cursor:  s.cursor,
		Total:   len(s.incidents),
	}
}

// Incidents returns a copy of the collection in arrival order, newest first.
func (s *Session) Incidents() []domain.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Incident(nil), s.incidents...)
}
