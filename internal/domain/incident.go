package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an incident. Only the three canonical types exist
// past the normalization boundary.
type EventType string

const (
	EventEmergency EventType = "emergency"
	EventRepair    EventType = "repair"
	EventRoadWork  EventType = "road_work"
)

// Valid reports whether t is one of the three canonical types.
func (t EventType) Valid() bool {
	switch t {
	case EventEmergency, EventRepair, EventRoadWork:
		return true
	}
	return false
}

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOngoing  Status = "ongoing"
	StatusResolved Status = "resolved"
)

// EnvelopeNewIncident tags a pushed incident on the live channel.
const EnvelopeNewIncident = "new_incident"

// ManualProvenance is the reported_by tag for operator-submitted text.
const ManualProvenance = "AI news parser"

// Draft is the AI-produced precursor to an incident, after normalization.
type Draft struct {
	LocationText      string
	EventType         EventType
	Severity          string
	DurationText      string
	ApproxCoordinates *Point
	Path              []Point // road_work segments only
}

// Incident is the broadcastable, displayable unit. It is never modified
// once finalized; corrections are published as new incidents.
type Incident struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	Coordinates   Coordinates `json:"coordinates"`
	LocationLabel string      `json:"location_label"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Severity      string      `json:"severity,omitempty"`
	Duration      string      `json:"duration,omitempty"`
	ReportedBy    string      `json:"reported_by"`
	Status        Status      `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Validate checks the fields every subscriber relies on: a non-empty id, a
// canonical type, a known status, a timestamp, and well-formed coordinates.
func (inc Incident) Validate() error {
	switch {
	case strings.TrimSpace(inc.ID) == "":
		return errors.New("incident: id is required")
	case !inc.Type.Valid():
		return fmt.Errorf("incident: unknown type %q", inc.Type)
	case inc.Status != StatusOngoing && inc.Status != StatusResolved:
		return fmt.Errorf("incident: unknown status %q", inc.Status)
	case inc.Timestamp.IsZero():
		return errors.New("incident: timestamp is required")
	}
	return inc.Coordinates.Validate()
}

// Envelope is the tagged message sent to live subscribers.
type Envelope struct {
	Type string    `json:"type"`
	Data *Incident `json:"data,omitempty"`
}

// RawMessage is an unprocessed text report from a channel source.
type RawMessage struct {
	Text        string `json:"text"`
	SourceLabel string `json:"source_label"`

	// Transport metadata, unset for in-memory sources.
	Topic     string                          `json:"-"`
	Partition int                             `json:"-"`
	Offset    int64                           `json:"-"`
	Commit    func(ctx context.Context) error `json:"-"`
}

// NewIncidentID returns a time-ordered identifier. UUIDv7 generation is
// monotonic within a process, so IDs never collide for the hub's lifetime.
func NewIncidentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Finalize assembles an incident from a draft and its resolved coordinates.
// Road work drafts that carry a path become polyline incidents; everything
// else becomes a point, or a location-less incident when resolved is nil.
func Finalize(draft Draft, resolved *Point, provenance string) Incident {
	coords := NoLocation()
	switch {
	case draft.EventType == EventRoadWork && len(draft.Path) >= 2:
		coords = Line(draft.Path)
	case resolved != nil:
		coords = PointAt(resolved.Lat, resolved.Lng)
	}

	return Incident{
		ID:            NewIncidentID(),
		Type:          draft.EventType,
		Coordinates:   coords,
		LocationLabel: draft.LocationText,
		Title:         deriveTitle(draft.EventType, draft.LocationText),
		Description:   deriveDescription(draft),
		Severity:      draft.Severity,
		Duration:      draft.DurationText,
		ReportedBy:    provenance,
		Status:        StatusOngoing,
		Timestamp:     clock.Now().UTC(),
	}
}
