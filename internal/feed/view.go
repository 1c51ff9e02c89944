package feed

import (
	"slices"
	"time"

	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// Cursor bounds.
const (
	CursorMin = 0
	CursorMax = 100
)

// View returns the incidents at or before the cursor's point in the
// collection's time range, newest first. The cursor maps linearly from the
// oldest timestamp (0) to the newest (100) and is clamped to that range.
// incidents is not modified.
func View(incidents []domain.Incident, cursor int) []domain.Incident {
	if len(incidents) == 0 {
		return nil
	}
	threshold := Threshold(incidents, cursor)

	visible := make([]domain.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if !inc.Timestamp.After(threshold) {
			visible = append(visible, inc)
		}
	}
	slices.SortStableFunc(visible, func(a, b domain.Incident) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return visible
}

// Threshold is the latest timestamp visible at cursor.
func Threshold(incidents []domain.Incident, cursor int) time.Time {
	lo, hi := timeRange(incidents)
	cursor = min(max(cursor, CursorMin), CursorMax)
	span := hi.Sub(lo)
	// Split the span so the product stays within int64 for any range.
	c := time.Duration(cursor)
	return lo.Add(span/CursorMax*c + span%CursorMax*c/CursorMax)
}

func timeRange(incidents []domain.Incident) (lo, hi time.Time) {
	lo, hi = incidents[0].Timestamp, incidents[0].Timestamp
	for _, inc := range incidents[1:] {
		if inc.Timestamp.Before(lo) {
			lo = inc.Timestamp
		}
		if inc.Timestamp.After(hi) {
			hi = inc.Timestamp
		}
	}
	return lo, hi
}

// Markers returns the incidents a map can draw. Location-less incidents stay
// in the feed list but get no marker.
func Markers(view []domain.Incident) []domain.Incident {
	markers := make([]domain.Incident, 0, len(view))
	for _, inc := range view {
		if inc.Coordinates.Located() {
			markers = append(markers, inc)
		}
	}
	return markers
}

// Counts tallies incidents by type. Every known type is present, zero or not.
func Counts(view []domain.Incident) map[domain.EventType]int {
	counts := map[domain.EventType]int{
		domain.EventEmergency: 0,
		domain.EventRepair:    0,
		domain.EventRoadWork:  0,
	}
	for _, inc := range view {
		counts[inc.Type]++
	}
	return counts
}
