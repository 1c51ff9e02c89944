// Package feed keeps a viewer's local incident collection in step with the
// live channel and derives what a map or feed list should show.
//
// Reconcile is purely additive: the collection only grows, newest arrival
// first. Everything else (the time-filtered view, markers, counts) is derived
// from the collection on demand and never written back into it.
package feed

import (
	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// Focus asks the map to center on an incident and highlight it.
type Focus struct {
	IncidentID string
	Center     domain.Point
}

// Reconcile returns a new collection with incoming ahead of local. local is
// not modified. An incident whose id is already known is ignored, so the same
// incident arriving over two paths is shown once. The returned Focus is nil
// when incoming was ignored or has no drawable location.
func Reconcile(local []domain.Incident, incoming domain.Incident) ([]domain.Incident, *Focus) {
	for i := range local {
		if local[i].ID == incoming.ID {
			return local, nil
		}
	}

	merged := make([]domain.Incident, 0, len(local)+1)
	merged = append(merged, incoming)
	merged = append(merged, local...)

	center, ok := incoming.Coordinates.Center()
	if !ok {
		return merged, nil
	}
	return merged, &Focus{IncidentID: incoming.ID, Center: center}
}
