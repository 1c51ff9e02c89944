// Package domain models incident reports for the city incident map.
//
// # Data Source
//
// Reports arrive as free text: posts from a monitored messaging channel, or
// text pasted by an operator. An AI text-parsing service extracts a loosely
// typed set of fields from each report, which [NormalizeDraft] turns into a
// [Draft]. The draft's location text is then geocoded and the result is
// finalized into an [Incident] that viewers receive over a live push channel.
//
// # Draft Normalization
//
// AI output is never trusted. Every field is defaulted deterministically:
//
//	event_type:  "repair" | "road_work" kept, anything else → "emergency"
//	severity:    non-empty string kept, otherwise "unknown"
//	duration:    non-empty string kept, otherwise "unknown"
//	coordinates: kept only when both lat and lng are finite numbers
//	path:        kept only for road_work, and only with ≥2 valid vertices
//
// # Coordinates
//
// A finalized incident carries exactly one coordinate shape:
//
//	point     {"lat": 44.84, "lng": 65.50}
//	polyline  {"polyline": [[44.84, 65.50], [44.85, 65.51]]}
//	none      {"lat": null, "lng": null}
//
// The "none" shape marks a location-less incident. It is valid data that
// stays in the feed but is never drawn as a map marker. A partial point
// (lat without lng) is rejected by [Coordinates.Validate].
//
// # ID Generation
//
// Incident IDs are UUIDv7 strings. They sort by creation time and are unique
// for the lifetime of the process. See [NewIncidentID].
package domain
