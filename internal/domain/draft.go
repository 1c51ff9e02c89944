package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// unknownValue is the default for free-form fields the AI left out.
const unknownValue = "unknown"

// NormalizeDraft converts loosely typed AI output into a Draft. It is the
// only place untyped report data enters the system and it never fails:
// missing or garbled fields fall back to defaults.
func NormalizeDraft(fields map[string]any) Draft {
	eventType := normalizeEventType(fields["event_type"])
	draft := Draft{
		LocationText:      stringField(fields["location"], ""),
		EventType:         eventType,
		Severity:          stringField(fields["severity"], unknownValue),
		DurationText:      stringField(fields["duration"], unknownValue),
		ApproxCoordinates: pointField(fields["coordinates"]),
	}
	if eventType == EventRoadWork {
		draft.Path = pathField(fields["path"])
	}
	return draft
}

// normalizeEventType whitelists the non-default event types. Everything
// else, including absence and non-string values, is an emergency.
func normalizeEventType(v any) EventType {
	s, _ := v.(string)
	switch EventType(strings.ToLower(strings.TrimSpace(s))) {
	case EventRepair:
		return EventRepair
	case EventRoadWork:
		return EventRoadWork
	default:
		return EventEmergency
	}
}

func stringField(v any, fallback string) string {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

// pointField accepts {"lat": n, "lng": n} where both values are numbers.
func pointField(v any) *Point {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	lat, okLat := numberField(obj["lat"])
	lng, okLng := numberField(obj["lng"])
	if !okLat || !okLng || !validLatLng(lat, lng) {
		return nil
	}
	return &Point{Lat: lat, Lng: lng}
}

// pathField accepts [[lat, lng], ...] and keeps it only when every vertex is
// valid and there are at least two of them.
func pathField(v any) []Point {
	items, ok := v.([]any)
	if !ok || len(items) < 2 {
		return nil
	}
	path := make([]Point, 0, len(items))
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil
		}
		lat, okLat := numberField(pair[0])
		lng, okLng := numberField(pair[1])
		if !okLat || !okLng || !validLatLng(lat, lng) {
			return nil
		}
		path = append(path, Point{Lat: lat, Lng: lng})
	}
	return path
}

// numberField accepts JSON numbers only; numeric strings are not numbers.
func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
