package domain

import "fmt"

var eventTitles = map[EventType]string{
	EventEmergency: "Emergency",
	EventRepair:    "Repair works",
	EventRoadWork:  "Road works",
}

// deriveTitle labels the incident by type and place, e.g.
// "Road works: улица Абая". Location-less incidents get the bare label.
func deriveTitle(eventType EventType, location string) string {
	label := eventTitles[eventType]
	if location == "" {
		return label
	}
	return label + ": " + location
}

func deriveDescription(d Draft) string {
	location := d.LocationText
	if location == "" {
		location = "an unspecified location"
	}
	return fmt.Sprintf("%s reported at %s. Severity: %s. Expected duration: %s.",
		eventTitles[d.EventType], location, d.Severity, d.DurationText)
}
