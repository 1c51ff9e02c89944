package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
// A zero Lat/Lon means the provider found nothing.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score, when reported
}

// Found reports whether the provider returned coordinates.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves free-text place names to coordinates.
type Geocoder interface {
	// ForwardGeocode looks up a fully qualified query, e.g.
	// "улица Абая, Кызылорда, Казахстан". An empty result is not an error.
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)
}

// Extractor is the AI text-parsing capability. It returns whatever fields the
// model produced; callers must pass them through NormalizeDraft.
type Extractor interface {
	Extract(ctx context.Context, text string) (map[string]any, error)
}
