// Package geocache wraps a domain.Geocoder with an in-memory LRU cache.
package geocache

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

// Geocoder caches forward lookups keyed by the normalized query. Only hits
// are cached so a place that was missing can resolve on a later attempt.
type Geocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache
	metrics *observability.Metrics
}

// New wraps inner with a cache holding up to size entries.
func New(inner domain.Geocoder, size int, metrics *observability.Metrics) (*Geocoder, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &Geocoder{inner: inner, cache: c, metrics: metrics}, nil
}

func (g *Geocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if v, ok := g.cache.Get(key); ok {
		g.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return v.(domain.GeocodingResult), nil
	}
	g.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := g.inner.ForwardGeocode(ctx, query)
	if err != nil {
		return domain.GeocodingResult{}, err
	}
	if result.Found() {
		g.cache.Add(key, result)
	}
	return result, nil
}

// Len returns the number of cached entries.
func (g *Geocoder) Len() int {
	return g.cache.Len()
}
