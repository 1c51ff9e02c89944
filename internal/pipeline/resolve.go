package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

var errBudgetExceeded = errors.New("geocode budget exceeded")

// ResolverConfig scopes geocoding to one locality.
type ResolverConfig struct {
	// Qualifier is appended to every place name, e.g. "Кызылорда, Казахстан".
	Qualifier string
	// Bounds rejects results outside the locality. Nil accepts any result.
	Bounds *domain.Bounds
	// Budget caps a single lookup.
	Budget time.Duration
}

// Resolver turns a free-text place into coordinates within a time budget.
// It never fails: every unusable outcome yields the caller's fallback.
type Resolver struct {
	geocoder domain.Geocoder
	cfg      ResolverConfig
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil geocoder disables lookups.
func NewResolver(geocoder domain.Geocoder, cfg ResolverConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		geocoder: geocoder,
		cfg:      cfg,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Resolve looks up place within the configured budget.
func (r *Resolver) Resolve(ctx context.Context, place string, fallback *domain.Point) *domain.Point {
	return r.ResolveWithin(ctx, place, fallback, r.cfg.Budget)
}

// ResolveWithin looks up place and returns its coordinates, or fallback when
// the place is empty, nothing was found, the result lies outside the
// locality, the provider failed, or budget ran out first.
func (r *Resolver) ResolveWithin(ctx context.Context, place string, fallback *domain.Point, budget time.Duration) *domain.Point {
	place = strings.TrimSpace(place)
	if place == "" || r.geocoder == nil {
		r.observe("skipped")
		return fallback
	}

	query := place
	if r.cfg.Qualifier != "" {
		query = place + ", " + r.cfg.Qualifier
	}

	result, err := raceLookup(ctx, r.clock, budget, func(ctx context.Context) (domain.GeocodingResult, error) {
		return r.geocoder.ForwardGeocode(ctx, query)
	})
	switch {
	case errors.Is(err, errBudgetExceeded):
		r.observe("timeout")
		r.logger.Warn("geocode budget exceeded, using fallback", "query", query, "budget", budget)
		return fallback
	case err != nil:
		r.observe("error")
		r.logger.Warn("geocode failed, using fallback", "query", query, "error", err)
		return fallback
	case !result.Found():
		r.observe("empty")
		return fallback
	}

	p := domain.Point{Lat: result.Lat, Lng: result.Lon}
	if r.cfg.Bounds != nil && !r.cfg.Bounds.Contains(p) {
		r.observe("out_of_bounds")
		r.logger.Debug("geocode result outside locality", "query", query, "lat", p.Lat, "lng", p.Lng)
		return fallback
	}
	r.observe("success")
	return &p
}

func (r *Resolver) observe(outcome string) {
	r.metrics.GeocodeRequests.WithLabelValues(outcome).Inc()
}

type lookupResult struct {
	result domain.GeocodingResult
	err    error
}

// raceLookup runs lookup in its own goroutine and returns whichever happens
// first: the lookup finishing, budget elapsing on clock, or ctx ending. The
// lookup's context is cancelled on return so a late result is discarded.
func raceLookup(ctx context.Context, clock clockwork.Clock, budget time.Duration, lookup func(context.Context) (domain.GeocodingResult, error)) (domain.GeocodingResult, error) {
	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		res, err := lookup(lookupCtx)
		done <- lookupResult{result: res, err: err}
	}()

	timer := clock.NewTimer(budget)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.Chan():
		return domain.GeocodingResult{}, errBudgetExceeded
	case <-ctx.Done():
		return domain.GeocodingResult{}, ctx.Err()
	}
}
