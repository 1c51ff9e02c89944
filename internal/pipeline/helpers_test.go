package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
	"github.com/couchcryptid/incident-map-service/internal/pipeline"
)

// --- mocks ---

type stubGeocoder struct {
	mu      sync.Mutex
	queries []string
	result  domain.GeocodingResult
	err     error
	block   bool
	aborted chan struct{}
}

func (g *stubGeocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	g.mu.Lock()
	g.queries = append(g.queries, query)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		if g.aborted != nil {
			close(g.aborted)
		}
		return domain.GeocodingResult{}, ctx.Err()
	}
	return g.result, g.err
}

func (g *stubGeocoder) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

type stubExtractor struct {
	fields map[string]any
	err    error
}

func (e *stubExtractor) Extract(_ context.Context, _ string) (map[string]any, error) {
	return e.fields, e.err
}

type stubLocator struct {
	calls       int
	result      *domain.Point
	useFallback bool
}

func (l *stubLocator) Resolve(_ context.Context, _ string, fallback *domain.Point) *domain.Point {
	l.calls++
	if l.useFallback {
		return fallback
	}
	return l.result
}

type stubPublisher struct {
	mu        sync.Mutex
	published []domain.Incident
	reach     int
}

func (p *stubPublisher) Publish(_ context.Context, inc domain.Incident) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, inc)
	return p.reach
}

func (p *stubPublisher) incidents() []domain.Incident {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Incident(nil), p.published...)
}

type stubMirror struct {
	mirrored []domain.Incident
	err      error
}

func (m *stubMirror) Mirror(_ context.Context, inc domain.Incident) error {
	m.mirrored = append(m.mirrored, inc)
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func drafting(fields map[string]any) *pipeline.DraftParser {
	return pipeline.NewDraftParser(&stubExtractor{fields: fields})
}
