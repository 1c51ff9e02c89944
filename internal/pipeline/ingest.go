package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

// Parser extracts a Draft from report text.
type Parser interface {
	Parse(ctx context.Context, text string) (domain.Draft, error)
}

// Locator resolves a place name to coordinates, falling back when it can't.
type Locator interface {
	Resolve(ctx context.Context, place string, fallback *domain.Point) *domain.Point
}

// Publisher delivers an incident to live subscribers and reports how many
// received it.
type Publisher interface {
	Publish(ctx context.Context, inc domain.Incident) int
}

// Mirror durably records published incidents, e.g. to a Kafka topic.
type Mirror interface {
	Mirror(ctx context.Context, inc domain.Incident) error
}

// Result is the outcome of one ingestion.
type Result struct {
	Incident  domain.Incident
	Delivered int
}

// Ingestor runs parse, resolve, assemble and publish for one report.
type Ingestor struct {
	parser    Parser
	locator   Locator
	publisher Publisher
	mirror    Mirror
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewIngestor creates an Ingestor. mirror may be nil.
func NewIngestor(parser Parser, locator Locator, publisher Publisher, mirror Mirror, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		parser:    parser,
		locator:   locator,
		publisher: publisher,
		mirror:    mirror,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest turns text into a published incident tagged with provenance. It
// returns domain.ErrEmptyText for blank input and a *domain.ParseFailure when
// the AI call fails; nothing is published in either case.
func (i *Ingestor) Ingest(ctx context.Context, text, provenance string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, domain.ErrEmptyText
	}
	start := time.Now()

	draft, err := i.parser.Parse(ctx, text)
	if err != nil {
		i.metrics.ParseFailures.Inc()
		return Result{}, err
	}

	// Road work with a path is drawn as a line; a geocoded point is unused.
	var resolved *domain.Point
	if draft.EventType != domain.EventRoadWork || len(draft.Path) < 2 {
		resolved = i.locator.Resolve(ctx, draft.LocationText, draft.ApproxCoordinates)
	}

	inc := domain.Finalize(draft, resolved, provenance)
	if err := inc.Validate(); err != nil {
		return Result{}, fmt.Errorf("finalize incident: %w", err)
	}

	delivered := i.publisher.Publish(ctx, inc)

	if i.mirror != nil {
		if err := i.mirror.Mirror(ctx, inc); err != nil {
			i.metrics.MirrorErrors.Inc()
			i.logger.Warn("mirror incident failed", "incident_id", inc.ID, "error", err)
		}
	}

	i.metrics.IncidentsTotal.WithLabelValues(string(inc.Type)).Inc()
	i.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	i.logger.Info("incident published",
		"incident_id", inc.ID,
		"type", inc.Type,
		"located", inc.Coordinates.Located(),
		"delivered", delivered,
		"reported_by", provenance,
	)

	return Result{Incident: inc, Delivered: delivered}, nil
}
