package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

// Source yields raw channel messages one at a time, blocking until one is
// available or ctx ends.
type Source interface {
	Next(ctx context.Context) (domain.RawMessage, error)
}

// Ingester is the subset of *Ingestor the channel loop needs.
type Ingester interface {
	Ingest(ctx context.Context, text, provenance string) (Result, error)
}

// defaultProvenance tags channel incidents whose message carries no label.
const defaultProvenance = "channel"

// Pipeline drains a Source into an Ingester until the context is cancelled.
type Pipeline struct {
	name      string
	source    Source
	ingester  Ingester
	minLength int
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline. name labels the source in logs and metrics.
// Messages shorter than minLength runes are skipped.
func New(name string, source Source, ingester Ingester, minLength int, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		name:      name,
		source:    source,
		ingester:  ingester,
		minLength: minLength,
		logger:    logger.With("source", name),
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the loop is running.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline " + p.name + " is not running")
	}
	return nil
}

// Run processes messages until ctx is cancelled or the source is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "min_length", p.minLength)
	p.metrics.PipelineRunning.Inc()
	p.ready.Store(true)
	defer func() {
		p.ready.Store(false)
		p.metrics.PipelineRunning.Dec()
	}()

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		msg, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			if errors.Is(err, ErrQueueClosed) {
				p.logger.Info("pipeline stopping", "reason", err)
				return nil
			}
			p.logger.Error("read message failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		p.process(ctx, msg)
	}
}

// process ingests one message. The message is committed whatever the
// outcome; a failed parse is dropped, not retried.
func (p *Pipeline) process(ctx context.Context, msg domain.RawMessage) {
	defer p.commitOffset(ctx, msg)
	p.metrics.MessagesReceived.WithLabelValues(p.name).Inc()

	text := strings.TrimSpace(msg.Text)
	if text == "" || utf8.RuneCountInString(text) < p.minLength {
		p.metrics.MessagesSkipped.Inc()
		p.logger.Debug("message too short, skipping", "length", utf8.RuneCountInString(text))
		return
	}

	provenance := msg.SourceLabel
	if provenance == "" {
		provenance = defaultProvenance
	}

	_, err := p.ingester.Ingest(ctx, text, provenance)
	var pf *domain.ParseFailure
	switch {
	case err == nil:
	case errors.As(err, &pf):
		p.logger.Warn("parse failed, dropping message",
			"error", err,
			"source_label", msg.SourceLabel,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	default:
		p.logger.Error("ingest failed, dropping message", "error", err, "source_label", msg.SourceLabel)
	}
}

// commitOffset commits the message if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, msg domain.RawMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
