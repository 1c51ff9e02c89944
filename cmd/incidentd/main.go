package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/incident-map-service/internal/adapter/gemini"
	"github.com/couchcryptid/incident-map-service/internal/adapter/geocache"
	httpadapter "github.com/couchcryptid/incident-map-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/incident-map-service/internal/adapter/kafka"
	"github.com/couchcryptid/incident-map-service/internal/adapter/mapbox"
	"github.com/couchcryptid/incident-map-service/internal/adapter/nominatim"
	"github.com/couchcryptid/incident-map-service/internal/adapter/sse"
	"github.com/couchcryptid/incident-map-service/internal/adapter/ws"
	"github.com/couchcryptid/incident-map-service/internal/config"
	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/hub"
	"github.com/couchcryptid/incident-map-service/internal/observability"
	"github.com/couchcryptid/incident-map-service/internal/pipeline"
)

func main() {
	envFile := config.DefaultEnvFile
	if v := os.Getenv("ENV_FILE"); v != "" {
		envFile = v
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	geocoder, err := newGeocoder(cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to build geocoder", "error", err)
		os.Exit(1)
	}

	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; news parsing will fail until it is configured")
	}
	extractor := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.GeminiTimeout, logger)

	resolver := pipeline.NewResolver(geocoder, pipeline.ResolverConfig{
		Qualifier: cfg.LocalityQualifier,
		Bounds:    cfg.LocalityBounds,
		Budget:    cfg.GeocodeBudget,
	}, clockwork.NewRealClock(), metrics, logger)

	h := hub.New(cfg.BroadcastSendTimeout, logger, metrics)

	var mirror pipeline.Mirror
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic != "" {
		writer = kafkaadapter.NewWriter(cfg, logger)
		mirror = writer
		logger.Info("kafka incident mirror enabled", "topic", cfg.KafkaSinkTopic)
	}

	ingestor := pipeline.NewIngestor(pipeline.NewDraftParser(extractor), resolver, h, mirror, logger, metrics)
	queue := pipeline.NewQueue(cfg.IngestQueueSize, metrics)

	var loops []*pipeline.Pipeline
	checkers := []sharedobs.ReadinessChecker{}
	for range cfg.IngestWorkers {
		p := pipeline.New("queue", queue, ingestor, cfg.MinMessageLength, logger, metrics)
		loops = append(loops, p)
		checkers = append(checkers, p)
	}

	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New("kafka", reader, ingestor, cfg.MinMessageLength, logger, metrics)
		loops = append(loops, p)
		checkers = append(checkers, p, reader)
		logger.Info("kafka channel source enabled", "topic", cfg.KafkaSourceTopic, "group_id", cfg.KafkaGroupID)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Handlers{
		Ingester:       ingestor,
		Queue:          queue,
		Broadcaster:    h,
		Live:           ws.NewHandler(h, cfg.AllowedOrigins, logger),
		Events:         sse.NewHandler(h, logger),
		Ready:          httpadapter.AllReady(checkers...),
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, p := range loops {
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		queue.Close()
		// Live feeds hold their requests open until their subscriber closes,
		// so the hub goes first or Shutdown waits out the whole timeout.
		h.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
	}

	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// newGeocoder builds the configured provider behind an LRU cache, or returns
// nil when geocoding is disabled.
func newGeocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (domain.Geocoder, error) {
	var inner domain.Geocoder
	switch cfg.GeocoderProvider {
	case config.GeocoderNominatim:
		inner = nominatim.NewClient(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.GeocodeBudget, metrics, logger)
	case config.GeocoderMapbox:
		inner = mapbox.NewClient(cfg.MapboxToken, cfg.GeocodeBudget, metrics, logger)
	default:
		logger.Info("geocoding disabled")
		return nil, nil
	}

	cached, err := geocache.New(inner, cfg.GeocodeCacheSize, metrics)
	if err != nil {
		return nil, err
	}
	logger.Info("geocoding enabled",
		"provider", cfg.GeocoderProvider,
		"cache_size", cfg.GeocodeCacheSize,
		"budget", cfg.GeocodeBudget,
	)
	return cached, nil
}
