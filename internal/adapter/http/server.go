package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/pipeline"
)

const maxBodyBytes = 64 << 10

// Ingester runs a manual submission through the pipeline inline.
type Ingester interface {
	Ingest(ctx context.Context, text, provenance string) (pipeline.Result, error)
}

// Enqueuer accepts pushed channel messages for asynchronous ingestion.
type Enqueuer interface {
	Offer(msg domain.RawMessage) error
}

// Broadcaster publishes a ready-made incident to live subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, inc domain.Incident) int
}

// Handlers wires the server's routes to the components behind them.
type Handlers struct {
	Ingester       Ingester
	Queue          Enqueuer
	Broadcaster    Broadcaster
	Live           http.Handler // WebSocket feed
	Events         http.Handler // SSE feed
	Ready          sharedobs.ReadinessChecker
	AllowedOrigins []string
}

// Server exposes the ingestion API, the live feeds, and the health,
// readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	handlers   Handlers
	logger     *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(addr string, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           withCORS(h.AllowedOrigins, mux),
			ReadHeaderTimeout: 10 * time.Second,
			// Manual ingestion waits on the AI call and the geocode budget.
			// Live feeds set their own per-write deadlines.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handlers: h,
		logger:   logger,
	}

	mux.HandleFunc("POST /parse-news", s.handleIngest)
	mux.HandleFunc("POST /api/incidents", s.handleIngest)
	mux.HandleFunc("POST /api/channel-messages", s.handleChannelMessage)
	mux.HandleFunc("POST /broadcast-incident", s.handleBroadcast)
	if h.Live != nil {
		mux.Handle("GET /ws", h.Live)
	}
	if h.Events != nil {
		mux.Handle("GET /api/events", h.Events)
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(h.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type newsRequest struct {
	Text string `json:"text"`
}

type channelMessageRequest struct {
	Text        string `json:"text"`
	SourceLabel string `json:"source_label"`
}

type broadcastResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.handlers.Ingester.Ingest(r.Context(), req.Text, domain.ManualProvenance)
	var pf *domain.ParseFailure
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res.Incident)
	case errors.Is(err, domain.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "Text must not be empty.")
	case errors.As(err, &pf):
		s.logger.Warn("manual submission parse failed", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to parse news text: "+pf.Err.Error())
	default:
		s.logger.Error("manual submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process news text.")
	}
}

func (s *Server) handleChannelMessage(w http.ResponseWriter, r *http.Request) {
	var req channelMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Text must not be empty.")
		return
	}

	err := s.handlers.Queue.Offer(domain.RawMessage{Text: req.Text, SourceLabel: req.SourceLabel})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrQueueClosed):
		s.logger.Warn("channel message rejected", "error", err, "source_label", req.SourceLabel)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleBroadcast publishes an already-finalized incident unchanged.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var inc domain.Incident
	if !decodeBody(w, r, &inc) {
		return
	}
	if err := inc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := s.handlers.Broadcaster.Publish(r.Context(), inc)
	s.logger.Info("incident broadcast", "incident_id", inc.ID, "connections", n)
	writeJSON(w, http.StatusOK, broadcastResponse{Status: "broadcasted", Connections: n})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
