package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// Geocoder providers selectable via GEOCODER_PROVIDER.
const (
	GeocoderNominatim = "nominatim"
	GeocoderMapbox    = "mapbox"
	GeocoderNone      = "none"
)

// DefaultEnvFile is read by LoadEnvFile when no other file is named.
const DefaultEnvFile = ".env"

// LoadEnvFile applies variables from a dotenv file to the process
// environment. Variables that are already set keep their values. A missing
// DefaultEnvFile is not an error; any other missing file is.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist) && path == DefaultEnvFile:
		return nil
	default:
		return fmt.Errorf("load env file %s: %w", path, err)
	}
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Gemini text-parsing configuration.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	GeminiTimeout time.Duration

	// Geocoding configuration.
	GeocoderProvider   string
	NominatimURL       string
	NominatimUserAgent string
	MapboxToken        string
	GeocodeBudget      time.Duration
	GeocodeCacheSize   int
	LocalityQualifier  string
	LocalityBounds     *domain.Bounds

	// Ingestion and broadcast.
	IngestQueueSize      int
	IngestWorkers        int
	MinMessageLength     int
	BroadcastSendTimeout time.Duration

	// Kafka channel source and incident mirror.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	geminiTimeout, err := parseDuration("GEMINI_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	geocodeBudget, err := parseDuration("GEOCODE_BUDGET", "5s")
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseDuration("BROADCAST_SEND_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	cacheSize, err := parsePositiveInt("GEOCODE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	queueSize, err := parsePositiveInt("INGEST_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	workers, err := parsePositiveInt("INGEST_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	minLength, err := parseNonNegativeInt("MIN_MESSAGE_LENGTH", 10)
	if err != nil {
		return nil, err
	}

	bounds, err := parseBounds(envOrDefaultAllowEmpty("LOCALITY_BOUNDS", "44.7,65.3,45.0,65.7"))
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8000"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  splitList(sharedcfg.EnvOrDefault("ALLOWED_ORIGINS", "*")),

		GeminiAPIKey:  apiKey,
		GeminiModel:   sharedcfg.EnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: sharedcfg.EnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1"),
		GeminiTimeout: geminiTimeout,

		GeocoderProvider:   strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER_PROVIDER", GeocoderNominatim)),
		NominatimURL:       sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "KyzylordaDashboard/1.0"),
		MapboxToken:        os.Getenv("MAPBOX_TOKEN"),
		GeocodeBudget:      geocodeBudget,
		GeocodeCacheSize:   cacheSize,
		LocalityQualifier:  sharedcfg.EnvOrDefault("LOCALITY_QUALIFIER", "Кызылорда, Казахстан"),
		LocalityBounds:     bounds,

		IngestQueueSize:      queueSize,
		IngestWorkers:        workers,
		MinMessageLength:     minLength,
		BroadcastSendTimeout: sendTimeout,

		KafkaEnabled:     os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "channel-posts"),
		KafkaSinkTopic:   envOrDefaultAllowEmpty("KAFKA_SINK_TOPIC", "incidents"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "incident-map"),
	}

	switch cfg.GeocoderProvider {
	case GeocoderNominatim, GeocoderNone:
	case GeocoderMapbox:
		if cfg.MapboxToken == "" {
			return nil, errors.New("GEOCODER_PROVIDER is mapbox but MAPBOX_TOKEN is not set")
		}
	default:
		return nil, fmt.Errorf("invalid GEOCODER_PROVIDER %q", cfg.GeocoderProvider)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// envOrDefaultAllowEmpty is like EnvOrDefault but treats a variable that is
// set to the empty string as an explicit "off".
func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	n, err := parseNonNegativeInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

// parseBounds reads "minLat,minLng,maxLat,maxLng". An empty value disables
// the locality check.
func parseBounds(s string) (*domain.Bounds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid LOCALITY_BOUNDS %q: want minLat,minLng,maxLat,maxLng", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCALITY_BOUNDS %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return nil, fmt.Errorf("invalid LOCALITY_BOUNDS %q: min must be below max", s)
	}
	return &domain.Bounds{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
