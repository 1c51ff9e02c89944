package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/incident-map-service/internal/config"
	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// Reader consumes raw channel posts from a Kafka topic.
// It implements pipeline.Source.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &Reader{reader: r, logger: logger}
}

// Next blocks until a message is fetched. Offsets are committed through the
// returned message's Commit func once the message has been handled.
func (r *Reader) Next(ctx context.Context) (domain.RawMessage, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawMessage{}, err
	}
	raw := mapMessageToRawMessage(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw, nil
}

// CheckReadiness verifies a broker is reachable.
func (r *Reader) CheckReadiness(ctx context.Context) error {
	cfg := r.reader.Config()
	conn, err := kafkago.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawMessage accepts either a JSON {"text","source_label"} body
// or plain text. The source label falls back to the "source" header.
func mapMessageToRawMessage(msg kafkago.Message) domain.RawMessage {
	raw := domain.RawMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	var body struct {
		Text        string `json:"text"`
		SourceLabel string `json:"source_label"`
	}
	if err := json.Unmarshal(msg.Value, &body); err == nil && body.Text != "" {
		raw.Text = body.Text
		raw.SourceLabel = body.SourceLabel
	} else {
		raw.Text = strings.TrimSpace(string(msg.Value))
	}

	if raw.SourceLabel == "" {
		for _, h := range msg.Headers {
			if h.Key == "source" {
				raw.SourceLabel = string(h.Value)
				break
			}
		}
	}
	return raw
}
