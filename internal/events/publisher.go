// Package events publishes transcript outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"audiomate/internal/observability/metrics"
)

// TranscriptCompleted is emitted when an asset produced a transcript.
type TranscriptCompleted struct {
	EventID    string    `json:"eventId"`
	BatchID    string    `json:"batchId"`
	RunID      string    `json:"runId"`
	Asset      string    `json:"asset"`
	Target     string    `json:"target"`
	Model      string    `json:"model"`
	Degraded   bool      `json:"degraded"`
	Language   string    `json:"language,omitempty"`
	Duration   float64   `json:"duration"`
	Segments   int       `json:"segments"`
	Text       string    `json:"text"`
	TextPath   string    `json:"textPath,omitempty"`
	DocxPath   string    `json:"docxPath,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AssetFailed is emitted when an asset ended without a transcript.
type AssetFailed struct {
	EventID    string    `json:"eventId"`
	BatchID    string    `json:"batchId"`
	Asset      string    `json:"asset"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Message    string    `json:"message"`
	Stderr     string    `json:"stderr,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerCompleted messageWriter
	writerFailed    messageWriter
	principal       string
	topicCompleted  string
	topicFailed     string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicCompleted string
	TopicFailed    string
	Principal      string
	Enabled        bool
}

// New creates a publisher. A disabled config or one without brokers gives a
// log-only publisher.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if cfg == nil {
		log.Info().Msg("kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicCompleted: cfg.TopicCompleted,
			topicFailed:    cfg.TopicFailed,
			metrics:        m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicCompleted", cfg.TopicCompleted).
		Str("topicFailed", cfg.TopicFailed).
		Str("principal", cfg.Principal).
		Msg("kafka publisher initialized")

	return &Publisher{
		writerCompleted: newWriter(cfg.TopicCompleted),
		writerFailed:    newWriter(cfg.TopicFailed),
		principal:       cfg.Principal,
		topicCompleted:  cfg.TopicCompleted,
		topicFailed:     cfg.TopicFailed,
		enabled:         true,
		metrics:         m,
	}
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishCompleted publishes a finished transcript keyed by asset name.
func (p *Publisher) PublishCompleted(ctx context.Context, ev TranscriptCompleted) error {
	return p.publish(ctx, p.writerCompleted, p.topicCompleted, "completed", ev.Asset, ev)
}

// PublishFailed publishes an asset failure keyed by asset name.
func (p *Publisher) PublishFailed(ctx context.Context, ev AssetFailed) error {
	return p.publish(ctx, p.writerFailed, p.topicFailed, "failed", ev.Asset, ev)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("failed to write to kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerCompleted != nil {
		if e := p.writerCompleted.Close(); e != nil {
			log.Error().Err(e).Msg("error closing completed writer")
			err = e
		}
	}
	if p.writerFailed != nil {
		if e := p.writerFailed.Close(); e != nil {
			log.Error().Err(e).Msg("error closing failed writer")
			err = e
		}
	}
	return err
}
