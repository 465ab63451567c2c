// Package events publishes editor domain events (uploads, saves) to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topics
const (
	TopicMediaUploaded     = "cms.media.uploaded"
	TopicContentSaved      = "cms.content.saved"
	TopicContentSaveFailed = "cms.content.save_failed"
)

// Publisher sends a JSON-encoded value to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

// MediaUploaded is published once a file has been processed and cached
type MediaUploaded struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Compressed  bool      `json:"compressed"`
	ProjectID   string    `json:"projectId,omitempty"`
	RemoteURL   string    `json:"remoteUrl,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// ContentSaved is published after a successful auto-save persistence
type ContentSaved struct {
	ProjectID string    `json:"projectId"`
	Version   int       `json:"version"`
	SavedAt   time.Time `json:"savedAt"`
}

// ContentSaveFailed is published once retries are exhausted
type ContentSaveFailed struct {
	ProjectID string `json:"projectId"`
	Version   int    `json:"version"`
	Error     string `json:"error"`
}

// KafkaPublisher writes events with one kafka-go writer per topic
type KafkaPublisher struct {
	mu       sync.Mutex
	writers  map[string]*kafka.Writer
	brokers  []string
	clientID string
	logger   *zap.Logger
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(brokers []string, clientID string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writers:  make(map[string]*kafka.Writer),
		brokers:  brokers,
		clientID: clientID,
		logger:   logger,
	}
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: p.clientID,
		},
	}
	p.writers[topic] = w
	return w
}

// Publish sends value as JSON to topic
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	msg, err := encode(key, value)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return err
	}

	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("Event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Close closes all writers
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("Failed to close Kafka writer",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return nil
}

func encode(key string, value interface{}) (kafka.Message, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

// Recorded is one event captured by a Recorder
type Recorded struct {
	Topic string
	Key   string
	Value interface{}
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, topic, key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Topic: topic, Key: key, Value: value})
	return nil
}

// Close implements Publisher
func (r *Recorder) Close() error { return nil }

// Topics returns the topic of every recorded event in order
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, len(r.Events))
	for i, e := range r.Events {
		topics[i] = e.Topic
	}
	return topics
}
