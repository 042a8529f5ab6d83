package mqtt

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

// Event is the JSON payload published for a notification.
type Event struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink publishes notifications as JSON to <topic>/<type>. It implements
// notification.Sink.
type Sink struct {
	client  Client
	topic   string
	metrics *metrics.MQTTMetrics
}

// NewSink returns a sink publishing through client. m may be nil.
func NewSink(client Client, topic string, m *metrics.MQTTMetrics) *Sink {
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Sink{client: client, topic: topic, metrics: m}
}

// Deliver publishes n. A disconnected client gets one connection attempt.
func (s *Sink) Deliver(ctx context.Context, n *entities.Notification) error {
	payload, err := json.Marshal(Event{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return errors.New(err).Component("mqtt").Category(errors.CategoryGeneric).Build()
	}

	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return err
		}
	}

	topic := path.Join(s.topic, n.Type)
	start := time.Now()
	if err := s.client.Publish(ctx, topic, payload); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObservePublish(n.Type, len(payload), time.Since(start))
	}
	GetLogger().Debug("job event published",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)))
	return nil
}
