package mqtt

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	connects   int
	messages   []published
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{topic, payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func notificationFixture() *entities.Notification {
	return &entities.Notification{
		ID:        "0f8c",
		UserID:    7,
		Type:      "job_completed",
		Title:     "Clustering run completed",
		Message:   "Created 4 clusters.",
		Link:      "/clustering/runs/3/",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSink_PublishesEvent(t *testing.T) {
	fc := &fakeClient{connected: true}
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	sink := NewSink(fc, "lab/jobs", m)
	require.NoError(t, sink.Deliver(t.Context(), notificationFixture()))

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "lab/jobs/job_completed", fc.messages[0].topic)

	var ev Event
	require.NoError(t, json.Unmarshal(fc.messages[0].payload, &ev))
	assert.Equal(t, "0f8c", ev.ID)
	assert.Equal(t, uint(7), ev.UserID)
	assert.Equal(t, "/clustering/runs/3/", ev.Link)
	assert.Equal(t, 0, fc.connects)

	count, err := testutil.GatherAndCount(reg, "mqtt_job_events_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSink_ConnectsWhenDisconnected(t *testing.T) {
	fc := &fakeClient{}
	sink := NewSink(fc, "", nil)
	require.NoError(t, sink.Deliver(t.Context(), notificationFixture()))
	assert.Equal(t, 1, fc.connects)
	assert.Equal(t, "battycoda/jobs/job_completed", fc.messages[0].topic)
}

func TestSink_Errors(t *testing.T) {
	offline := stderrors.New("broker offline")

	fc := &fakeClient{connectErr: offline}
	err := NewSink(fc, "", nil).Deliver(t.Context(), notificationFixture())
	require.ErrorIs(t, err, offline)

	fc = &fakeClient{connected: true, publishErr: offline}
	err = NewSink(fc, "", nil).Deliver(t.Context(), notificationFixture())
	require.ErrorIs(t, err, offline)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errors.CategoryConfiguration, ee.Category)

	c, err := NewClient(ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://127.0.0.1:1"}), nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())

	err = c.Publish(t.Context(), "x", []byte("{}"))
	require.Error(t, err, "publishing needs a connection")
	c.Disconnect()
}

func TestClient_InvalidBroker(t *testing.T) {
	c, err := NewClient(Config{Broker: "::not a url"}, nil)
	require.NoError(t, err)
	err = c.Connect(t.Context())
	require.Error(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://b:1883", Topic: "t", Username: "u"})
	assert.Equal(t, "tcp://b:1883", cfg.Broker)
	assert.Equal(t, "t", cfg.Topic)
	assert.Equal(t, "u", cfg.Username)
	assert.Equal(t, "battycoda", cfg.ClientID)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}
