// Package notification delivers job notifications to users and alert
// messages to administrators.
//
// Job notifications flow through a Sink. The store sink persists them for
// the web layer; further sinks (MQTT) fan the same event out to other
// consumers. Administrator alerts go through a ShoutrrrSender.
package notification

import (
	"context"
	"time"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

// Sink receives user notifications.
type Sink interface {
	Deliver(ctx context.Context, n *entities.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n *entities.Notification) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, n *entities.Notification) error {
	return f(ctx, n)
}

// StoreSink persists notifications.
type StoreSink struct {
	store datastore.NotificationStore
}

// NewStoreSink returns a sink writing to store.
func NewStoreSink(store datastore.NotificationStore) *StoreSink {
	return &StoreSink{store: store}
}

// Deliver saves n, assigning its ID.
func (s *StoreSink) Deliver(ctx context.Context, n *entities.Notification) error {
	return s.store.SaveNotification(ctx, n)
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers to every registered sink in registration order. A failing
// sink does not stop delivery to the others.
type Fanout struct {
	sinks    []namedSink
	recorder metrics.Recorder
}

// NewFanout creates an empty Fanout. A nil recorder disables metrics.
func NewFanout(recorder metrics.Recorder) *Fanout {
	if recorder == nil {
		recorder = metrics.NoOpRecorder{}
	}
	return &Fanout{recorder: recorder}
}

// Add registers a sink. Register the store sink first so later sinks see
// the assigned notification ID.
func (f *Fanout) Add(name string, s Sink) *Fanout {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
	return f
}

// Deliver sends n to all sinks and joins their errors.
func (f *Fanout) Deliver(ctx context.Context, n *entities.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		start := time.Now()
		err := s.sink.Deliver(ctx, n)
		f.recorder.RecordDuration(s.name, time.Since(start).Seconds())
		if err != nil {
			f.recorder.RecordOperation(s.name, metrics.StatusError)
			f.recorder.RecordError(s.name, string(errors.KindOf(err)))
			GetLogger().Warn("notification delivery failed",
				logger.String("sink", s.name),
				logger.Uint64("user_id", uint64(n.UserID)),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}
		f.recorder.RecordOperation(s.name, metrics.StatusSuccess)
	}
	return errors.Join(errs...)
}
