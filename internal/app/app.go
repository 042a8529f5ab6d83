// Package app assembles the pipeline services from configuration. Every
// command builds one App and closes it on exit.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/battycoda/battycoda/internal/alerting"
	"github.com/battycoda/battycoda/internal/classification"
	"github.com/battycoda/battycoda/internal/clustering"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/mqtt"
	"github.com/battycoda/battycoda/internal/notification"
	"github.com/battycoda/battycoda/internal/observability"
	"github.com/battycoda/battycoda/internal/rserver"
	"github.com/battycoda/battycoda/internal/securefs"
	"github.com/battycoda/battycoda/internal/segmentation"
	"github.com/battycoda/battycoda/internal/spectrogram"
	"github.com/battycoda/battycoda/internal/training"
)

const defaultShutdownTimeout = 30 * time.Second

// GetLogger returns the module logger for app.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// App holds the wired services of one process.
type App struct {
	Settings *conf.Settings
	Store    datastore.Store
	Media    *securefs.SecureFS
	Metrics  *observability.Metrics
	Alerter  *alerting.Alerter
	Runner   *jobs.Runner

	Segmentation   *segmentation.Engine
	Previews       *segmentation.Previews
	Clustering     *clustering.Engine
	Spectrograms   *spectrogram.Service
	Classification *classification.Service
	Training       *training.Service
	RServer        *rserver.Client

	rserverErr error
	closers    []func() error
}

// Option customises New, mainly for tests.
type Option func(*options)

type options struct {
	store datastore.Store
	http  *httpclient.Client
}

// WithStore uses an already open store instead of opening the configured one.
func WithStore(s datastore.Store) Option { return func(o *options) { o.store = s } }

// WithHTTPClient sets the client used for the R server and external services.
func WithHTTPClient(c *httpclient.Client) Option { return func(o *options) { o.http = c } }

// New opens the store and media root and builds every service. A missing
// R server URL is not fatal; commands that need the server get the error
// from RequireRServer.
func New(ctx context.Context, settings *conf.Settings, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Settings: settings}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store := o.store
	if store == nil {
		var err error
		if store, err = datastore.Open(&settings.Database); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
	}
	a.Store = store

	media, err := securefs.New(settings.Main.MediaRoot)
	if err != nil {
		return nil, err
	}
	a.Media = media
	a.closers = append(a.closers, media.Close)

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}
	if a.Alerter, err = alerting.FromSettings(&settings.Alerting); err != nil {
		return nil, err
	}

	sink, err := a.notificationSink()
	if err != nil {
		return nil, err
	}
	a.Runner = jobs.NewRunner(store, sink, a.Metrics.Jobs, jobs.Config{
		Workers:   settings.Jobs.Workers,
		QueueSize: settings.Jobs.QueueSize,
	})

	client := o.http
	if client == nil {
		client = httpclient.New(nil)
	}

	a.Segmentation = segmentation.NewEngine(store, media, client, &settings.Segmentation)
	if err := a.Segmentation.EnsureBuiltinAlgorithms(ctx); err != nil {
		return nil, err
	}
	a.Previews = segmentation.NewPreviews(a.Segmentation, a.Runner, &settings.Segmentation)
	a.closers = append(a.closers, func() error { a.Previews.Close(); return nil })

	a.Clustering = clustering.NewEngine(store, media, client, &settings.Clustering)
	a.Spectrograms = spectrogram.NewService(store, spectrogram.NewGenerator(media, &settings.Spectrogram))

	if err := a.wireRServer(o.http); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) notificationSink() (notification.Sink, error) {
	fanout := notification.NewFanout(a.Metrics.Notification).
		Add("store", notification.NewStoreSink(a.Store))

	mq := &a.Settings.MQTT
	if !mq.Enabled {
		return fanout, nil
	}
	cfg := mqtt.ConfigFromSettings(mq)
	client, err := mqtt.NewClient(cfg, a.Metrics.MQTT)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { client.Disconnect(); return nil })
	fanout.Add("mqtt", mqtt.NewSink(client, cfg.Topic, a.Metrics.MQTT))
	return fanout, nil
}

func (a *App) wireRServer(client *httpclient.Client) error {
	cfg := rserver.ConfigFromSettings(&a.Settings.RServer)
	if client != nil {
		cfg.HTTP = client
	}
	cfg.Metrics = a.Metrics.RServer
	rs, err := rserver.New(cfg)
	if err != nil {
		a.rserverErr = err
		GetLogger().Warn("R server is not configured; classification and training are disabled", logger.Error(err))
		return nil
	}
	a.RServer = rs

	lease, closeLease, err := classification.NewLease(&a.Settings.Classification.Lease)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeLease)

	a.Classification = classification.NewService(a.Store, a.Media, rs, &a.Settings.Classification,
		classification.WithAlerter(a.Alerter),
		classification.WithMetrics(a.Metrics.Jobs),
		classification.WithLease(lease))
	a.Training = training.NewService(a.Store, a.Media, rs, &a.Settings.Training)
	return nil
}

// RequireRServer returns the configuration error that disabled the R
// server services, or nil when they are available.
func (a *App) RequireRServer() error {
	return a.rserverErr
}

// ShutdownTimeout is how long Stop waits for running jobs.
func (a *App) ShutdownTimeout() time.Duration {
	if d := a.Settings.Jobs.ShutdownTimeout; d > 0 {
		return d
	}
	return defaultShutdownTimeout
}

// NewPoller returns a poller that feeds pending segmentation, clustering,
// spectrogram and, when the R server is configured, training jobs into the
// runner. Classification runs are queued separately and drained by the
// classification dispatcher, so they are not registered here.
func (a *App) NewPoller() *jobs.Poller {
	p := jobs.NewPoller(a.Runner, a.Settings.Jobs.PollInterval)
	p.Register(datastore.KindSegmentation, a.Segmentation.Job)
	p.Register(datastore.KindClustering, a.Clustering.Job)
	p.Register(datastore.KindSpectrogram, a.Spectrograms.Job)
	if a.Training != nil {
		p.Register(datastore.KindTraining, a.Training.Job)
	}
	return p
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
