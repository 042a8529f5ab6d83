// Package telemetry wires optional Sentry error reporting into the
// errors package.
package telemetry

import (
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/privacy"
)

const flushTimeout = 2 * time.Second

// GetLogger returns the module logger for telemetry.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Option adjusts the Sentry client options before Init.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK and registers the errors package
// reporter. Telemetry is opt-in: disabled settings leave reporting off and
// return nil.
func InitSentry(s *conf.SentrySettings, release string, opts ...Option) error {
	if !s.Enabled {
		errors.SetTelemetryReporter(nil)
		GetLogger().Debug("sentry telemetry disabled")
		return nil
	}
	if s.DSN == "" {
		return errors.Newf("sentry enabled without a DSN").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	options := sentry.ClientOptions{
		Dsn:              s.DSN,
		Release:          release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		SendDefaultPII:   false,
		BeforeSend:       scrubEvent,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := sentry.Init(options); err != nil {
		return errors.New(privacy.WrapError(err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	GetLogger().Info("sentry telemetry enabled", logger.String("release", release))
	return nil
}

// scrubEvent strips host identity and request data, and scrubs messages
// that were not built through the errors package.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.ServerName = ""
	event.User = sentry.User{}
	event.Request = nil
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	return event
}

// Flush waits briefly for buffered events and disables the reporter.
func Flush() {
	errors.SetTelemetryReporter(nil)
	sentry.Flush(flushTimeout)
}
