package app

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
)

// Run builds an App, calls fn with a context cancelled on SIGINT or
// SIGTERM, and closes the App afterwards.
func Run(settings *conf.Settings, fn func(ctx context.Context, a *App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			GetLogger().Warn("error while closing resources", logger.Error(err))
		}
	}()
	return fn(ctx, a)
}

// ParseKind maps a command line job kind to its datastore value.
func ParseKind(s string) (datastore.JobKind, error) {
	switch k := datastore.JobKind(s); k {
	case datastore.KindSegmentation, datastore.KindClassification, datastore.KindTraining,
		datastore.KindClustering, datastore.KindSpectrogram:
		return k, nil
	}
	return "", errors.ValidationError("unknown job kind " + strconv.Quote(s) +
		"; expected segmentation, classification, training, clustering or spectrogram")
}

// ParseID parses a positive numeric id argument.
func ParseID(what, s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil || n == 0 {
		return 0, errors.ValidationError(what + " must be a positive integer, got " + strconv.Quote(s))
	}
	return uint(n), nil
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExecuteAndReport runs job in the calling goroutine and writes its final
// status to w. The job's own error is returned after the report.
func (a *App) ExecuteAndReport(ctx context.Context, w io.Writer, job jobs.Job) error {
	runErr := a.Runner.Execute(ctx, job)
	report, err := a.Runner.Status(context.WithoutCancel(ctx), job.Kind(), job.ID())
	if err != nil {
		return errors.Join(runErr, err)
	}
	if err := WriteJSON(w, report); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
