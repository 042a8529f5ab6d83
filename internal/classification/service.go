// Package classification runs classifiers over segmentations.
//
// Runs are created queued and executed strictly one at a time by the
// Dispatcher, which holds a Lease while a run executes. Each segment is cut
// to a temporary WAV, sent to the classifier endpoint and the response is
// stored as one probability per call of the species.
package classification

import (
	"context"
	"fmt"
	"time"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/rserver"
)

// GetLogger returns the classification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("classification")
}

const (
	defaultProgressInterval = 10
	defaultPollInterval     = 2 * time.Second

	// AlertService names the model server in admin alerts.
	AlertService = "r-server"

	scratchDir = "tmp/classification"
)

// Store is the persistence the service needs.
type Store interface {
	datastore.JobStateStore
	datastore.RecordingStore
	datastore.SegmentationStore
	datastore.SpeciesStore
	datastore.ClassificationStore
	datastore.TaskStore
}

// Media is the media root. *securefs.SecureFS implements it.
type Media interface {
	audio.Opener
	audio.Creator
	Abs(relPath string) (string, error)
	Remove(relPath string) error
}

// Predictor is the model server. *rserver.Client implements it.
type Predictor interface {
	Ping(ctx context.Context) error
	Predict(ctx context.Context, req rserver.PredictRequest) (rserver.Prediction, error)
}

// Alerter delivers infrastructure alerts to administrators.
type Alerter interface {
	Alert(ctx context.Context, service, subject, body string) error
}

// Metrics receives the classification backlog.
type Metrics interface {
	SetQueuedRuns(n int64)
}

type noopMetrics struct{}

func (noopMetrics) SetQueuedRuns(int64) {}

// Service creates and executes classification runs.
type Service struct {
	store            Store
	media            Media
	predictor        Predictor
	lease            Lease
	alerter          Alerter
	metrics          Metrics
	progressInterval int
	pollInterval     time.Duration
	wake             chan struct{}
}

// Option configures optional collaborators.
type Option func(*Service)

// WithAlerter sets the alert destination for model server outages.
func WithAlerter(a Alerter) Option { return func(s *Service) { s.alerter = a } }

// WithMetrics sets the backlog gauge.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLease replaces the default in-process lease.
func WithLease(l Lease) Option { return func(s *Service) { s.lease = l } }

// NewService creates a service.
func NewService(store Store, media Media, predictor Predictor, settings *conf.ClassificationSettings, opts ...Option) *Service {
	s := &Service{
		store:            store,
		media:            media,
		predictor:        predictor,
		lease:            NewLocalLease(),
		metrics:          noopMetrics{},
		progressInterval: defaultProgressInterval,
		pollInterval:     defaultPollInterval,
		wake:             make(chan struct{}, 1),
	}
	if settings != nil {
		if settings.ProgressInterval > 0 {
			s.progressInterval = settings.ProgressInterval
		}
		if settings.PollInterval > 0 {
			s.pollInterval = settings.PollInterval
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRunRequest asks for a classifier to be run over a segmentation.
type CreateRunRequest struct {
	Name           string
	SegmentationID uint
	ClassifierID   uint
	UserID         uint
	GroupID        uint
}

// CreateRun validates the request and enqueues a run. A classifier bound to
// a species can only classify recordings of that species.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*entities.ClassificationRun, error) {
	seg, err := s.store.GetSegmentation(ctx, req.SegmentationID)
	if err != nil {
		return nil, err
	}
	if seg.Status != entities.StatusCompleted {
		return nil, errors.ValidationError(fmt.Sprintf("segmentation %d is %s, not completed", seg.ID, seg.Status))
	}
	rec, err := s.store.GetRecording(ctx, seg.RecordingID)
	if err != nil {
		return nil, err
	}
	cls, err := s.store.GetClassifier(ctx, req.ClassifierID)
	if err != nil {
		return nil, err
	}
	if !cls.IsActive {
		return nil, errors.ValidationError(fmt.Sprintf("classifier %q is not active", cls.Name))
	}
	if cls.SpeciesID != nil && (rec.SpeciesID == nil || *rec.SpeciesID != *cls.SpeciesID) {
		return nil, errors.New(fmt.Errorf("%w: classifier %q does not match the species of recording %q",
			errors.ErrSpeciesMismatch, cls.Name, rec.Name)).
			Component("classification").
			Category(errors.CategorySpeciesMismatch).
			Context("classifier_id", cls.ID).
			Context("recording_id", rec.ID).
			Build()
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s on %s", cls.Name, rec.Name)
	}
	run := &entities.ClassificationRun{
		Name:           name,
		SegmentationID: seg.ID,
		ClassifierID:   cls.ID,
		Status:         entities.StatusQueued,
		AlgorithmType:  cls.ResponseFormat,
		CreatedBy:      req.UserID,
		GroupID:        req.GroupID,
	}
	if err := s.store.CreateClassificationRun(ctx, run); err != nil {
		return nil, err
	}
	GetLogger().Info("classification run queued",
		logger.Uint64("run_id", uint64(run.ID)),
		logger.Uint64("classifier_id", uint64(cls.ID)),
		logger.Uint64("segmentation_id", uint64(seg.ID)))
	s.notifyQueued()
	return run, nil
}

func (s *Service) notifyQueued() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Job returns the executable job for a run. The run must be pending.
func (s *Service) Job(runID uint) jobs.Job {
	return &runJob{service: s, id: runID}
}

type runJob struct {
	service *Service
	id      uint
}

func (j *runJob) Kind() datastore.JobKind { return datastore.KindClassification }
func (j *runJob) ID() uint                { return j.id }

func (j *runJob) Run(ctx context.Context, p *jobs.Progress) (jobs.Outcome, error) {
	if err := j.service.classify(ctx, j.id, p); err != nil {
		return jobs.Outcome{}, err
	}
	return jobs.Outcome{Fields: map[string]any{"completed_at": time.Now()}}, nil
}

func (s *Service) classify(ctx context.Context, runID uint, p *jobs.Progress) error {
	log := GetLogger().WithContext(ctx).With(logger.Uint64("run_id", uint64(runID)))

	run, err := s.store.GetClassificationRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Classifier == nil || run.Segmentation == nil || run.Segmentation.Recording == nil {
		return errors.Newf("classification run %d is missing its classifier or recording", runID).
			Component("classification").
			Category(errors.CategoryState).
			Build()
	}
	cls, rec := run.Classifier, run.Segmentation.Recording

	if err := s.predictor.Ping(ctx); err != nil {
		s.alert(ctx, "R model server is unreachable",
			fmt.Sprintf("Classification run %d could not start: %v", runID, err))
		return err
	}

	speciesID := cls.SpeciesID
	if speciesID == nil {
		speciesID = rec.SpeciesID
	}
	if speciesID == nil {
		return errors.ValidationError(fmt.Sprintf("recording %q has no species to classify against", rec.Name))
	}
	calls, err := s.store.ListCalls(ctx, *speciesID)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return errors.ValidationError(fmt.Sprintf("species %d has no calls", *speciesID))
	}

	segments, err := s.store.ListSegments(ctx, run.SegmentationID)
	if err != nil {
		return err
	}

	var modelPath string
	if cls.ModelPath != "" {
		if modelPath, err = s.media.Abs(cls.ModelPath); err != nil {
			return err
		}
	}

	total := len(segments)
	if err := p.Fraction(ctx, 0, total, ""); err != nil {
		return err
	}
	log.Info("classifying segments", logger.Int("segments", total), logger.Int("calls", len(calls)))

	var skipped int
	for i := range segments {
		seg := &segments[i]
		probs, note, err := s.classifySegment(ctx, run, rec, seg, modelPath, calls)
		if err != nil {
			if errors.KindOf(err) == errors.KindModelServerUnavailable || ctx.Err() != nil {
				return err
			}
			skipped++
			log.Warn("segment classification failed",
				logger.Uint64("segment_id", uint64(seg.ID)), logger.Error(err))
			probs, note = Uniform(calls), "classification failed: "+err.Error()
		}
		if err := s.store.SaveClassificationResult(ctx, run.ID, seg.ID, probs, note); err != nil {
			return err
		}

		done := i + 1
		if done%s.progressInterval == 0 || done == total {
			if err := p.Fraction(ctx, done, total, ""); err != nil {
				return err
			}
		}
	}

	log.Info("classification finished", logger.Int("segments", total), logger.Int("failed_segments", skipped))
	return nil
}

func (s *Service) classifySegment(ctx context.Context, run *entities.ClassificationRun, rec *entities.Recording,
	seg *entities.Segment, modelPath string, calls []entities.Call,
) (map[uint]float64, string, error) {
	clip, err := audio.ExtractSegment(s.media, rec.AudioPath, seg.Onset, seg.Offset)
	if err != nil {
		return nil, "", err
	}
	rel := fmt.Sprintf("%s/run_%d/segment_%d.wav", scratchDir, run.ID, seg.ID)
	if err := audio.SaveWAV(s.media, rel, clip.Samples, clip.SampleRate); err != nil {
		return nil, "", err
	}
	defer func() {
		if err := s.media.Remove(rel); err != nil {
			GetLogger().Debug("failed to remove scratch audio", logger.String("path", rel), logger.Error(err))
		}
	}()
	wavPath, err := s.media.Abs(rel)
	if err != nil {
		return nil, "", err
	}

	pred, err := s.predictor.Predict(ctx, rserver.PredictRequest{
		ServiceURL: run.Classifier.ServiceURL,
		Endpoint:   run.Classifier.Endpoint,
		ModelPath:  modelPath,
		WavPath:    wavPath,
		Format:     run.Classifier.ResponseFormat,
	})
	if err != nil {
		return nil, "", err
	}
	probs, note := Interpret(pred, calls)
	return probs, note, nil
}

func (s *Service) alert(ctx context.Context, subject, body string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, AlertService, subject, body); err != nil {
		GetLogger().Warn("failed to send alert", logger.String("service", AlertService), logger.Error(err))
	}
}
