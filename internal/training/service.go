// Package training builds classifiers on the R model server from a labeled
// folder or from the annotated tasks of a task batch.
package training

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/rserver"
)

// GetLogger returns the training module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("training")
}

const (
	// DefaultDataDir holds labeled-folder datasets below the media root.
	DefaultDataDir = "training_data"
	// ModelDir holds classifier artifacts below the media root.
	ModelDir = "models/classifiers"

	stagingDir = "tmp/training"
)

// Store is the persistence the service needs.
type Store interface {
	datastore.JobStateStore
	datastore.SpeciesStore
	datastore.TaskStore
	datastore.TrainingStore
}

// Media is the media root. *securefs.SecureFS implements it.
type Media interface {
	audio.Opener
	audio.Creator
	Abs(relPath string) (string, error)
	ReadDir(relPath string) ([]fs.DirEntry, error)
	MkdirAll(relPath string, perm fs.FileMode) error
	Exists(relPath string) (bool, error)
	Rename(oldPath, newPath string) error
	Remove(relPath string) error
	RemoveAll(relPath string) error
}

// Trainer is the model server. *rserver.Client implements it.
type Trainer interface {
	BaseURL() string
	Train(ctx context.Context, req rserver.TrainRequest) (*rserver.TrainResult, error)
}

// Service creates and executes training jobs.
type Service struct {
	store   Store
	media   Media
	trainer Trainer
	dataDir string
}

// NewService creates a service.
func NewService(store Store, media Media, trainer Trainer, settings *conf.TrainingSettings) *Service {
	dataDir := DefaultDataDir
	if settings != nil && settings.DataDir != "" {
		dataDir = strings.Trim(settings.DataDir, "/")
	}
	return &Service{store: store, media: media, trainer: trainer, dataDir: dataDir}
}

// CreateJobRequest describes a training job. Exactly one of TaskBatchID
// and DataFolder is set.
type CreateJobRequest struct {
	Name           string
	TaskBatchID    *uint
	DataFolder     string
	SpeciesID      *uint
	Algorithm      string // rserver.AlgorithmKNN or rserver.AlgorithmLDA
	ResponseFormat entities.ResponseFormat
	Params         map[string]string
	UserID         uint
	GroupID        uint
}

// CreateJob validates the request and stores a pending job.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*entities.TrainingJob, error) {
	if req.DataFolder != "" {
		if err := ValidateFolderName(req.DataFolder); err != nil {
			return nil, err
		}
	}
	if req.Algorithm == "" {
		req.Algorithm = rserver.AlgorithmKNN
	}
	if req.Algorithm != rserver.AlgorithmKNN && req.Algorithm != rserver.AlgorithmLDA {
		return nil, errors.ValidationError(fmt.Sprintf("unknown training algorithm %q", req.Algorithm))
	}
	switch req.ResponseFormat {
	case "":
		req.ResponseFormat = entities.ResponseHighestOnly
	case entities.ResponseHighestOnly, entities.ResponseFullProbability:
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown response format %q", req.ResponseFormat))
	}

	var params datatypes.JSON
	if len(req.Params) > 0 {
		encoded, err := json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
		params = encoded
	}

	name := req.Name
	if name == "" {
		name = req.DataFolder
		if req.TaskBatchID != nil {
			name = fmt.Sprintf("batch %d", *req.TaskBatchID)
		}
	}
	job := &entities.TrainingJob{
		Name:           name,
		TaskBatchID:    req.TaskBatchID,
		DataFolder:     req.DataFolder,
		SpeciesID:      req.SpeciesID,
		AlgorithmType:  req.Algorithm,
		ResponseFormat: req.ResponseFormat,
		Parameters:     params,
		CreatedBy:      req.UserID,
		GroupID:        req.GroupID,
	}
	if err := s.store.CreateTrainingJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Job returns the executable job for a training job id.
func (s *Service) Job(jobID uint) jobs.Job {
	return &trainingJob{service: s, id: jobID}
}

type trainingJob struct {
	service *Service
	id      uint
}

func (j *trainingJob) Kind() datastore.JobKind { return datastore.KindTraining }
func (j *trainingJob) ID() uint                { return j.id }

func (j *trainingJob) Run(ctx context.Context, p *jobs.Progress) (jobs.Outcome, error) {
	return jobs.Outcome{}, j.service.train(ctx, j.id, p)
}

func (s *Service) train(ctx context.Context, jobID uint, p *jobs.Progress) error {
	log := GetLogger().WithContext(ctx).With(logger.Uint64("training_job_id", uint64(jobID)))

	job, err := s.store.GetTrainingJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := p.Report(ctx, 0, "preparing dataset"); err != nil {
		return err
	}

	var (
		dataDir    string
		identifier string
		dataset    *Dataset
		speciesID  = job.SpeciesID
	)
	if job.TaskBatchID != nil {
		batch, batchErr := s.store.GetTaskBatch(ctx, *job.TaskBatchID)
		if batchErr != nil {
			return batchErr
		}
		if speciesID == nil {
			speciesID = &batch.SpeciesID
		}
		staged := path.Join(stagingDir, fmt.Sprintf("job_%d", job.ID))
		defer func() {
			if err := s.media.RemoveAll(staged); err != nil {
				log.Warn("failed to remove staged dataset", logger.String("path", staged), logger.Error(err))
			}
		}()
		dataset, err = s.stageBatch(ctx, *job.TaskBatchID, staged, p)
		dataDir, identifier = staged, fmt.Sprintf("batch%d", *job.TaskBatchID)
	} else {
		if err := ValidateFolderName(job.DataFolder); err != nil {
			return err
		}
		var allowed []string
		if allowed, err = s.allowedLabels(ctx, job.SpeciesID); err != nil {
			return err
		}
		dataDir, identifier = path.Join(s.dataDir, job.DataFolder), job.DataFolder
		dataset, err = ScanFolder(s.media, dataDir, allowed)
	}
	if err != nil {
		return err
	}
	log.Info("dataset ready",
		logger.String("data_dir", dataDir),
		logger.Int("samples", len(dataset.Samples)),
		logger.Int("labels", len(dataset.Counts)))

	if err := p.Report(ctx, 50, "training model"); err != nil {
		return err
	}

	artifact := artifactPath(job.ID, identifier)
	partial := artifact + ".partial"
	if err := s.media.MkdirAll(ModelDir, 0o750); err != nil {
		return err
	}
	absData, err := s.media.Abs(dataDir)
	if err != nil {
		return err
	}
	absPartial, err := s.media.Abs(partial)
	if err != nil {
		return err
	}

	res, err := s.trainer.Train(ctx, rserver.TrainRequest{
		Algorithm:       job.AlgorithmType,
		DataFolder:      absData,
		OutputModelPath: absPartial,
		Params:          decodeParams(job.Parameters),
	})
	if err != nil {
		s.discard(partial)
		return err
	}

	if err := p.Report(ctx, 90, "saving classifier"); err != nil {
		s.discard(partial)
		return err
	}
	written, err := s.media.Exists(partial)
	if err != nil {
		return err
	}
	if !written {
		return errors.New(fmt.Errorf("%w: model server reported success but wrote no model to %s",
			errors.ErrModelServerError, partial)).
			Component("training").
			Category(errors.CategoryModelServerError).
			Build()
	}
	if err := s.media.Rename(partial, artifact); err != nil {
		s.discard(partial)
		return err
	}

	classes := dataset.Classes(res.Classes)
	classifier := &entities.Classifier{
		Name:              job.Name,
		SpeciesID:         speciesID,
		ResponseFormat:    job.ResponseFormat,
		ServiceURL:        s.trainer.BaseURL(),
		Endpoint:          "/predict/" + job.AlgorithmType,
		ModelPath:         artifact,
		SourceTaskBatchID: job.TaskBatchID,
		IsActive:          true,
		CreatedBy:         job.CreatedBy,
	}
	if job.GroupID != 0 {
		groupID := job.GroupID
		classifier.GroupID = &groupID
	}
	if err := s.store.CompleteTraining(ctx, job.ID, classifier, res.Accuracy, classes); err != nil {
		s.discard(artifact)
		return err
	}

	fields := []logger.Field{
		logger.Uint64("classifier_id", uint64(classifier.ID)),
		logger.String("model_path", artifact),
	}
	if res.Accuracy != nil {
		fields = append(fields, logger.Float64("accuracy", *res.Accuracy))
	}
	log.Info("classifier trained", fields...)
	return nil
}

func (s *Service) allowedLabels(ctx context.Context, speciesID *uint) ([]string, error) {
	if speciesID == nil {
		return nil, nil
	}
	calls, err := s.store.ListCalls(ctx, *speciesID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.ShortName)
	}
	return out, nil
}

// stageBatch exports the labeled tasks of a batch to dir as
// <index>_<label>.wav files.
func (s *Service) stageBatch(ctx context.Context, batchID uint, dir string, p *jobs.Progress) (*Dataset, error) {
	tasks, err := s.store.ListTasks(ctx, batchID)
	if err != nil {
		return nil, err
	}
	labeled := labeledTasks(tasks)

	counts := make(map[string]int)
	for _, t := range labeled {
		counts[*t.Label]++
	}
	if len(labeled) < MinSamples {
		return nil, insufficient("task batch %d has %d labeled tasks, need at least %d", batchID, len(labeled), MinSamples)
	}
	if len(counts) < MinLabels {
		return nil, insufficient("task batch %d has %d distinct labels, need at least %d", batchID, len(counts), MinLabels)
	}

	if err := s.media.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := s.media.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	tokens := labelTokens(labels)

	samples := make([]Sample, 0, len(labeled))
	for i, t := range labeled {
		if t.Recording == nil {
			return nil, errors.Newf("task %d has no recording", t.ID).
				Component("training").
				Category(errors.CategoryState).
				Build()
		}
		clip, err := audio.ExtractSegment(s.media, t.Recording.AudioPath, t.Onset, t.Offset)
		if err != nil {
			return nil, err
		}
		rel := path.Join(dir, stagedName(i+1, tokens[*t.Label]))
		if err := audio.SaveWAV(s.media, rel, clip.Samples, clip.SampleRate); err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Path: rel, Label: *t.Label})

		if err := p.Report(ctx, float64(i+1)*45/float64(len(labeled)), "exporting audio"); err != nil {
			return nil, err
		}
	}
	d := newDataset(samples)
	d.Tokens = tokens
	return d, nil
}

func (s *Service) discard(relPath string) {
	if err := s.media.Remove(relPath); err != nil {
		GetLogger().Warn("failed to remove model file", logger.String("path", relPath), logger.Error(err))
	}
}

// artifactPath returns a unique model path for a job.
func artifactPath(jobID uint, identifier string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s", jobID, identifier, uuid.NewString())))
	ident := unsafeLabel.ReplaceAllString(identifier, "-")
	return path.Join(ModelDir, fmt.Sprintf("classifier_%s_%s.RData", hex.EncodeToString(sum[:6]), ident))
}

func decodeParams(raw datatypes.JSON) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		GetLogger().Warn("ignoring malformed training parameters", logger.Error(err))
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = fmt.Sprint(v)
	}
	return out
}
