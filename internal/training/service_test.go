package training

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/rserver"
	"github.com/battycoda/battycoda/internal/securefs"
)

type fakeTrainer struct {
	err      error
	skipSave bool
	req      rserver.TrainRequest
	staged   []string
}

func (f *fakeTrainer) BaseURL() string { return "http://r.test:8000" }

func (f *fakeTrainer) Train(_ context.Context, req rserver.TrainRequest) (*rserver.TrainResult, error) {
	f.req = req
	entries, err := os.ReadDir(req.DataFolder)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		f.staged = append(f.staged, e.Name())
	}
	sort.Strings(f.staged)
	if f.err != nil {
		return nil, f.err
	}
	if !f.skipSave {
		if err := os.WriteFile(req.OutputModelPath, []byte("RDX3"), 0o600); err != nil {
			return nil, err
		}
	}
	// Like the model server, report the classes parsed from the file names.
	var classes []string
	for _, name := range f.staged {
		if label, ok := LabelFromFilename(name); ok && !slices.Contains(classes, label) {
			classes = append(classes, label)
		}
	}
	sort.Strings(classes)
	acc := 0.875
	return &rserver.TrainResult{Accuracy: &acc, Classes: classes}, nil
}

type env struct {
	store   datastore.Store
	media   *securefs.SecureFS
	fx      *testutil.Fixture
	trainer *fakeTrainer
	service *Service
	runner  *jobs.Runner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithCalls(t, "a", "b")
}

func newEnvWithCalls(t *testing.T, calls ...string) *env {
	t.Helper()
	store := testutil.NewStore(t)
	media := newMedia(t)
	fx := testutil.SeedFixture(t, store, testutil.Seed{
		SampleRate: 22050,
		CallNames:  calls,
		Intervals:  testutil.EvenIntervals(6, 0.5, 0.1, 0.4),
	})
	testutil.WriteBurstWAV(t, media, fx.Recording.AudioPath, 22050, 10, nil)

	trainer := &fakeTrainer{}
	return &env{
		store:   store,
		media:   media,
		fx:      fx,
		trainer: trainer,
		service: NewService(store, media, trainer, &conf.TrainingSettings{}),
		runner:  jobs.NewRunner(store, nil, nil, jobs.Config{}),
	}
}

func (e *env) execute(t *testing.T, job *entities.TrainingJob) (*datastore.JobRecord, error) {
	t.Helper()
	err := e.runner.Execute(t.Context(), e.service.Job(job.ID))
	rec, stateErr := e.store.JobState(t.Context(), datastore.KindTraining, job.ID)
	require.NoError(t, stateErr)
	return rec, err
}

func (e *env) batch(t *testing.T, labels ...string) uint {
	t.Helper()
	tasks := make([]entities.Task, 0, len(e.fx.Segments))
	for i := range e.fx.Segments {
		seg := e.fx.Segments[i]
		tasks = append(tasks, entities.Task{
			SegmentID:   &seg.ID,
			RecordingID: seg.RecordingID,
			Onset:       seg.Onset,
			Offset:      seg.Offset,
		})
	}
	batch := &entities.TaskBatch{Name: "review", SpeciesID: e.fx.Species.ID}
	require.NoError(t, e.store.CreateTaskBatch(t.Context(), batch, tasks))
	for i, label := range labels {
		require.NoError(t, e.store.AnnotateTask(t.Context(), tasks[i].ID, label, 7))
	}
	return batch.ID
}

func TestCreateJob_Validation(t *testing.T) {
	e := newEnv(t)

	_, err := e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "../secrets"})
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "set", Algorithm: "svm"})
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "set", ResponseFormat: "softmax"})
	require.ErrorIs(t, err, errors.ErrValidation)

	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "set"})
	require.NoError(t, err)
	assert.Equal(t, rserver.AlgorithmKNN, job.AlgorithmType)
	assert.Equal(t, entities.ResponseHighestOnly, job.ResponseFormat)
	assert.Equal(t, entities.StatusPending, job.Status)
}

func TestTrainFromFolder(t *testing.T) {
	e := newEnv(t)
	writeFolder(t, e.media, "training_data/calls", "001_a.wav", "002_a.wav", "003_b.wav", "004_b.wav", "005_b.wav")
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{
		DataFolder: "calls",
		SpeciesID:  &e.fx.Species.ID,
		Algorithm:  rserver.AlgorithmLDA,
		Params:     map[string]string{"k": "3"},
		UserID:     7,
		GroupID:    1,
	})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ProducedID)

	assert.Equal(t, filepath.Join(e.media.BaseDir(), "training_data", "calls"), e.trainer.req.DataFolder)
	assert.Equal(t, "3", e.trainer.req.Params["k"])
	assert.Equal(t, rserver.AlgorithmLDA, e.trainer.req.Algorithm)

	cls, err := e.store.GetClassifier(t.Context(), *rec.ProducedID)
	require.NoError(t, err)
	assert.Equal(t, "/predict/lda", cls.Endpoint)
	assert.Equal(t, "http://r.test:8000", cls.ServiceURL)
	assert.Equal(t, e.fx.Species.ID, *cls.SpeciesID)
	assert.True(t, strings.HasPrefix(cls.ModelPath, "models/classifiers/classifier_"))
	assert.True(t, strings.HasSuffix(cls.ModelPath, "_calls.RData"))

	exists, err := e.media.Exists(cls.ModelPath)
	require.NoError(t, err)
	assert.True(t, exists)
	partial, err := e.media.Exists(cls.ModelPath + ".partial")
	require.NoError(t, err)
	assert.False(t, partial)

	stored, err := e.store.GetTrainingJob(t.Context(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Accuracy)
	assert.InDelta(t, 0.875, *stored.Accuracy, 1e-9)
	assert.JSONEq(t, `["a","b"]`, string(stored.Classes))
}

func TestTrainFromFolder_LabelOutsideSpecies(t *testing.T) {
	e := newEnv(t)
	writeFolder(t, e.media, "training_data/calls", "001_a.wav", "002_a.wav", "003_b.wav", "004_b.wav", "005_c.wav")
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "calls", SpeciesID: &e.fx.Species.ID})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.ErrorIs(t, err, errors.ErrInsufficientTrainingData)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, `"c"`)
	assert.Empty(t, e.trainer.req.DataFolder, "the model server is not called")
}

func TestTrainFromBatch(t *testing.T) {
	e := newEnv(t)
	batchID := e.batch(t, "a", "b", "a", "b", "a", "b")
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{TaskBatchID: &batchID, UserID: 7})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, rec.Status)

	assert.Equal(t, []string{"001_a.wav", "002_b.wav", "003_a.wav", "004_b.wav", "005_a.wav", "006_b.wav"}, e.trainer.staged)
	staged, err := e.media.Exists("tmp/training")
	require.NoError(t, err)
	if staged {
		entries, err := e.media.ReadDir("tmp/training")
		require.NoError(t, err)
		assert.Empty(t, entries, "staging is cleaned up")
	}

	cls, err := e.store.GetClassifier(t.Context(), *rec.ProducedID)
	require.NoError(t, err)
	assert.Equal(t, "/predict/knn", cls.Endpoint)
	require.NotNil(t, cls.SourceTaskBatchID)
	assert.Equal(t, batchID, *cls.SourceTaskBatchID)
	assert.Contains(t, cls.ModelPath, "_batch")
	require.NotNil(t, cls.SpeciesID, "the classifier inherits the batch species")
	assert.Equal(t, e.fx.Species.ID, *cls.SpeciesID)
}

func TestTrainFromBatch_LabelsKeepCallNames(t *testing.T) {
	e := newEnvWithCalls(t, "FM_up", "FM up")
	batchID := e.batch(t, "FM_up", "FM up", "FM_up", "FM up", "FM_up", "FM up")
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{TaskBatchID: &batchID, UserID: 7})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.NoError(t, err)
	require.Equal(t, entities.StatusCompleted, rec.Status)

	assert.Equal(t, []string{
		"001_class2.wav", "002_class1.wav", "003_class2.wav",
		"004_class1.wav", "005_class2.wav", "006_class1.wav",
	}, e.trainer.staged)

	stored, err := e.store.GetTrainingJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `["FM up","FM_up"]`, string(stored.Classes))

	calls := make([]string, 0, len(e.fx.Calls))
	for _, c := range e.fx.Calls {
		calls = append(calls, c.ShortName)
	}
	var classes []string
	require.NoError(t, json.Unmarshal(stored.Classes, &classes))
	for _, c := range classes {
		assert.Contains(t, calls, c, "trained class is a call of the species")
	}
}

func TestTrainFromBatch_NotEnoughLabels(t *testing.T) {
	e := newEnv(t)
	batchID := e.batch(t, "a", "b", "a", "b")
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{TaskBatchID: &batchID})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.ErrorIs(t, err, errors.ErrInsufficientTrainingData)
	assert.Contains(t, rec.ErrorMessage, "4 labeled tasks")
}

func TestTrain_ServerFailure(t *testing.T) {
	e := newEnv(t)
	writeFolder(t, e.media, "training_data/calls", "001_a.wav", "002_a.wav", "003_b.wav", "004_b.wav", "005_b.wav")
	e.trainer.err = errors.New(errors.ErrModelServerError).
		Category(errors.CategoryModelServerError).
		Context("detail", "not enough features").
		Build()
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "calls"})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.ErrorIs(t, err, errors.ErrModelServerError)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Nil(t, rec.ProducedID)
}

func TestTrain_MissingArtifact(t *testing.T) {
	e := newEnv(t)
	writeFolder(t, e.media, "training_data/calls", "001_a.wav", "002_a.wav", "003_b.wav", "004_b.wav", "005_b.wav")
	e.trainer.skipSave = true
	job, err := e.service.CreateJob(t.Context(), CreateJobRequest{DataFolder: "calls"})
	require.NoError(t, err)

	rec, err := e.execute(t, job)
	require.ErrorIs(t, err, errors.ErrModelServerError)
	assert.Contains(t, rec.ErrorMessage, "wrote no model")
	assert.Nil(t, rec.ProducedID)
}
