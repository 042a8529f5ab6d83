package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

func TestEnsureBuiltinAlgorithms(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.engine.EnsureBuiltinAlgorithms(t.Context()))
	require.NoError(t, e.engine.EnsureBuiltinAlgorithms(t.Context()), "second call is a no-op")

	for name, typ := range map[string]entities.AlgorithmType{
		"threshold": entities.AlgorithmThreshold,
		"energy":    entities.AlgorithmEnergy,
	} {
		alg, err := e.store.GetAlgorithmByName(t.Context(), name)
		require.NoError(t, err, name)
		assert.Equal(t, typ, alg.Type)
		assert.True(t, alg.IsActive)
		assert.JSONEq(t, `{"min_duration_ms":10,"smooth_window":3,"threshold_factor":0.5,"frame_ms":5}`,
			string(alg.DefaultParams))
	}
}

func TestCreateJob_ByNameThenRun(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.engine.EnsureBuiltinAlgorithms(t.Context()))

	seg, err := e.engine.CreateJob(t.Context(), CreateJobRequest{
		RecordingID:   e.fx.Recording.ID,
		AlgorithmName: "threshold",
		Params:        datatypes.JSON(`{"smooth_window": 221}`),
		UserID:        7,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusPending, e.state(t, seg.ID).Status)
	assert.Contains(t, seg.Name, "threshold segmentation of")

	require.NoError(t, e.runner.Execute(t.Context(), e.engine.Job(seg.ID)))
	assert.Equal(t, entities.StatusCompleted, e.state(t, seg.ID).Status)
}

func TestCreateJob_Rejects(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})

	_, err := e.engine.CreateJob(t.Context(), CreateJobRequest{
		RecordingID: e.fx.Recording.ID,
		AlgorithmID: algID,
		Params:      datatypes.JSON(`{"smooth_window": 0}`),
	})
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = e.engine.CreateJob(t.Context(), CreateJobRequest{
		RecordingID:   e.fx.Recording.ID,
		AlgorithmName: "does-not-exist",
	})
	assert.True(t, errors.IsNotFound(err))

	_, err = e.engine.CreateJob(t.Context(), CreateJobRequest{RecordingID: 9999, AlgorithmID: algID})
	assert.True(t, errors.IsNotFound(err))
}
