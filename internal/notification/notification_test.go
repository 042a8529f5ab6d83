package notification

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

func TestLink(t *testing.T) {
	tests := []struct {
		kind datastore.JobKind
		id   uint
		want string
	}{
		{datastore.KindSegmentation, 12, "/segmentations/12/"},
		{datastore.KindClassification, 3, "/classification/runs/3/"},
		{datastore.KindTraining, 4, "/classifiers/training/4/"},
		{datastore.KindClustering, 5, "/clustering/runs/5/"},
		{datastore.KindSpectrogram, 6, "/recordings/6/spectrogram/"},
		{datastore.JobKind("unknown"), 1, "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Link(tt.kind, tt.id), "kind %s", tt.kind)
	}
}

func TestForJob(t *testing.T) {
	classifierID := uint(9)

	t.Run("completed training names the classifier", func(t *testing.T) {
		n := ForJob(&datastore.JobRecord{
			Kind: datastore.KindTraining, ID: 4, Status: entities.StatusCompleted,
			CreatedBy: 7, ProducedID: &classifierID,
		}, 4)
		require.NotNil(t, n)
		assert.Equal(t, uint(7), n.UserID)
		assert.Equal(t, TypeJobCompleted, n.Type)
		assert.Equal(t, "Classifier training completed", n.Title)
		assert.Contains(t, n.Message, "Classifier #9 is ready")
		assert.Equal(t, "/classifiers/training/4/", n.Link)
	})

	t.Run("failed carries the error message", func(t *testing.T) {
		n := ForJob(&datastore.JobRecord{
			Kind: datastore.KindSegmentation, ID: 12, Status: entities.StatusFailed,
			ErrorMessage: "invalid audio: recordings/a.wav",
		}, 12)
		require.NotNil(t, n)
		assert.Equal(t, TypeJobFailed, n.Type)
		assert.Equal(t, "Segmentation #12 failed: invalid audio: recordings/a.wav", n.Message)
	})

	t.Run("cancelled", func(t *testing.T) {
		n := ForJob(&datastore.JobRecord{Kind: datastore.KindClustering, ID: 2, Status: entities.StatusCancelled}, 2)
		require.NotNil(t, n)
		assert.Equal(t, TypeJobCancelled, n.Type)
	})

	t.Run("non-terminal status renders nothing", func(t *testing.T) {
		assert.Nil(t, ForJob(&datastore.JobRecord{Kind: datastore.KindClustering, ID: 2, Status: entities.StatusInProgress}, 2))
	})
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	store := testutil.NewStore(t)
	rec := metrics.NewMemoryRecorder()

	var seenID string
	broken := stderrors.New("broker offline")
	fanout := NewFanout(rec).
		Add("store", NewStoreSink(store)).
		Add("mqtt", SinkFunc(func(_ context.Context, n *entities.Notification) error {
			seenID = n.ID
			return broken
		}))

	err := fanout.Deliver(t.Context(), &entities.Notification{UserID: 7, Title: "t", Type: TypeJobCompleted})
	require.ErrorIs(t, err, broken)

	assert.NotEmpty(t, seenID, "store sink must assign the ID before later sinks run")
	assert.Equal(t, 1, rec.OperationCount("store", metrics.StatusSuccess))
	assert.Equal(t, 1, rec.OperationCount("mqtt", metrics.StatusError))

	saved, err := store.ListNotifications(t.Context(), 7, true)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, seenID, saved[0].ID)
}

func TestShoutrrrSender(t *testing.T) {
	_, err := NewShoutrrrSender(nil, 0)
	require.Error(t, err)

	_, err = NewShoutrrrSender([]string{"nosuchservice://token@host"}, 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token", "service URLs must be scrubbed from errors")

	sender, err := NewShoutrrrSender([]string{"logger://"}, 0)
	require.NoError(t, err)
	assert.NoError(t, sender.Send(t.Context(), "disk usage", "media root at 93%"))
}
