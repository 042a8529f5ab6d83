package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
)

const defaultTestTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// funcJob is a Job backed by a closure.
type funcJob struct {
	kind datastore.JobKind
	id   uint
	run  func(ctx context.Context, p *Progress) (Outcome, error)
}

func (j *funcJob) Kind() datastore.JobKind { return j.kind }
func (j *funcJob) ID() uint                { return j.id }
func (j *funcJob) Run(ctx context.Context, p *Progress) (Outcome, error) {
	return j.run(ctx, p)
}

type env struct {
	store datastore.Store
	fx    *testutil.Fixture
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.NewStore(t)
	return &env{store: store, fx: testutil.SeedFixture(t, store, testutil.Seed{})}
}

// pendingSegmentation creates a pending segmentation job row owned by user 7.
func (e *env) pendingSegmentation(t *testing.T) uint {
	t.Helper()
	seg := &entities.Segmentation{Name: "job", RecordingID: e.fx.Recording.ID, CreatedBy: 7}
	require.NoError(t, e.store.CreateSegmentation(t.Context(), seg))
	return seg.ID
}

func (e *env) status(t *testing.T, kind datastore.JobKind, id uint) *datastore.JobRecord {
	t.Helper()
	rec, err := e.store.JobState(t.Context(), kind, id)
	require.NoError(t, err)
	return rec
}

func waitForChannel(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(defaultTestTimeout):
		require.Fail(t, msg)
	}
}
