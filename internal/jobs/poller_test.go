package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// countingJobs resolves segmentation ids to jobs that record each run.
type countingJobs struct {
	mu   sync.Mutex
	runs map[uint]int
}

func (c *countingJobs) resolve(id uint) Job {
	return &funcJob{kind: datastore.KindSegmentation, id: id, run: func(context.Context, *Progress) (Outcome, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.runs == nil {
			c.runs = make(map[uint]int)
		}
		c.runs[id]++
		return Outcome{}, nil
	}}
}

func (c *countingJobs) count(id uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id]
}

func TestPoller_SubmitsPendingOnce(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 1})
	jobs := &countingJobs{}
	p := NewPoller(r, time.Hour)
	p.Register(datastore.KindSegmentation, jobs.resolve)

	first := e.pendingSegmentation(t)
	second := e.pendingSegmentation(t)

	n, err := p.PollOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Both rows are still pending in the queue; they are not submitted twice.
	n, err = p.PollOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	r.Start(t.Context())
	t.Cleanup(func() { _ = r.StopWithTimeout(defaultTestTimeout) })

	require.Eventually(t, func() bool {
		return e.status(t, datastore.KindSegmentation, first).Status == entities.StatusCompleted &&
			e.status(t, datastore.KindSegmentation, second).Status == entities.StatusCompleted
	}, defaultTestTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, jobs.count(first))
	assert.Equal(t, 1, jobs.count(second))

	n, err = p.PollOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoller_FullQueueDefers(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 1, QueueSize: 1})
	jobs := &countingJobs{}
	p := NewPoller(r, time.Hour)
	p.Register(datastore.KindSegmentation, jobs.resolve)

	e.pendingSegmentation(t)
	e.pendingSegmentation(t)

	n, err := p.PollOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "limited by the queue capacity")
}

func TestPoller_RunPicksUpNewJobs(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 2})
	jobs := &countingJobs{}
	p := NewPoller(r, 10*time.Millisecond)
	p.Register(datastore.KindSegmentation, jobs.resolve)
	assert.Equal(t, []datastore.JobKind{datastore.KindSegmentation}, p.Kinds())

	ctx, cancel := context.WithCancel(t.Context())
	r.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()

	id := e.pendingSegmentation(t)
	require.Eventually(t, func() bool {
		return e.status(t, datastore.KindSegmentation, id).Status == entities.StatusCompleted
	}, defaultTestTimeout, 10*time.Millisecond)

	cancel()
	waitForChannel(t, done, "poller did not stop")
	require.NoError(t, r.StopWithTimeout(defaultTestTimeout))
}
