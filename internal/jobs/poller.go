package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

const defaultPollInterval = 2 * time.Second

// Resolver builds the Job for a row id of one job table.
type Resolver func(id uint) Job

type jobKey struct {
	kind datastore.JobKind
	id   uint
}

// Poller feeds pending rows of the registered job tables into a Runner.
// Rows stay pending until a worker starts them, so a row seen on an earlier
// poll is not submitted again until it has left the pending state.
type Poller struct {
	runner   *Runner
	interval time.Duration

	mu        sync.Mutex
	kinds     []datastore.JobKind
	resolvers map[datastore.JobKind]Resolver
	submitted map[jobKey]bool
}

// NewPoller creates a poller for r. A non-positive interval uses the default.
func NewPoller(r *Runner, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		runner:    r,
		interval:  interval,
		resolvers: make(map[datastore.JobKind]Resolver),
		submitted: make(map[jobKey]bool),
	}
}

// Register makes the poller pick up pending jobs of kind.
func (p *Poller) Register(kind datastore.JobKind, resolve Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resolvers[kind]; !ok {
		p.kinds = append(p.kinds, kind)
	}
	p.resolvers[kind] = resolve
}

// Kinds returns the registered job kinds in registration order.
func (p *Poller) Kinds() []datastore.JobKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]datastore.JobKind(nil), p.kinds...)
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if errors.Is(err, ErrQueueStopped) || ctx.Err() != nil {
				return nil
			}
			GetLogger().Warn("polling pending jobs failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce submits every pending job not yet handed to the runner and
// returns how many were submitted. A full queue ends the pass early; the
// remaining jobs are picked up on a later poll.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := cap(p.runner.queue)
	submitted := 0
	for _, kind := range p.kinds {
		ids, err := p.runner.store.PendingJobs(ctx, kind, limit)
		if err != nil {
			return submitted, err
		}

		pending := make(map[uint]bool, len(ids))
		for _, id := range ids {
			pending[id] = true
		}
		for key := range p.submitted {
			if key.kind == kind && !pending[key.id] {
				delete(p.submitted, key)
			}
		}

		for _, id := range ids {
			key := jobKey{kind: kind, id: id}
			if p.submitted[key] {
				continue
			}
			switch err := p.runner.Submit(p.resolvers[kind](id)); {
			case err == nil:
				p.submitted[key] = true
				submitted++
			case errors.Is(err, ErrQueueFull):
				GetLogger().Debug("job queue full, deferring pending jobs",
					logger.String("job_kind", string(kind)))
				return submitted, nil
			default:
				return submitted, err
			}
		}
	}
	return submitted, nil
}
