package classification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

// LeaseKey is the redis key that serializes classification runs across
// every worker process.
const LeaseKey = "battycoda:classification:lease"

const (
	defaultLeaseTTL   = 2 * time.Hour
	leaseRetryDelay   = 500 * time.Millisecond
	leaseReleaseDelay = 5 * time.Second
)

// Lease grants exclusive permission to execute one classification run.
type Lease interface {
	// Acquire blocks until the lease is held or ctx is done. The returned
	// function releases it and is safe to call more than once.
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLease serializes runs inside one process.
type LocalLease struct {
	sem *semaphore.Weighted
}

// NewLocalLease returns an in-process lease.
func NewLocalLease() *LocalLease {
	return &LocalLease{sem: semaphore.NewWeighted(1)}
}

// Acquire implements Lease.
func (l *LocalLease) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

var (
	// Deletes the key only while it still carries our token.
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	// Extends the key only while it still carries our token.
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLease serializes runs across processes with SET NX PX. The holder
// refreshes the expiry while it runs; a crashed holder frees the lease
// after ttl.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLease wraps an existing client.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = LeaseKey
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLease{client: client, key: key, ttl: ttl, retry: leaseRetryDelay}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, leaseError(err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), leaseReleaseDelay)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{l.key}, token).Err(); err != nil {
				GetLogger().Warn("failed to release classification lease", logger.Error(err))
			}
		})
	}, nil
}

func (l *RedisLease) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseDelay)
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				GetLogger().Warn("failed to refresh classification lease", logger.Error(err))
				continue
			}
			if n == 0 {
				GetLogger().Error("classification lease was lost")
				return
			}
		}
	}
}

// Close closes the redis client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}

func leaseError(err error) error {
	return errors.New(fmt.Errorf("classification lease: %w", err)).
		Component("classification").
		Category(errors.CategoryNetwork).
		Build()
}

// NewLease builds the lease selected by settings. The returned close
// function releases backend resources.
func NewLease(settings *conf.LeaseSettings) (Lease, func() error, error) {
	switch strings.ToLower(settings.Backend) {
	case "", "local":
		return NewLocalLease(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		l := NewRedisLease(client, LeaseKey, settings.TTL)
		return l, l.Close, nil
	default:
		return nil, nil, errors.Newf("unknown lease backend %q", settings.Backend).
			Component("classification").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
