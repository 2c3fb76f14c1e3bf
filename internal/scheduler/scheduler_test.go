package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"streamcast/internal/database"
	"streamcast/internal/events"
	"streamcast/internal/models"
	"streamcast/internal/publisher"
	"streamcast/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "scheduler_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queuedOccurrence(t *testing.T, db *database.DB, platforms ...string) *models.Occurrence {
	t.Helper()

	occ := &models.Occurrence{
		UserID:       1,
		GroupID:      "grp-1",
		Title:        "going live",
		Body:         "stream starts soon",
		ContentType:  "text",
		Platforms:    platforms,
		ScheduledFor: time.Now().Add(-time.Minute),
		Status:       models.OccurrenceQueued,
		MaxRetries:   models.DefaultMaxRetries,
	}
	require.NoError(t, db.CreateOccurrence(context.Background(), occ))
	return occ
}

// fakePublisher scripts per-call behavior and records the idempotency
// keys it was handed.
type fakePublisher struct {
	name string

	mu    sync.Mutex
	keys  []string
	calls int
	fn    func(call int, occ *models.Occurrence, key string) (*publisher.Result, error)
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(ctx context.Context, occ *models.Occurrence, key string) (*publisher.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.keys = append(f.keys, key)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(call, occ, key)
	}
	return &publisher.Result{RemoteID: f.name + "-remote", PublishedAt: time.Now()}, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePublisher) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakeEnablement struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func (f *fakeEnablement) IsEnabled(ctx context.Context, platform string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disabled[platform], nil
}

func newTestPool(db *database.DB, pubs ...publisher.Publisher) (*Pool, *publisher.Registry) {
	reg := publisher.NewRegistry()
	for _, p := range pubs {
		reg.Register(p)
	}

	pool := NewPool(PoolConfig{
		DB:         db,
		Registry:   reg,
		Controller: NewController(db),
		Policy: RetryPolicy{
			MaxRetries:    models.DefaultMaxRetries,
			InitialDelay:  time.Millisecond,
			MaxDelay:      10 * time.Millisecond,
			BackoffFactor: 2,
		},
		Bus:            events.NewBus(),
		Logger:         zerolog.Nop(),
		Workers:        2,
		PublishTimeout: 2 * time.Second,
	})
	return pool, reg
}

// captureQueue records enqueued jobs without delivering them.
type captureQueue struct {
	mu     sync.Mutex
	jobs   []queue.Job
	refs   []queue.JobRef
	cancel []queue.JobRef
}

func (q *captureQueue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) (queue.JobRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	ref := queue.JobRef(time.Now().Format(time.RFC3339Nano))
	q.refs = append(q.refs, ref)
	return ref, nil
}

func (q *captureQueue) Cancel(ctx context.Context, ref queue.JobRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel = append(q.cancel, ref)
	return nil
}

func (q *captureQueue) enqueued() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]int64, len(q.jobs))
	for i, j := range q.jobs {
		ids[i] = j.OccurrenceID
	}
	return ids
}
