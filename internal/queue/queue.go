// Package queue abstracts the dispatch queue: jobs are enqueued with a
// delay and delivered to a handler when due. Backends must not leak
// into callers; the engine runs against the in-memory heap in tests and
// a redis- or asynq-backed queue in production.
package queue

import (
	"context"
	"time"
)

// Job is one unit of dispatch work: publish this occurrence to these
// platforms.
type Job struct {
	OccurrenceID int64    `json:"occurrence_id"`
	Platforms    []string `json:"platforms"`
}

// JobRef identifies an enqueued job so it can be cancelled before it
// runs.
type JobRef string

// Handler consumes a due job. Errors are infrastructure failures only;
// publish failures are handled inside the worker pipeline.
type Handler func(ctx context.Context, job Job) error

// Queue is the delayed-dispatch contract. A zero or negative delay
// means "due now". Cancel is best-effort: cancelling an
// already-delivered job is a no-op.
type Queue interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) (JobRef, error)
	Cancel(ctx context.Context, ref JobRef) error
}
