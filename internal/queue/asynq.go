package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeDispatchOccurrence is the asynq task type for publish jobs.
const TypeDispatchOccurrence = "dispatch:occurrence"

// AsynqQueue backs the dispatch queue with asynq's redis-based delayed
// tasks. The asynq server owns delivery; its retry machinery is
// disabled (MaxRetry 0) because retries are scheduled by the engine's
// own controller through the due-work selector.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewAsynqQueue(redisOpt asynq.RedisClientOpt) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) (JobRef, error) {
	if delay < 0 {
		delay = 0
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	ref := uuid.NewString()
	task := asynq.NewTask(TypeDispatchOccurrence, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(ref),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return JobRef(ref), nil
}

func (q *AsynqQueue) Cancel(ctx context.Context, ref JobRef) error {
	err := q.inspector.DeleteTask("default", string(ref))
	if err != nil && err != asynq.ErrTaskNotFound {
		return fmt.Errorf("cancel job %s: %w", ref, err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// AsynqHandler adapts the engine's job handler to asynq's interface
// for registration on an asynq.ServeMux.
func AsynqHandler(handler Handler) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var job Job
		if err := json.Unmarshal(task.Payload(), &job); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}
		return handler(ctx, job)
	}
}
