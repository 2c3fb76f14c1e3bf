package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisDelayedKey = "dispatch:delayed"
	redisJobsKey    = "dispatch:jobs"
)

// RedisQueue is a delayed queue on a redis sorted set: members are job
// refs scored by due time, payloads live in a hash. Claiming a due job
// is a ZREM — of several pollers, only the one whose ZREM removed the
// member owns the job.
type RedisQueue struct {
	client       *redis.Client
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

func NewRedisQueue(client *redis.Client, logger zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		client:       client,
		pollInterval: time.Second,
		batchSize:    32,
		logger:       logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) (JobRef, error) {
	if delay < 0 {
		delay = 0
	}

	ref := JobRef(uuid.NewString())
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, redisJobsKey, string(ref), payload)
	pipe.ZAdd(ctx, redisDelayedKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(ref),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return ref, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, ref JobRef) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, redisDelayedKey, string(ref))
	pipe.HDel(ctx, redisJobsKey, string(ref))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", ref, err)
	}
	return nil
}

// Len returns the number of jobs not yet due or claimed.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, redisDelayedKey).Result()
}

// Start polls for due jobs until ctx is done.
func (q *RedisQueue) Start(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainDue(ctx, handler)
		}
	}
}

func (q *RedisQueue) drainDue(ctx context.Context, handler Handler) {
	now := time.Now().UnixMilli()
	refs, err := q.client.ZRangeByScore(ctx, redisDelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: int64(q.batchSize),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Error().Err(err).Msg("redis queue: range due jobs")
		}
		return
	}

	for _, ref := range refs {
		removed, err := q.client.ZRem(ctx, redisDelayedKey, ref).Result()
		if err != nil {
			q.logger.Error().Err(err).Str("ref", ref).Msg("redis queue: claim job")
			continue
		}
		if removed == 0 {
			// Another poller claimed it first.
			continue
		}

		raw, err := q.client.HGet(ctx, redisJobsKey, ref).Result()
		if err != nil {
			q.logger.Error().Err(err).Str("ref", ref).Msg("redis queue: load job payload")
			continue
		}
		_ = q.client.HDel(ctx, redisJobsKey, ref).Err()

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error().Err(err).Str("ref", ref).Msg("redis queue: decode job")
			continue
		}

		if err := handler(ctx, job); err != nil {
			q.logger.Error().Err(err).Int64("occurrence_id", job.OccurrenceID).
				Msg("redis queue: handler error")
		}
	}
}
