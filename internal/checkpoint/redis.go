package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps jobs as JSON documents in Redis so several hosts can
// share one job. Keys are "<prefix>:job:<id>" plus "<prefix>:active" naming
// the running job.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "search-replace"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) jobKey(id string) string {
	return r.prefix + ":job:" + id
}

func (r *RedisStore) activeKey() string {
	return r.prefix + ":active"
}

// Active returns the job named by the active pointer.
func (r *RedisStore) Active(ctx context.Context) (*Job, error) {
	id, err := r.client.Get(ctx, r.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading active job: %w", err)
	}
	job, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusRunning {
		return nil, ErrNotFound
	}
	return job, nil
}

// Load returns the job with the given id.
func (r *RedisStore) Load(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, &InvalidCheckpointError{Reason: fmt.Sprintf("job %s: malformed JSON: %v", id, err)}
	}
	if job.Checkpoint != nil {
		if err := job.Checkpoint.Validate(); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
	}
	return &job, nil
}

// Save stores job and, while it runs, points the active key at it.
func (r *RedisStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		if job.Status == StatusRunning {
			pipe.Set(ctx, r.activeKey(), job.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	if job.Status != StatusRunning {
		return r.clearActive(ctx, job.ID)
	}
	return nil
}

// clearActive drops the active pointer if it still names id.
func (r *RedisStore) clearActive(ctx context.Context, id string) error {
	current, err := r.client.Get(ctx, r.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading active job: %w", err)
	}
	if current == id {
		if err := r.client.Del(ctx, r.activeKey()).Err(); err != nil {
			return fmt.Errorf("clearing active job: %w", err)
		}
	}
	return nil
}

// Delete removes the job and clears the active pointer if it names it.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return r.clearActive(ctx, id)
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
