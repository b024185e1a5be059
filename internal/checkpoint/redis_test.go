package checkpoint

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test")
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	if _, err := store.Active(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Active on empty store = %v, want ErrNotFound", err)
	}

	job := newJob("job-r", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("test:job:job-r") {
		t.Error("job key not written")
	}
	if id, _ := mr.Get("test:active"); id != "job-r" {
		t.Errorf("active pointer = %q, want job-r", id)
	}

	got, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if !reflect.DeepEqual(got.Checkpoint, job.Checkpoint) {
		t.Errorf("checkpoint mismatch:\n got %+v\nwant %+v", got.Checkpoint, job.Checkpoint)
	}

	job.Status = StatusComplete
	job.Checkpoint = nil
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save complete: %v", err)
	}
	if mr.Exists("test:active") {
		t.Error("active pointer kept after completion")
	}
	got, err = store.Load(ctx, "job-r")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != StatusComplete {
		t.Errorf("status = %s, want complete", got.Status)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	if err := store.Save(ctx, newJob("job-d", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "job-d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("test:job:job-d") || mr.Exists("test:active") {
		t.Error("keys survived Delete")
	}
	if err := store.Delete(ctx, "job-d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_RejectsInvalidCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	mr.Set("test:job:bad", `{"id":"bad","status":"running","checkpoint":{"remaining_tables":["a","a"]}}`)
	if _, err := store.Load(ctx, "bad"); !errors.Is(err, ErrInvalidCheckpoint) {
		t.Errorf("Load = %v, want ErrInvalidCheckpoint", err)
	}
	mr.Set("test:job:garbage", `not json`)
	if _, err := store.Load(ctx, "garbage"); !errors.Is(err, ErrInvalidCheckpoint) {
		t.Errorf("Load garbage = %v, want ErrInvalidCheckpoint", err)
	}
}
