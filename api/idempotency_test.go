package api

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduperClient(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return client
}

func TestRedisDeduperAddMany(t *testing.T) {
	deduper := NewRedisDeduper(newDeduperClient(t), time.Minute)
	ctx := context.Background()
	keys := []string{"k1", "k2", "k3"}

	first, err := deduper.AddMany(ctx, "user", keys)
	if err != nil {
		t.Fatalf("add many: %v", err)
	}
	if len(first) != len(keys) {
		t.Fatalf("unexpected results length: %d", len(first))
	}
	for i, added := range first {
		if !added {
			t.Fatalf("expected key %d to be added", i)
		}
	}

	second, err := deduper.AddMany(ctx, "user", keys)
	if err != nil {
		t.Fatalf("second add many: %v", err)
	}
	for i, added := range second {
		if added {
			t.Fatalf("expected key %d to be duplicate on second call", i)
		}
	}
}

func TestRedisDeduperRemoveAllowsReAdd(t *testing.T) {
	deduper := NewRedisDeduper(newDeduperClient(t), time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got added=%v err=%v", added, err)
	}
	if err := deduper.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = deduper.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("expected add after remove to succeed, got added=%v err=%v", added, err)
	}
}

// pipelineFault fails pipeline execs after the commands have already run,
// mimicking a connection dropped between exec and response.
type pipelineFault struct{ err error }

func (h pipelineFault) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h pipelineFault) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h pipelineFault) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if err := next(ctx, cmds); err != nil {
			return err
		}
		return h.err
	}
}

func TestRedisDeduperAddManyReportsAddsOnPipelineError(t *testing.T) {
	client := newDeduperClient(t)
	client.AddHook(pipelineFault{err: errors.New("connection reset")})
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()
	keys := []string{"k1", "k2"}

	results, err := deduper.AddMany(ctx, "user", keys)
	if err == nil {
		t.Fatal("expected pipeline error to surface")
	}
	for i, added := range results {
		if !added {
			t.Fatalf("expected key %d reported as added so it can be rolled back", i)
		}
	}

	// Rolling back the reported keys must make a retry of the batch succeed.
	for _, k := range keys {
		if rerr := deduper.Remove(ctx, "user", k); rerr != nil {
			t.Fatalf("rollback: %v", rerr)
		}
	}
	remaining, err := client.Exists(ctx, dedupeKey("user", "k1"), dedupeKey("user", "k2")).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected rollback to clear keys, %d remain", remaining)
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	client := newDeduperClient(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()
	const (
		userID = "user"
		key    = "k1"
	)

	added, err := deduper.Add(ctx, userID, key)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatalf("expected key to be added")
	}

	expectedKey := userID + ":" + dedupeKeyPrefix + ":" + key
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
}
