package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*miniredis.Miniredis, *RedisDeduper) {
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
	return m, NewRedisDeduper(client, time.Minute)
}

func TestRedisDeduperAddMany(t *testing.T) {
	_, deduper := newTestDeduper(t)
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

	second, err := deduper.AddMany(ctx, "user", []string{"k1", "k4", "k4"})
	if err != nil {
		t.Fatalf("second add many: %v", err)
	}
	want := []bool{false, true, false}
	for i := range want {
		if second[i] != want[i] {
			t.Fatalf("result %d = %v, want %v", i, second[i], want[i])
		}
	}
}

func TestRedisDeduperKeyNamespacingAndTTL(t *testing.T) {
	m, deduper := newTestDeduper(t)
	ctx := context.Background()

	if _, err := deduper.AddMany(ctx, "user-a", []string{"k1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	added, err := deduper.AddMany(ctx, "user-b", []string{"k1"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added[0] {
		t.Fatalf("keys must be scoped per user")
	}

	if ttl := m.TTL(dedupeKey("user-a", "k1")); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	if err := deduper.Remove(ctx, "user-a", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	again, err := deduper.AddMany(ctx, "user-a", []string{"k1"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !again[0] {
		t.Fatalf("expected removed key to be addable again")
	}
}

func TestRedisDeduperAddManyEmpty(t *testing.T) {
	_, deduper := newTestDeduper(t)
	res, err := deduper.AddMany(context.Background(), "user", nil)
	if err != nil || res != nil {
		t.Fatalf("expected nil result for no keys, got %v %v", res, err)
	}
}
