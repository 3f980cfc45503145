package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisRecord(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(rdb, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := l.Record(ctx, "b1", -1001, Entry{FeedID: 7, Status: "migrated", NewID: -1002, At: at}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	key := "dispatch:b1:-1001"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}
	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	var got Entry
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "migrated" || got.NewID != -1002 || !got.At.Equal(at) {
		t.Fatalf("unexpected entry: %+v", got)
	}

	e, ok, err := l.Get(ctx, "b1", -1001)
	if err != nil || !ok || e.FeedID != 7 {
		t.Fatalf("Get = %+v %v %v", e, ok, err)
	}
	if _, ok, err := l.Get(ctx, "b1", 5); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestRedisRecordExpires(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(rdb, time.Second)
	if err := l.Record(context.Background(), "b2", 1, Entry{Status: "sent"}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if mr.Exists("dispatch:b2:1") {
		t.Fatal("expected key to expire")
	}
}

func TestRedisRecordError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	if err := NewRedis(rdb, 0).Record(context.Background(), "b3", 1, Entry{Status: "failed"}); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestOpenWithoutAddrIsNop(t *testing.T) {
	t.Parallel()
	l, closeFn, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := l.(Nop); !ok {
		t.Fatalf("got %T, want Nop", l)
	}
}
