package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type storeFactory func(t *testing.T) Store

func drivers(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
	}
	if dsn := os.Getenv("RSSBOT_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			ctx := context.Background()
			ps := st.(*pgStore)
			if _, err := ps.pool.Exec(ctx, `TRUNCATE subscribes, users`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return st
		}
	}
	return out
}

func ids(rs []feed.Recipient) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func mustSubscribe(t *testing.T, st Store, user, feedID int64) {
	t.Helper()
	if err := st.Subscribe(context.Background(), user, feedID); err != nil {
		t.Fatalf("Subscribe(%d, %d): %v", user, feedID, err)
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("subscribers ordered and idempotent", func(t *testing.T) {
				st := open(t)
				defer st.Close()
				mustSubscribe(t, st, 30, 1)
				mustSubscribe(t, st, 10, 1)
				mustSubscribe(t, st, 10, 1)
				mustSubscribe(t, st, 20, 2)

				got, err := st.SubscribersOf(ctx, 1)
				if err != nil {
					t.Fatalf("SubscribersOf: %v", err)
				}
				if want := []int64{10, 30}; !reflect.DeepEqual(ids(got), want) {
					t.Fatalf("subscribers = %v, want %v", ids(got), want)
				}
				none, err := st.SubscribersOf(ctx, 99)
				if err != nil || len(none) != 0 {
					t.Fatalf("unknown feed: %v %v", none, err)
				}
			})

			t.Run("unsubscribe all keeps user", func(t *testing.T) {
				st := open(t)
				defer st.Close()
				mustSubscribe(t, st, 5, 1)
				mustSubscribe(t, st, 5, 2)
				mustSubscribe(t, st, 6, 1)

				for i := 0; i < 2; i++ {
					if err := st.UnsubscribeAll(ctx, 5); err != nil {
						t.Fatalf("UnsubscribeAll: %v", err)
					}
				}
				got, _ := st.SubscribersOf(ctx, 1)
				if want := []int64{6}; !reflect.DeepEqual(ids(got), want) {
					t.Fatalf("feed 1 = %v, want %v", ids(got), want)
				}
				got, _ = st.SubscribersOf(ctx, 2)
				if len(got) != 0 {
					t.Fatalf("feed 2 = %v, want empty", ids(got))
				}
				if _, ok, err := st.LookupUser(ctx, 5); err != nil || !ok {
					t.Fatalf("user row should remain: ok=%v err=%v", ok, err)
				}
			})

			t.Run("migrate moves user and subscriptions", func(t *testing.T) {
				st := open(t)
				defer st.Close()
				mustSubscribe(t, st, -100, 1)
				mustSubscribe(t, st, -100, 2)
				mustSubscribe(t, st, 7, 1)

				for i := 0; i < 2; i++ {
					if err := st.Migrate(ctx, -100, -1001234); err != nil {
						t.Fatalf("Migrate: %v", err)
					}
				}
				if _, ok, _ := st.LookupUser(ctx, -100); ok {
					t.Fatal("old id should be gone")
				}
				r, ok, err := st.LookupUser(ctx, -1001234)
				if err != nil || !ok || r.ID != -1001234 {
					t.Fatalf("new id lookup: %+v %v %v", r, ok, err)
				}
				got, _ := st.SubscribersOf(ctx, 1)
				if want := []int64{-1001234, 7}; !reflect.DeepEqual(ids(got), want) {
					t.Fatalf("feed 1 = %v, want %v", ids(got), want)
				}
				got, _ = st.SubscribersOf(ctx, 2)
				if want := []int64{-1001234}; !reflect.DeepEqual(ids(got), want) {
					t.Fatalf("feed 2 = %v, want %v", ids(got), want)
				}
			})

			t.Run("closed store is unavailable", func(t *testing.T) {
				st := open(t)
				_ = st.Close()
				if _, err := st.SubscribersOf(ctx, 1); !errors.Is(err, ErrUnavailable) {
					t.Fatalf("err = %v, want ErrUnavailable", err)
				}
			})
		})
	}
}

func TestFileStoreReplaysAfterReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustSubscribe(t, st, 1, 10)
	mustSubscribe(t, st, 2, 10)
	if err := st.Migrate(ctx, 2, 3); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Drop the journal handle without compacting to force a replay.
	fs := st.(*fileStore)
	_ = fs.journal.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, _ := st2.SubscribersOf(ctx, 10)
	if want := []int64{1, 3}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("after replay = %v, want %v", ids(got), want)
	}

	if err := st2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st3, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen after compact: %v", err)
	}
	defer st3.Close()
	got, _ = st3.SubscribersOf(ctx, 10)
	if want := []int64{1, 3}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("after snapshot = %v, want %v", ids(got), want)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
