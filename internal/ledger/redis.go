package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 7 * 24 * time.Hour

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis stores entries under dispatch:{batch}:{recipient} with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Open connects to cfg.Addr and pings it. An empty address yields Nop.
func Open(ctx context.Context, cfg Config) (Ledger, func() error, error) {
	if cfg.Addr == "" {
		return Nop{}, func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ledger redis ping: %w", err)
	}
	return NewRedis(rdb, cfg.TTL), rdb.Close, nil
}

func Key(batchID string, recipientID int64) string {
	return fmt.Sprintf("dispatch:%s:%d", batchID, recipientID)
}

func (l *Redis) Record(ctx context.Context, batchID string, recipientID int64, e Entry) error {
	if l == nil || l.rdb == nil {
		return errors.New("ledger not configured")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, Key(batchID, recipientID), b, l.ttl).Err()
}

// Get reads back an entry; ok is false when the key is missing or expired.
func (l *Redis) Get(ctx context.Context, batchID string, recipientID int64) (Entry, bool, error) {
	raw, err := l.rdb.Get(ctx, Key(batchID, recipientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}
