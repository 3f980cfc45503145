package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

//go:embed postgres.sql
var postgresSchema string

const (
	pgConnectAttempts = 3
	pgRetryInterval   = time.Second
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	for i := range pgConnectAttempts {
		pool, err = pgxpool.NewWithConfig(ctx, pcfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
			pool = nil
		}
		log.Warn("postgres connect failed", logx.Int("attempt", i+1), logx.Err(err))
		time.Sleep(time.Duration(i+1) * pgRetryInterval)
	}
	if pool == nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened")
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *pgStore) SubscribersOf(ctx context.Context, feedID int64) ([]feed.Recipient, error) {
	if s == nil || s.pool == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM subscribes WHERE feed_id = $1 ORDER BY user_id`, feedID)
	if err != nil {
		return nil, unavailable(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]feed.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, feed.Recipient{ID: id})
	}
	return out, nil
}

func (s *pgStore) LookupUser(ctx context.Context, id int64) (feed.Recipient, bool, error) {
	if s == nil || s.pool == nil {
		return feed.Recipient{}, false, ErrUnavailable
	}
	var r feed.Recipient
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM users WHERE user_id = $1`, id).Scan(&r.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Recipient{}, false, nil
	}
	if err != nil {
		return feed.Recipient{}, false, err
	}
	return r, true, nil
}

func (s *pgStore) UnsubscribeAll(ctx context.Context, userID int64) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM subscribes WHERE user_id = $1`, userID)
	return err
}

func (s *pgStore) Subscribe(ctx context.Context, userID, feedID int64) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users(user_id) VALUES($1) ON CONFLICT DO NOTHING`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO subscribes(feed_id, user_id) VALUES($1, $2) ON CONFLICT DO NOTHING`, feedID, userID)
		return err
	})
}

func (s *pgStore) Migrate(ctx context.Context, from, to int64) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	if from == to {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users(user_id) SELECT $1 WHERE EXISTS (SELECT 1 FROM users WHERE user_id = $2) ON CONFLICT DO NOTHING`,
			to, from); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO subscribes(feed_id, user_id) SELECT feed_id, $1 FROM subscribes WHERE user_id = $2 ON CONFLICT DO NOTHING`,
			to, from); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM subscribes WHERE user_id = $1`, from); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, from)
		return err
	})
}
