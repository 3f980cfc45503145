package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SubscribersOf(ctx context.Context, feedID int64) ([]feed.Recipient, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscribes WHERE feed_id = ? ORDER BY user_id`, feedID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []feed.Recipient
	for rows.Next() {
		var r feed.Recipient
		if err := rows.Scan(&r.ID); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *sqliteStore) LookupUser(ctx context.Context, id int64) (feed.Recipient, bool, error) {
	if s == nil || s.db == nil {
		return feed.Recipient{}, false, ErrUnavailable
	}
	var r feed.Recipient
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM users WHERE user_id = ?`, id).Scan(&r.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Recipient{}, false, nil
	}
	if err != nil {
		return feed.Recipient{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) UnsubscribeAll(ctx context.Context, userID int64) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribes WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) Subscribe(ctx context.Context, userID, feedID int64) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(user_id) VALUES(?)`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO subscribes(feed_id, user_id) VALUES(?, ?)`, feedID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate rewrites from -> to. Subscriptions the target already has are
// dropped instead of duplicated; running it twice is a no-op.
func (s *sqliteStore) Migrate(ctx context.Context, from, to int64) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if from == to {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT OR IGNORE INTO users(user_id) SELECT ? WHERE EXISTS (SELECT 1 FROM users WHERE user_id = ?)`, []any{to, from}},
		{`UPDATE OR IGNORE subscribes SET user_id = ? WHERE user_id = ?`, []any{to, from}},
		{`DELETE FROM subscribes WHERE user_id = ?`, []any{from}},
		{`DELETE FROM users WHERE user_id = ?`, []any{from}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
