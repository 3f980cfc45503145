package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps subscriptions in memory and, when backed by files,
// persists them as:
//   - <prefix>.subs.snapshot.json (periodic snapshot)
//   - <prefix>.subs.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. Without files
// it is a plain in-memory store.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool
	state  subState

	snapshotPath string
	journal      *os.File
	writes       int
}

type subState struct {
	Users map[int64]struct{}           `json:"-"`
	Subs  map[int64]map[int64]struct{} `json:"-"` // feed -> users
}

type snapshot struct {
	Users []int64           `json:"users"`
	Subs  map[int64][]int64 `json:"subs"`
}

type journalOp string

const (
	opSubscribe      journalOp = "subscribe"
	opUnsubscribeAll journalOp = "unsubscribe_all"
	opMigrate        journalOp = "migrate"
)

type journalRecord struct {
	Op   journalOp `json:"op"`
	User int64     `json:"user,omitempty"`
	Feed int64     `json:"feed,omitempty"`
	From int64     `json:"from,omitempty"`
	To   int64     `json:"to,omitempty"`
}

// NewMemory returns a store that lives only in memory.
func NewMemory() Store {
	return &fileStore{log: logx.Nop(), state: newSubState()}
}

func newSubState() subState {
	return subState{Users: map[int64]struct{}{}, Subs: map[int64]map[int64]struct{}{}}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".subs.snapshot.json"
	journalPath := prefix + ".subs.journal.jsonl"

	st := newSubState()
	if err := loadSnapshot(snapPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("subscription snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("subscription journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:          log,
		state:        st,
		snapshotPath: snapPath,
		journal:      jf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) SubscribersOf(ctx context.Context, feedID int64) ([]feed.Recipient, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	users := s.state.Subs[feedID]
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]feed.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, feed.Recipient{ID: id})
	}
	return out, nil
}

func (s *fileStore) LookupUser(ctx context.Context, id int64) (feed.Recipient, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return feed.Recipient{}, false, ErrUnavailable
	}
	if _, ok := s.state.Users[id]; !ok {
		return feed.Recipient{}, false, nil
	}
	return feed.Recipient{ID: id}, true, nil
}

func (s *fileStore) Subscribe(ctx context.Context, userID, feedID int64) error {
	return s.apply(ctx, journalRecord{Op: opSubscribe, User: userID, Feed: feedID})
}

func (s *fileStore) UnsubscribeAll(ctx context.Context, userID int64) error {
	return s.apply(ctx, journalRecord{Op: opUnsubscribeAll, User: userID})
}

func (s *fileStore) Migrate(ctx context.Context, from, to int64) error {
	if from == to {
		return nil
	}
	return s.apply(ctx, journalRecord{Op: opMigrate, From: from, To: to})
}

func (s *fileStore) apply(ctx context.Context, r journalRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	if s.journal != nil {
		if err := json.NewEncoder(s.journal).Encode(r); err != nil {
			return err
		}
	}
	s.state.apply(r)
	if s.journal == nil {
		return nil
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("subscription compact failed", logx.Err(err))
		}
	}
	return nil
}

func (st *subState) apply(r journalRecord) {
	switch r.Op {
	case opSubscribe:
		st.Users[r.User] = struct{}{}
		users := st.Subs[r.Feed]
		if users == nil {
			users = map[int64]struct{}{}
			st.Subs[r.Feed] = users
		}
		users[r.User] = struct{}{}
	case opUnsubscribeAll:
		for fid, users := range st.Subs {
			delete(users, r.User)
			if len(users) == 0 {
				delete(st.Subs, fid)
			}
		}
	case opMigrate:
		if _, ok := st.Users[r.From]; ok {
			delete(st.Users, r.From)
			st.Users[r.To] = struct{}{}
		}
		for _, users := range st.Subs {
			if _, ok := users[r.From]; ok {
				delete(users, r.From)
				users[r.To] = struct{}{}
			}
		}
	}
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil || s.snapshotPath == "" {
		return nil
	}
	snap := snapshot{Users: make([]int64, 0, len(s.state.Users)), Subs: make(map[int64][]int64, len(s.state.Subs))}
	for id := range s.state.Users {
		snap.Users = append(snap.Users, id)
	}
	for fid, users := range s.state.Subs {
		ids := make([]int64, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		snap.Subs[fid] = ids
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *subState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, id := range snap.Users {
		st.Users[id] = struct{}{}
	}
	for fid, ids := range snap.Subs {
		users := map[int64]struct{}{}
		for _, id := range ids {
			users[id] = struct{}{}
		}
		st.Subs[fid] = users
	}
	return nil
}

func replayJournal(path string, st *subState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Op == "" {
			continue
		}
		st.apply(r)
	}
	return sc.Err()
}
