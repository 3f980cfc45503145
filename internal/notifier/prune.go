package notifier

import (
	"cmp"
	"slices"
	"time"
)

// Status entries are kept for at most defaultStatusTTL and at most
// defaultStatusMax of them; unfinished batches are evicted last.
const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// lastTouched is when a batch finished, or when it was queued if it has not.
func lastTouched(st *BatchStatus) time.Time {
	if !st.DoneAt.IsZero() {
		return st.DoneAt
	}
	return st.CreatedAt
}

func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	limit := cmp.Or(max(s.statusMax, 0), defaultStatusMax)
	ttl := cmp.Or(max(s.statusTTL, 0), defaultStatusTTL)

	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		if t := lastTouched(st); !t.IsZero() && now.Sub(t) > ttl {
			delete(s.status, id)
		}
	}
	excess := len(s.status) - limit
	if excess <= 0 {
		return
	}

	ids := make([]string, 0, len(s.status))
	for id := range s.status {
		ids = append(ids, id)
	}
	// finished before unfinished, then oldest first
	slices.SortFunc(ids, func(a, b string) int {
		x, y := s.status[a], s.status[b]
		if xd, yd := !x.DoneAt.IsZero(), !y.DoneAt.IsZero(); xd != yd {
			if xd {
				return -1
			}
			return 1
		}
		return lastTouched(x).Compare(lastTouched(y))
	})
	for _, id := range ids[:excess] {
		delete(s.status, id)
	}
}
