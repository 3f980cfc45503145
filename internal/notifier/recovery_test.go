package notifier

import (
	"context"
	"errors"
	"testing"

	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

func TestRecoveryHandle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		err         error
		deleteOnErr bool
		known       []int64
		mutateErr   error
		want        Decision
		wantUnsub   []int64
		wantMigrate [][2]int64
	}{
		{
			name:        "blocked with delete",
			err:         blocked(),
			deleteOnErr: true,
			want:        Decision{Kind: kit.KindChatUnreachable},
			wantUnsub:   []int64{5},
		},
		{
			name: "blocked without delete",
			err:  blocked(),
			want: Decision{Kind: kit.KindChatUnreachable},
		},
		{
			name:        "chat not found",
			err:         &kit.SendError{Code: 400, Description: "Bad Request: chat not found"},
			deleteOnErr: true,
			want:        Decision{Kind: kit.KindChatUnreachable},
			wantUnsub:   []int64{5},
		},
		{
			name:        "upgraded to new chat",
			err:         upgraded(-1009),
			want:        Decision{Kind: kit.KindGroupUpgraded, Retry: true, RetryTo: -1009},
			wantMigrate: [][2]int64{{5, -1009}},
		},
		{
			name:      "upgraded to known chat",
			err:       upgraded(-1009),
			known:     []int64{-1009},
			want:      Decision{Kind: kit.KindGroupUpgraded},
			wantUnsub: []int64{5},
		},
		{
			name: "upgraded without target",
			err:  &kit.SendError{Code: 400, Description: kit.DescGroupUpgraded},
			want: Decision{Kind: kit.KindGroupUpgraded},
		},
		{
			name:        "migrate failure still retries",
			err:         upgraded(-1009),
			mutateErr:   errors.New("disk full"),
			want:        Decision{Kind: kit.KindGroupUpgraded, Retry: true, RetryTo: -1009},
			wantMigrate: [][2]int64{{5, -1009}},
		},
		{
			name:        "unsubscribe failure is swallowed",
			err:         blocked(),
			deleteOnErr: true,
			mutateErr:   errors.New("disk full"),
			want:        Decision{Kind: kit.KindChatUnreachable},
			wantUnsub:   []int64{5},
		},
		{
			name:        "unclassified",
			err:         errOther,
			deleteOnErr: true,
			want:        Decision{Kind: kit.KindUnclassified},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newFakeStore()
			st.mutateErr = tt.mutateErr
			for _, id := range tt.known {
				st.users[id] = true
			}
			r := NewRecovery(st, tt.deleteOnErr, logx.Nop())
			got := r.Handle(context.Background(), 5, tt.err)
			if got != tt.want {
				t.Fatalf("decision = %+v, want %+v", got, tt.want)
			}
			if len(st.unsubscribe) != len(tt.wantUnsub) {
				t.Fatalf("unsubscribe = %v, want %v", st.unsubscribe, tt.wantUnsub)
			}
			for i := range tt.wantUnsub {
				if st.unsubscribe[i] != tt.wantUnsub[i] {
					t.Fatalf("unsubscribe = %v, want %v", st.unsubscribe, tt.wantUnsub)
				}
			}
			if len(st.migrations) != len(tt.wantMigrate) {
				t.Fatalf("migrations = %v, want %v", st.migrations, tt.wantMigrate)
			}
			for i := range tt.wantMigrate {
				if st.migrations[i] != tt.wantMigrate[i] {
					t.Fatalf("migrations = %v, want %v", st.migrations, tt.wantMigrate)
				}
			}
		})
	}
}

func TestRecoverySetDeleteOnErr(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	r := NewRecovery(st, false, logx.Nop())
	r.Handle(context.Background(), 1, blocked())
	r.SetDeleteOnErr(true)
	r.Handle(context.Background(), 1, blocked())
	if len(st.unsubscribe) != 1 {
		t.Fatalf("unsubscribe calls = %d, want 1", len(st.unsubscribe))
	}
}
