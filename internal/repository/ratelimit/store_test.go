package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db/memory"
)

func TestIncr_CountsWithinWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := memory.NewStore().WithClock(func() time.Time { return now })
	st := New(s)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := st.Incr(ctx, "caller:1", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != want {
			t.Fatalf("count = %d, want %d", n, want)
		}
	}

	now = now.Add(61 * time.Second)
	n, err := st.Incr(ctx, "caller:1", time.Minute)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if n != 1 {
		t.Errorf("counter must reset once the window expires, got %d", n)
	}
}

type failingStore struct {
	incrErr, expireErr error
}

func (f *failingStore) IncrBy(context.Context, string, int64) (int64, error) { return 1, f.incrErr }

func (f *failingStore) Expire(context.Context, string, time.Duration, bool) error { return f.expireErr }

func TestIncr_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		store *failingStore
		op    string
	}{
		{"incr fails", &failingStore{incrErr: boom}, "INCRBY"},
		{"expire fails", &failingStore{expireErr: boom}, "EXPIRE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.store).Incr(context.Background(), "k", time.Second)
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped boom, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.op) {
				t.Errorf("error %q does not name %s", err, tt.op)
			}
		})
	}
}
