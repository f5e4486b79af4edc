package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = clock.Now
	return s, clock
}

func TestSweepRemovesOnlyIdleSessions(t *testing.T) {
	s, clock := newTestStore()

	s.Put("old", &CreateMarket{})
	clock.Advance(2 * time.Minute)
	s.Put("fresh", &CreateMarket{})
	clock.Advance(59 * time.Minute)

	// "old" was touched 61 minutes ago, "fresh" 59 minutes ago.
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := s.Get("old"); ok {
		t.Fatal("session idle for 61 minutes survived the sweep")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("session idle for 59 minutes was removed")
	}
}

func TestGetExpiresLazily(t *testing.T) {
	s, clock := newTestStore()
	s.Put("c1", &Withdraw{})
	clock.Advance(61 * time.Minute)

	if _, ok := s.Get("c1"); ok {
		t.Fatal("Get() returned an expired session")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after lazy expiry", s.Len())
	}
}

func TestTouchExtendsLifetime(t *testing.T) {
	s, clock := newTestStore()
	s.Put("c1", &CreateMarket{})
	clock.Advance(50 * time.Minute)
	if err := s.Touch("c1"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	clock.Advance(50 * time.Minute)

	if _, ok := s.Get("c1"); !ok {
		t.Fatal("touched session expired")
	}
}

func TestTouchWithoutLiveSession(t *testing.T) {
	s, clock := newTestStore()
	if err := s.Touch("missing"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("Touch(missing) error = %v, want ErrNoSession", err)
	}

	s.Put("c1", &CreateMarket{})
	clock.Advance(61 * time.Minute)
	if err := s.Touch("c1"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("Touch(expired) error = %v, want ErrNoSession", err)
	}
	if _, ok := s.Get("c1"); ok {
		t.Fatal("Touch revived an expired session")
	}
}

func TestPutReplacesPriorSession(t *testing.T) {
	s, _ := newTestStore()
	s.Put("c1", &CreateMarket{Step: StepTags})
	s.Put("c1", &Withdraw{})

	sess, ok := s.Get("c1")
	if !ok {
		t.Fatal("session missing")
	}
	if sess.Flow.Action() != ActionWithdraw {
		t.Fatalf("Action() = %s, want withdraw", sess.Flow.Action())
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestSessionWithoutFlowIsAbsent(t *testing.T) {
	s, _ := newTestStore()
	s.Put("c1", nil)
	if _, ok := s.Get("c1"); ok {
		t.Fatal("session without a flow reported present")
	}
}

func TestLockSerializesConversation(t *testing.T) {
	s, _ := newTestStore()

	unlock, err := s.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Another conversation is unaffected.
	other, err := s.Lock(context.Background(), "c2")
	if err != nil {
		t.Fatalf("Lock(c2) error = %v", err)
	}
	other()

	acquired := make(chan struct{})
	go func() {
		u, err := s.Lock(context.Background(), "c1")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock() acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock() // idempotent

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock() never acquired")
	}
}

func TestLockHonoursContext(t *testing.T) {
	s, _ := newTestStore()
	unlock, _ := s.Lock(context.Background(), "c1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want deadline exceeded", err)
	}
}

func TestToggleTagIsIdempotentPair(t *testing.T) {
	c := &CreateMarket{SelectedTags: []string{"Sports"}}
	c.ToggleTag("Crypto")
	c.ToggleTag("Crypto")
	if len(c.SelectedTags) != 1 || c.SelectedTags[0] != "Sports" {
		t.Fatalf("SelectedTags = %v, want [Sports]", c.SelectedTags)
	}

	c.ToggleTag("Crypto")
	c.ToggleTag("Finance")
	c.ToggleTag("Sports")
	c.FreezeTags()
	if c.Tags != "Crypto,Finance" {
		t.Fatalf("Tags = %q, want Crypto,Finance", c.Tags)
	}
}
