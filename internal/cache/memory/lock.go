package memory

import (
	"context"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// LockManager is a process-local domain.LockManager with expiring holds.
type LockManager struct {
	now func() time.Time

	mu    sync.Mutex
	held  map[string]hold
	nextN uint64
}

type hold struct {
	n       uint64
	expires time.Time
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{now: time.Now, held: make(map[string]hold)}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if h, ok := lm.held[key]; ok && now.Before(h.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.nextN++
	n := lm.nextN
	lm.held[key] = hold{n: n, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if h, ok := lm.held[key]; ok && h.n == n {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
