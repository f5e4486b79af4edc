package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

const (
	// DefaultTTL is how long a session may sit idle before it is evicted.
	DefaultTTL = time.Hour
	// DefaultSweepInterval is how often idle sessions are swept.
	DefaultSweepInterval = 5 * time.Minute
)

// Config configures a Store.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Store maps a conversation identity to its session. Sessions idle longer
// than the TTL are dropped lazily on Get and by the periodic sweep.
//
// Callers serialize work on one conversation with Lock; the map itself is
// safe for concurrent use.
type Store struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	locks keyedLock
}

// NewStore creates a Store.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Store{
		ttl:      cfg.TTL,
		interval: cfg.SweepInterval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "session_store")),
		sessions: make(map[string]*Session),
		locks:    keyedLock{locks: make(map[string]*keyLock)},
	}
}

// Lock acquires the conversation lock for chatID. The returned unlock is
// safe to call more than once.
func (s *Store) Lock(ctx context.Context, chatID string) (func(), error) {
	return s.locks.lock(ctx, chatID)
}

// Get returns the live session for chatID. An expired session is deleted and
// reported as absent.
func (s *Store) Get(chatID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, false
	}
	if s.expired(sess) || sess.Flow == nil {
		delete(s.sessions, chatID)
		return nil, false
	}
	return sess, true
}

// Put stores flow as the session for chatID, replacing any prior session,
// and marks it touched.
func (s *Store) Put(chatID string, flow Flow) *Session {
	sess := &Session{ChatID: chatID, Flow: flow, Touched: s.now()}
	s.mu.Lock()
	s.sessions[chatID] = sess
	s.mu.Unlock()
	return sess
}

// Touch refreshes the inactivity timer of the session for chatID. It
// returns domain.ErrNoSession when there is no live session to refresh.
func (s *Store) Touch(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if !ok || sess.Flow == nil || s.expired(sess) {
		return domain.ErrNoSession
	}
	sess.Touched = s.now()
	return nil
}

// Delete removes the session for chatID.
func (s *Store) Delete(chatID string) {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep deletes every session idle longer than the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.InfoContext(ctx, "swept idle sessions", slog.Int("removed", n))
			}
		}
	}
}

func (s *Store) expired(sess *Session) bool {
	return s.now().Sub(sess.Touched) > s.ttl
}

// keyedLock is a set of context-aware mutexes keyed by string. Entries are
// dropped once nobody holds or waits on them.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *keyedLock) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
