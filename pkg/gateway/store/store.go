// Package store is the session store: a TTL cache of interview sessions that
// falls through to the upstream backend on a miss.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// DefaultTTL is the sliding lifetime of a cached session.
const DefaultTTL = time.Hour

// Fetcher loads session metadata from the upstream backend and returns a
// fresh session with empty history.
type Fetcher interface {
	FetchSession(ctx context.Context, id string) (types.Session, error)
}

type Config struct {
	Cache   Cache
	Fetcher Fetcher
	TTL     time.Duration
	Logger  *slog.Logger
	// OnDegraded is called when an upstream failure forces a minimal session.
	OnDegraded func(id string, err error)
}

// Store serves sessions from the cache and rebuilds them from the backend on a
// miss. Concurrent misses for the same id share one backend fetch.
type Store struct {
	cache      Cache
	fetcher    Fetcher
	ttl        time.Duration
	logger     *slog.Logger
	onDegraded func(id string, err error)
	loads      singleflight.Group
}

func New(cfg Config) *Store {
	s := &Store{
		cache:      cfg.Cache,
		fetcher:    cfg.Fetcher,
		ttl:        cfg.TTL,
		logger:     cfg.Logger,
		onDegraded: cfg.OnDegraded,
	}
	if s.cache == nil {
		s.cache = NewMemoryCache()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Key returns the cache key for a session id.
func Key(id string) string {
	return "session:" + id
}

// Get returns the cached session, or loads it from the backend and caches it.
// It never fails: cache errors are treated as misses and backend failures
// produce a degraded session that is returned but not cached.
func (s *Store) Get(ctx context.Context, id string) types.Session {
	if sess, ok := s.lookup(ctx, id); ok {
		return sess
	}

	v, _, _ := s.loads.Do(id, func() (any, error) {
		// Another caller may have filled the cache while this one waited.
		if sess, ok := s.lookup(ctx, id); ok {
			return sess, nil
		}
		return s.load(context.WithoutCancel(ctx), id), nil
	})
	return v.(types.Session).Clone()
}

// Put writes sess under its id and refreshes the TTL.
func (s *Store) Put(ctx context.Context, sess types.Session) error {
	if sess.SessionID == "" {
		return errors.New("store: session id is required")
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.SessionID, err)
	}
	if err := s.cache.Set(ctx, Key(sess.SessionID), b, s.ttl); err != nil {
		return fmt.Errorf("put session %s: %w", sess.SessionID, err)
	}
	return nil
}

// Delete removes the cached copy. The upstream record is untouched.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, Key(id)); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Update applies fn to the current session and writes the result back. The
// caller guarantees at most one Update per session id is in flight.
func (s *Store) Update(ctx context.Context, id string, fn func(types.Session) (types.Session, error)) (types.Session, error) {
	cur := s.Get(ctx, id)
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	next.SessionID = id
	if err := s.Put(ctx, next); err != nil {
		return next, err
	}
	return next, nil
}

// AddAnswer attaches text to the open turn, or appends an answer-only turn.
func (s *Store) AddAnswer(ctx context.Context, id, text string, at time.Time) (types.Session, error) {
	return s.Update(ctx, id, func(sess types.Session) (types.Session, error) {
		sess.AttachAnswer(text, at)
		return sess, nil
	})
}

// AddQuestion appends a new turn holding text and marks it current.
func (s *Store) AddQuestion(ctx context.Context, id, text string, at time.Time) (types.Session, error) {
	return s.Update(ctx, id, func(sess types.Session) (types.Session, error) {
		sess.AppendQuestion(text, at)
		return sess, nil
	})
}

func (s *Store) lookup(ctx context.Context, id string) (types.Session, bool) {
	b, err := s.cache.Get(ctx, Key(id))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("session cache read failed", "session_id", id, "op", "cache_get", "error", err)
		}
		return types.Session{}, false
	}
	var sess types.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		s.logger.Warn("cached session is corrupt, reloading", "session_id", id, "op", "cache_get", "error", err)
		return types.Session{}, false
	}
	return sess, true
}

func (s *Store) load(ctx context.Context, id string) types.Session {
	if s.fetcher == nil {
		return s.degraded(id, errors.New("no upstream configured"))
	}
	sess, err := s.fetcher.FetchSession(ctx, id)
	if err != nil {
		return s.degraded(id, err)
	}
	sess.SessionID = id
	if sess.ConversationHistory == nil {
		sess.ConversationHistory = []types.Turn{}
	}
	if err := s.Put(ctx, sess); err != nil {
		s.logger.Warn("session cache write failed", "session_id", id, "op", "cache_set", "error", err)
	}
	return sess
}

func (s *Store) degraded(id string, err error) types.Session {
	s.logger.Error("session metadata unavailable, continuing degraded", "session_id", id, "op", "fetch_session", "error", err)
	if s.onDegraded != nil {
		s.onDegraded(id, err)
	}
	sess := types.NewSession(id)
	sess.Degraded = true
	return sess
}
