package memory

import (
	"context"
	"log"
	"sync"
	"time"

	"exam-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore, used for
// tests and config-less dev runs. A single mutex gives it the same
// conditional-write semantics the Redis store gets from SET NX and WATCH.
type SessionStore struct {
	retention time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	sessions map[string]domain.Session
	active   map[string]string // (userID,testID) -> sessionID
}

func NewSessionStore(retention time.Duration) *SessionStore {
	return NewSessionStoreWithClock(retention, time.Now)
}

// NewSessionStoreWithClock allows deterministic timestamps in tests.
func NewSessionStoreWithClock(retention time.Duration, clock func() time.Time) *SessionStore {
	return &SessionStore{
		retention: retention,
		clock:     clock,
		sessions:  make(map[string]domain.Session),
		active:    make(map[string]string),
	}
}

func (s *SessionStore) Create(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	key := activeKey(sess.UserID, sess.TestID)
	if id, ok := s.active[key]; ok {
		if cur, live := s.sessions[id]; live && !cur.Completed {
			return domain.ErrActiveSessionExists
		}
	}
	s.sessions[sess.ID] = cloneSession(sess)
	s.active[key] = sess.ID
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) FindActive(_ context.Context, userID, testID string) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	id, ok := s.active[activeKey(userID, testID)]
	if !ok {
		return domain.Session{}, false, nil
	}
	sess, live := s.sessions[id]
	if !live || sess.Completed {
		return domain.Session{}, false, nil
	}
	return cloneSession(sess), true, nil
}

func (s *SessionStore) Finalize(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if cur.Completed {
		return domain.ErrSessionCompleted
	}
	s.sessions[sess.ID] = cloneSession(sess)
	delete(s.active, activeKey(sess.UserID, sess.TestID))
	return nil
}

func (s *SessionStore) Reopen(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[sess.ID] = cloneSession(sess)
	s.active[activeKey(sess.UserID, sess.TestID)] = sess.ID
	return nil
}

// Sweep drops sessions past the retention window. Deleting an already-gone
// entry is a no-op, so overlapping sweeps are harmless.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked()
}

// RunSweeper runs the retention purge until ctx is canceled.
func (s *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("session sweep removed %d expired sessions", n)
			}
		}
	}
}

func (s *SessionStore) purgeLocked() int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := s.clock().Add(-s.retention)
	removed := 0
	for id, sess := range s.sessions {
		if sess.StartTime.Before(cutoff) {
			delete(s.sessions, id)
			key := activeKey(sess.UserID, sess.TestID)
			if s.active[key] == id {
				delete(s.active, key)
			}
			removed++
		}
	}
	return removed
}

func activeKey(userID, testID string) string {
	return userID + "|" + testID
}

func cloneSession(sess domain.Session) domain.Session {
	answers := make(map[int]string, len(sess.Answers))
	for k, v := range sess.Answers {
		answers[k] = v
	}
	sess.Answers = answers
	if sess.Score != nil {
		score := *sess.Score
		sess.Score = &score
	}
	if sess.EndTime != nil {
		end := *sess.EndTime
		sess.EndTime = &end
	}
	return sess
}
