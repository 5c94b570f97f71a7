package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-session-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps attempt state in Redis. Retention is native: every key
// is written with the retention TTL, so expired sessions purge themselves.
// The one-active-session invariant is a SET NX on a compound key, and
// Finalize is a WATCH-guarded transaction so two racing submits cannot both
// claim the same session.
type SessionStore struct {
	client    *redis.Client
	retention time.Duration
}

const finalizeRetries = 3

func NewSessionStore(client *redis.Client, retention time.Duration) *SessionStore {
	return &SessionStore{client: client, retention: retention}
}

func (s *SessionStore) Create(ctx context.Context, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.activeKey(sess.UserID, sess.TestID), sess.ID, s.retention).Result()
	if err != nil {
		return fmt.Errorf("reserve active slot: %w", err)
	}
	if !ok {
		return domain.ErrActiveSessionExists
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), payload, s.retention).Err(); err != nil {
		_ = s.client.Del(ctx, s.activeKey(sess.UserID, sess.TestID)).Err()
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(raw)
}

func (s *SessionStore) FindActive(ctx context.Context, userID, testID string) (domain.Session, bool, error) {
	id, err := s.client.Get(ctx, s.activeKey(userID, testID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load active slot: %w", err)
	}

	sess, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Session purged but slot lingered; free the slot.
		_ = s.client.Del(ctx, s.activeKey(userID, testID)).Err()
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	if sess.Completed {
		return domain.Session{}, false, nil
	}
	return sess, true, nil
}

func (s *SessionStore) Finalize(ctx context.Context, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := s.sessionKey(sess.ID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		cur, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if cur.Completed {
			return domain.ErrSessionCompleted
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			pipe.Del(ctx, s.activeKey(sess.UserID, sess.TestID))
			return nil
		})
		return err
	}

	for i := 0; i < finalizeRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("finalize session: %w", err)
}

func (s *SessionStore) Reopen(ctx context.Context, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if err := s.client.SetNX(ctx, s.activeKey(sess.UserID, sess.TestID), sess.ID, s.retention).Err(); err != nil {
		return fmt.Errorf("restore active slot: %w", err)
	}
	return nil
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return "attempt:session:" + sessionID
}

func (s *SessionStore) activeKey(userID, testID string) string {
	return "attempt:active:" + userID + ":" + testID
}

func decodeSession(raw []byte) (domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.Answers == nil {
		sess.Answers = map[int]string{}
	}
	return sess, nil
}
