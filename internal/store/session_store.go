package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUpdateConflict  = errors.New("conditional update conflict")
)

// conditionalUpdateAttempts bounds optimistic retries against rapid
// consecutive speaker actions on the same session record.
const conditionalUpdateAttempts = 3

// SessionStore persists session records in redis. It is the single
// source of truth for broadcast state across actor restarts.
type SessionStore struct {
	client  *redis.Client
	log     *logger.Logger
	timeout time.Duration
}

// NewSessionStore creates a session store backed by the given client
func NewSessionStore(client *redis.Client, log *logger.Logger, timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SessionStore{client: client, log: log, timeout: timeout}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Get fetches a session record by ID
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Put writes a session record, with expiry enforced by the store
func (s *SessionStore) Put(ctx context.Context, session *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, sessionKey(session.SessionID), data, ttl).Err()
}

// ConditionalUpdate applies mutate to the current session record and
// writes it back only if the record was not modified concurrently,
// using WATCH-based optimistic locking. The version counter increments
// on every successful write. Rapid consecutive speaker actions retry a
// bounded number of times before surfacing ErrUpdateConflict.
func (s *SessionStore) ConditionalUpdate(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error) {
	key := sessionKey(sessionID)

	var updated *models.Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}

		if err := mutate(&session); err != nil {
			return err
		}
		session.Version++

		out, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		ttl := time.Until(session.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Minute
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &session
		return nil
	}

	for attempt := 0; attempt < conditionalUpdateAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.client.Watch(callCtx, txn, key)
		cancel()

		if err == nil {
			return updated, nil
		}
		if err == redis.TxFailedErr {
			s.log.Debug("Session update conflicted, retrying",
				"session_id", sessionID,
				"attempt", attempt+1,
			)
			continue
		}
		return nil, err
	}

	return nil, ErrUpdateConflict
}

// MarkInactive ends a session. The record stays readable until expiry
// so late status queries see isActive=false instead of a missing key.
func (s *SessionStore) MarkInactive(ctx context.Context, sessionID string) error {
	_, err := s.ConditionalUpdate(ctx, sessionID, func(session *models.Session) error {
		session.IsActive = false
		session.Broadcast.IsActive = false
		session.Broadcast.LastStateChange = time.Now()
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}
