// Package redis provides a Redis-backed SessionStore for multi-instance
// deployments. Sessions are stored as JSON values with TTLs derived from the
// session expiry; nonces live under their own keys so consumption can use an
// atomic GETDEL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/rivermead/fedauth/storage"
)

const defaultKeyPrefix = "fedauth"

// Store is a Redis-backed implementation of storage.SessionStore.
type Store struct {
	client *rdb.Client
	prefix string
	logger *slog.Logger
}

var _ storage.SessionStore = (*Store)(nil)

// Options configures the Redis session store.
type Options struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces all keys written by this store.
	// Default: "fedauth".
	KeyPrefix string

	// Logger for structured logging (nil uses the default logger).
	Logger *slog.Logger
}

// New creates a Redis session store and verifies connectivity.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := rdb.NewClient(&rdb.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *Store) stateKey(state string) string {
	return s.prefix + ":state:" + state
}
func (s *Store) nonceKey(sessionID string) string { return s.prefix + ":nonce:" + sessionID }

// sessionTTL derives the key TTL from the session expiry. Sessions without
// an expiry fall back to 10 minutes so abandoned flows cannot accumulate.
func sessionTTL(session *storage.Session) time.Duration {
	if session.ExpiresAt.IsZero() {
		return 10 * time.Minute
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

// SaveSession persists a new session and its state index entry.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("redis: invalid session")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}

	ttl := sessionTTL(session)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(session.ID), data, ttl)
	if session.State != "" {
		pipe.Set(ctx, s.stateKey(session.State), session.ID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save session: %w", err)
	}

	s.logger.Debug("Saved session", "session_id", session.ID, "ttl", ttl)
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: get session: %w", err)
	}

	var session storage.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("redis: unmarshal session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, storage.ErrSessionNotFound
	}
	return &session, nil
}

// GetSessionByState retrieves a session by its state parameter.
func (s *Store) GetSessionByState(ctx context.Context, state string) (*storage.Session, error) {
	id, err := s.client.Get(ctx, s.stateKey(state)).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: get state index: %w", err)
	}
	return s.GetSession(ctx, id)
}

// UpdateSession overwrites an existing session, preserving its remaining TTL
// semantics by recomputing from the session expiry.
func (s *Store) UpdateSession(ctx context.Context, session *storage.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("redis: invalid session")
	}

	exists, err := s.client.Exists(ctx, s.sessionKey(session.ID)).Result()
	if err != nil {
		return fmt.Errorf("redis: check session: %w", err)
	}
	if exists == 0 {
		return storage.ErrSessionNotFound
	}
	return s.SaveSession(ctx, session)
}

// DeleteSession removes a session, its state index entry, and any nonce.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return err
	}

	keys := []string{s.sessionKey(id), s.nonceKey(id)}
	if session != nil && session.State != "" {
		keys = append(keys, s.stateKey(session.State))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// StoreNonce writes a nonce bound to a session with the given TTL.
func (s *Store) StoreNonce(ctx context.Context, sessionID, nonce string, ttl time.Duration) error {
	if sessionID == "" || nonce == "" {
		return fmt.Errorf("redis: invalid nonce")
	}
	if err := s.client.Set(ctx, s.nonceKey(sessionID), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("redis: store nonce: %w", err)
	}
	return nil
}

// ConsumeNonce atomically reads and deletes the nonce for a session using
// GETDEL, so concurrent callbacks cannot both observe the same nonce.
func (s *Store) ConsumeNonce(ctx context.Context, sessionID string) (string, error) {
	nonce, err := s.client.GetDel(ctx, s.nonceKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return "", storage.ErrNonceNotFound
		}
		return "", fmt.Errorf("redis: consume nonce: %w", err)
	}
	return nonce, nil
}
